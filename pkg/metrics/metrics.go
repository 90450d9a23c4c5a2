package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures counters, gauges and histograms.
type Collector interface {
	IncCounter(name string, labels map[string]string, delta float64)
	SetGauge(name string, labels map[string]string, value float64)
	ObserveHistogram(name string, labels map[string]string, value float64)
}

// Noop discards every sample.
type Noop struct{}

func (Noop) IncCounter(string, map[string]string, float64)       {}
func (Noop) SetGauge(string, map[string]string, float64)         {}
func (Noop) ObserveHistogram(string, map[string]string, float64) {}

// Prometheus registers one vector per metric name on first use. The label set
// of a name is fixed by its first sample; later samples with other label
// names are dropped and counted in Dropped.
type Prometheus struct {
	reg prometheus.Registerer

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelSets  map[string]string
	dropped    prometheus.Counter
}

func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		reg:        reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelSets:  make(map[string]string),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trustkv_metrics_dropped_total",
			Help: "Samples dropped because their label set did not match the metric.",
		}),
	}
	reg.MustRegister(p.dropped)
	return p
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// checkLabels pins the label set of name; callers hold p.mu.
func (p *Prometheus) checkLabels(name string, names []string) bool {
	key := strings.Join(names, ",")
	if prev, ok := p.labelSets[name]; ok {
		return prev == key
	}
	p.labelSets[name] = key
	return true
}

func (p *Prometheus) IncCounter(name string, labels map[string]string, delta float64) {
	names := labelNames(labels)

	p.mu.Lock()
	if !p.checkLabels(name, names) {
		p.mu.Unlock()
		p.dropped.Inc()
		return
	}
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, names)
		if err := p.reg.Register(vec); err != nil {
			p.mu.Unlock()
			p.dropped.Inc()
			return
		}
		p.counters[name] = vec
	}
	p.mu.Unlock()

	vec.With(labels).Add(delta)
}

func (p *Prometheus) SetGauge(name string, labels map[string]string, value float64) {
	names := labelNames(labels)

	p.mu.Lock()
	if !p.checkLabels(name, names) {
		p.mu.Unlock()
		p.dropped.Inc()
		return
	}
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help(name)}, names)
		if err := p.reg.Register(vec); err != nil {
			p.mu.Unlock()
			p.dropped.Inc()
			return
		}
		p.gauges[name] = vec
	}
	p.mu.Unlock()

	vec.With(labels).Set(value)
}

func (p *Prometheus) ObserveHistogram(name string, labels map[string]string, value float64) {
	names := labelNames(labels)

	p.mu.Lock()
	if !p.checkLabels(name, names) {
		p.mu.Unlock()
		p.dropped.Inc()
		return
	}
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help(name),
			Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
		}, names)
		if err := p.reg.Register(vec); err != nil {
			p.mu.Unlock()
			p.dropped.Inc()
			return
		}
		p.histograms[name] = vec
	}
	p.mu.Unlock()

	vec.With(labels).Observe(value)
}

func help(name string) string {
	return fmt.Sprintf("trustkv metric %s.", name)
}
