// Package server accepts benchmark connections and serves them from a
// thread-per-core worker pool.
//
// One experiment is: a handshake connection fixing the topology, then a
// Prefill wave and a Work wave of client_threads connections each. Every
// shard is entrusted to its own owner worker; every connection becomes a fiber
// on one of the network workers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"trustkv/pkg/affinity"
	"trustkv/pkg/config"
	"trustkv/pkg/dberrors"
	"trustkv/pkg/fiber"
	"trustkv/pkg/metrics"
	"trustkv/pkg/pool"
	"trustkv/pkg/sharding"
	"trustkv/pkg/storage"
	"trustkv/pkg/trust"
	"trustkv/pkg/wire"
)

const (
	WavePrefill = "prefill"
	WaveWork    = "work"
)

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithCores overrides core discovery.
func WithCores(n int) Option {
	return func(s *Server) { s.cores = n }
}

func WithPinner(p affinity.Pinner) Option {
	return func(s *Server) { s.pinner = p }
}

type Server struct {
	cfg      config.ServerConfig
	root     *slog.Logger
	logger   *slog.Logger
	metrics  metrics.Collector
	cores    int
	pinner   affinity.Pinner
	strategy affinity.Strategy

	ln *net.TCPListener

	mu  sync.RWMutex
	exp *experiment
}

type experiment struct {
	id             string
	hs             wire.Handshake
	pool           *pool.Pool
	router         *sharding.Router[trust.Trust[storage.Store]]
	networkWorkers int
	started        time.Time
}

func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	strategy, err := affinity.ParseStrategy(cfg.Placement)
	if err != nil {
		return nil, err
	}
	if _, err := wire.NewCodec(cfg.Protocol, 1); err != nil {
		return nil, err
	}
	if mode := cfg.DispatchMode(); mode != DispatchLazy && mode != DispatchSync {
		return nil, fmt.Errorf("%w: dispatch mode %q", dberrors.ErrInvalidArgument, mode)
	}
	if _, err := storage.New(cfg.Storage.Backend, 0); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		strategy: strategy,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.root = s.logger
	s.logger = s.root.With("component", "server")
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.cores <= 0 {
		s.cores = affinity.AvailableCores()
	}
	if s.pinner == nil {
		s.pinner = affinity.Default()
	}
	return s, nil
}

// Listen binds the server address. Run calls it when it has not been called yet.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.ln = ln.(*net.TCPListener)
	s.logger.Info("listening", "addr", s.ln.Addr().String(), "protocol", s.cfg.Protocol, "dispatch", s.cfg.DispatchMode())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves cfg.Rounds experiments (forever when zero). Cancelling ctx closes
// the listener; Run then returns nil once the current accept is interrupted.
func (s *Server) Run(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.ln.Close()
	})
	defer stop()
	defer s.ln.Close()

	for round := 1; s.cfg.Rounds == 0 || round <= s.cfg.Rounds; round++ {
		if err := s.RunExperiment(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("server stopped")
				return nil
			}
			return err
		}
	}
	return nil
}

// RunExperiment serves one handshake and its two connection waves.
func (s *Server) RunExperiment(ctx context.Context) error {
	id := uuid.NewString()
	log := s.logger.With("experiment", id)

	hs, err := s.acceptHandshake()
	if err != nil {
		return err
	}
	log.Info("handshake received",
		"client_threads", hs.ClientThreads,
		"server_threads", hs.ServerThreads,
		"ops_per_req", hs.OpsPerReq,
		"capacity", hs.Capacity,
		"key_kind", hs.KeyKind().String(),
		"value_kind", hs.ValueKind().String(),
	)

	networkWorkers, err := s.topology(hs)
	if err != nil {
		return err
	}
	codec, err := wire.NewCodec(s.cfg.Protocol, hs.OpsPerReq)
	if err != nil {
		return err
	}

	p, err := pool.Configure(1+hs.ServerThreads+networkWorkers, s.strategy,
		pool.WithCores(s.cores),
		pool.WithPinner(s.pinner),
		pool.WithMailboxDepth(s.cfg.Storage.MailboxDepth),
		pool.WithLogger(s.root.With("experiment", id)),
	)
	if err != nil {
		return fmt.Errorf("configure pool: %w", err)
	}
	defer p.Close()

	shards, err := s.entrustShards(p, hs)
	if err != nil {
		return err
	}

	exp := &experiment{
		id:             id,
		hs:             hs,
		pool:           p,
		router:         sharding.NewRouter(sharding.Modulo{}, shards),
		networkWorkers: networkWorkers,
		started:        time.Now(),
	}
	s.setExperiment(exp)
	defer s.setExperiment(nil)

	sess := &session{
		hs:      hs,
		codec:   codec,
		router:  exp.router,
		lazy:    s.cfg.DispatchMode() == DispatchLazy,
		metrics: s.metrics,
		logger:  log,
		ops:     &opCounter{},
	}

	for _, wave := range []string{WavePrefill, WaveWork} {
		if err := s.runWave(ctx, exp, sess, wave); err != nil {
			return err
		}
	}

	elapsed := time.Since(exp.started)
	total := sess.ops.total.Load()
	log.Info("experiment finished",
		"elapsed", elapsed.String(),
		"operations", humanize.Comma(int64(total)),
		"batches", humanize.Comma(int64(sess.ops.batches.Load())),
		"throughput", humanize.SIWithDigits(float64(total)/elapsed.Seconds(), 2, "op/s"),
	)
	return nil
}

func (s *Server) acceptHandshake() (wire.Handshake, error) {
	c, err := s.ln.AcceptTCP()
	if err != nil {
		return wire.Handshake{}, fmt.Errorf("accept handshake connection: %w", err)
	}
	defer c.Close()

	hs, err := wire.ReadHandshake(c)
	if err != nil {
		return wire.Handshake{}, fmt.Errorf("read handshake from %s: %w", c.RemoteAddr(), err)
	}
	return hs, nil
}

// topology validates the core budget and returns the number of network workers.
func (s *Server) topology(hs wire.Handshake) (int, error) {
	trustees := hs.ServerThreads
	if trustees >= s.cores {
		return 0, fmt.Errorf("%w: %d trustees need more than the %d available cores", dberrors.ErrNotEnoughCores, trustees, s.cores)
	}

	network := s.cfg.NetworkWorkers
	if network == 0 {
		network = s.cores - trustees - 1
	}
	if network < 1 {
		return 0, fmt.Errorf("%w: no core left for a network worker (%d cores, %d trustees)", dberrors.ErrNotEnoughCores, s.cores, trustees)
	}
	if 1+trustees+network > s.cores {
		return 0, fmt.Errorf("%w: 1 control + %d trustees + %d network workers exceed %d cores", dberrors.ErrNotEnoughCores, trustees, network, s.cores)
	}
	return network, nil
}

// entrustShards places shard i on worker i+1.
func (s *Server) entrustShards(p *pool.Pool, hs wire.Handshake) ([]trust.Trust[storage.Store], error) {
	shards := make([]trust.Trust[storage.Store], hs.ServerThreads)
	for i := range shards {
		owner, err := p.Worker(1 + i).BecomeOwner()
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
		st, err := storage.New(s.cfg.Storage.Backend, hs.ShardCapacity())
		if err != nil {
			return nil, err
		}
		if shards[i], err = trust.Entrust(owner, st); err != nil {
			return nil, fmt.Errorf("shard %d: %w", i, err)
		}
	}
	return shards, nil
}

// runWave accepts client_threads connections, spawns one fiber per connection
// round-robin over the network workers and waits for all of them.
func (s *Server) runWave(ctx context.Context, exp *experiment, sess *session, wave string) error {
	n := exp.hs.ClientThreads
	log := sess.logger.With("wave", wave)

	accepted := make([]*net.TCPConn, 0, n)
	for i := 0; i < n; i++ {
		c, err := s.ln.AcceptTCP()
		if err != nil {
			for _, a := range accepted {
				_ = a.Close()
			}
			return fmt.Errorf("accept %s connection %d/%d: %w", wave, i+1, n, err)
		}
		accepted = append(accepted, c)
	}
	log.Info("wave connected", "connections", n)
	s.metrics.IncCounter("trustkv_connections_total", map[string]string{"wave": wave}, float64(n))

	handles := make(chan *fiber.Handle, n)
	scheduled := 0
	for i, nc := range accepted {
		c, err := newConn(nc)
		if err != nil {
			log.Error("prepare connection", "error", err)
			_ = nc.Close()
			continue
		}

		w := exp.pool.Worker(1 + exp.hs.ServerThreads + i%exp.networkWorkers)
		err = w.Schedule(func(sch *fiber.Scheduler) {
			handles <- sch.Spawn(func(f *fiber.Fiber) {
				sess.serve(f, c, wave)
			})
		})
		if err != nil {
			_ = c.close()
			return fmt.Errorf("schedule %s connection on worker %d: %w", wave, w.ID(), err)
		}
		scheduled++
	}
	s.metrics.SetGauge("trustkv_wave_fibers", map[string]string{"wave": wave}, float64(scheduled))

	for i := 0; i < scheduled; i++ {
		select {
		case h := <-handles:
			select {
			case <-h.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := h.Join(); err != nil {
				log.Error("fiber failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.metrics.SetGauge("trustkv_wave_fibers", map[string]string{"wave": wave}, 0)
	log.Info("wave finished")
	return nil
}

func (s *Server) setExperiment(e *experiment) {
	s.mu.Lock()
	s.exp = e
	s.mu.Unlock()
}

// ShardStat describes one shard of the running experiment.
type ShardStat struct {
	Shard   int `json:"shard"`
	Worker  int `json:"worker"`
	Entries int `json:"entries"`
}

// WorkerStat describes one pool worker.
type WorkerStat struct {
	Worker   int    `json:"worker"`
	Core     int    `json:"core"`
	Role     string `json:"role"`
	Fibers   int    `json:"fibers,omitempty"`
	Executed uint64 `json:"executed,omitempty"`
	Queued   int    `json:"queued,omitempty"`
}

// Status is a snapshot of the running experiment.
type Status struct {
	Experiment string          `json:"experiment"`
	Handshake  *wire.Handshake `json:"handshake,omitempty"`
	Uptime     string          `json:"uptime,omitempty"`
	Shards     []ShardStat     `json:"shards"`
	Workers    []WorkerStat    `json:"workers"`
}

// ErrNoExperiment is returned by Status between experiments.
var ErrNoExperiment = errors.New("server: no experiment running")

// Status queries every shard through its owner. It blocks behind queued operations.
func (s *Server) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp := s.exp
	if exp == nil {
		return Status{}, ErrNoExperiment
	}

	hs := exp.hs
	st := Status{
		Experiment: exp.id,
		Handshake:  &hs,
		Uptime:     time.Since(exp.started).Round(time.Millisecond).String(),
		Shards:     make([]ShardStat, exp.router.Len()),
		Workers:    make([]WorkerStat, exp.pool.Size()),
	}
	for i, sh := range exp.router.Shards() {
		st.Shards[i] = ShardStat{
			Shard:   i,
			Worker:  int(sh.Owner()),
			Entries: trust.Apply(sh, storage.Store.Len),
		}
	}
	for i := range st.Workers {
		w := exp.pool.Worker(i)
		st.Workers[i] = WorkerStat{
			Worker:   int(w.ID()),
			Core:     w.Core(),
			Role:     w.Role(),
			Fibers:   w.Fibers(),
			Executed: w.Executed(),
			Queued:   w.Queued(),
		}
	}
	return st, nil
}
