package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"trustkv/pkg/metrics"
	"trustkv/pkg/server"
)

type fakeSource struct {
	st  server.Status
	err error
}

func (f *fakeSource) Status() (server.Status, error) {
	return f.st, f.err
}

func newTestServer(src iStatusSource, g prometheus.Gatherer) http.Handler {
	return NewServer(src, g, "", nil).createRouter()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	rr := get(t, newTestServer(&fakeSource{}, nil), "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp Response
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestShards(t *testing.T) {
	src := &fakeSource{st: server.Status{
		Experiment: "exp-1",
		Shards: []server.ShardStat{
			{Shard: 0, Worker: 1, Entries: 10},
			{Shard: 1, Worker: 2, Entries: 12},
		},
	}}
	rr := get(t, newTestServer(src, nil), "/api/shards")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Status Status             `json:"status"`
		Data   []server.ShardStat `json:"data"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 2 || resp.Data[1].Entries != 12 {
		t.Fatalf("unexpected shards: %+v", resp.Data)
	}
}

func TestWorkers(t *testing.T) {
	src := &fakeSource{st: server.Status{
		Workers: []server.WorkerStat{{Worker: 0, Core: 0, Role: "idle"}, {Worker: 1, Core: 1, Role: "owner"}},
	}}
	rr := get(t, newTestServer(src, nil), "/api/workers")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"role":"owner"`) {
		t.Fatalf("body misses owner worker: %s", rr.Body.String())
	}
}

func TestStatus_NoExperiment(t *testing.T) {
	rr := get(t, newTestServer(&fakeSource{err: server.ErrNoExperiment}, nil), "/api/status")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestStatus_Error(t *testing.T) {
	rr := get(t, newTestServer(&fakeSource{err: errors.New("boom")}, nil), "/api/status")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestMetrics_ExposesCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus(reg)
	m.IncCounter("trustkv_operations_total", map[string]string{"op": "read", "result": "success"}, 3)

	rr := get(t, newTestServer(&fakeSource{}, reg), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `trustkv_operations_total{op="read",result="success"} 3`) {
		t.Fatalf("metrics output misses counter:\n%s", rr.Body.String())
	}
}

func TestStartStop(t *testing.T) {
	s := NewServer(&fakeSource{}, prometheus.NewRegistry(), "127.0.0.1:0", nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get(s.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
