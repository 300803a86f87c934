package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gilito11/casaTevaLeads-sub001/internal/config"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/logger"
	"github.com/gilito11/casaTevaLeads-sub001/internal/pkg/queue"
	"github.com/gilito11/casaTevaLeads-sub001/internal/portal"
)

// ==== 测试辅助 ====

type fakeStatsStore struct {
	mu      sync.Mutex
	pingErr error
	counts  map[string]int64
}

func (f *fakeStatsStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeStatsStore) CountListings(ctx context.Context, portal string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[portal], nil
}

type runRecord struct {
	Portal portal.Portal
	Zone   string
}

func newTestServer(t *testing.T, run RunFunc) (*Server, *fakeStatsStore, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := &fakeStatsStore{counts: map[string]int64{"fotocasa": 42, "habitaclia": 7}}
	log := logger.NewDefault("error")
	q := queue.New(log, 1, 4)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)

	cfg := config.LoadOrDefault()
	return NewServer(cfg, log, store, rdb, q, run), store, rdb
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// ==== 运行触发 ====

func TestCreateRunEnqueuesJob(t *testing.T) {
	runs := make(chan runRecord, 1)
	srv, _, _ := newTestServer(t, func(ctx context.Context, p portal.Portal, zone string) error {
		runs <- runRecord{Portal: p, Zone: zone}
		return nil
	})

	w := postJSON(t, srv.Router(), "/api/runs", map[string]string{"portal": "fotocasa", "zone": "girona"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", w.Code, w.Body.String())
	}

	select {
	case r := <-runs:
		if r.Portal != portal.Fotocasa || r.Zone != "girona" {
			t.Errorf("run = %+v, want fotocasa/girona", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run was never executed")
	}
}

func TestCreateRunUnknownPortal(t *testing.T) {
	srv, _, _ := newTestServer(t, func(ctx context.Context, p portal.Portal, zone string) error { return nil })

	w := postJSON(t, srv.Router(), "/api/runs", map[string]string{"portal": "zillow"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateRunMissingPortal(t *testing.T) {
	srv, _, _ := newTestServer(t, func(ctx context.Context, p portal.Portal, zone string) error { return nil })

	w := postJSON(t, srv.Router(), "/api/runs", map[string]string{"zone": "girona"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// ==== 统计与健康检查 ====

func TestStatsReportsCountsAndQueue(t *testing.T) {
	srv, _, _ := newTestServer(t, func(ctx context.Context, p portal.Portal, zone string) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Queue    map[string]int64 `json:"queue"`
		Listings map[string]int64 `json:"listings"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Listings["fotocasa"] != 42 {
		t.Errorf("fotocasa count = %d, want 42", resp.Listings["fotocasa"])
	}
	if _, ok := resp.Queue["pending"]; !ok {
		t.Error("queue stats missing pending")
	}
}

func TestHealthzOK(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
	}
}

func TestHealthzRedisDown(t *testing.T) {
	srv, _, rdb := newTestServer(t, nil)
	rdb.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
