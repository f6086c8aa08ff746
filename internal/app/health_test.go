package app

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"dctledger/internal/search"
	"dctledger/internal/store"
)

// pingStore is an in-memory store whose Ping result is scripted.
type pingStore struct {
	*store.MemoryStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

type upBackend struct{}

func (upBackend) Search(context.Context, search.Query) ([]search.Result, int, error) {
	return nil, 0, nil
}
func (upBackend) Healthy() bool                        { return true }
func (upBackend) IndexIdeas([]search.IdeaRecord) error { return nil }

func readyChecks(t *testing.T, h http.Handler) (int, map[string]any, map[string]any) {
	t.Helper()
	rr, body := doJSON(t, h, http.MethodGet, "/api/ready", nil, nil)
	checks, ok := body["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks object, got %v", body)
	}
	return rr.Code, body, checks
}

func checkStatus(checks map[string]any, name string) any {
	c, _ := checks[name].(map[string]any)
	return c["status"]
}

func TestHealthIsAlwaysOpen(t *testing.T) {
	cfg := testConfig()
	cfg.InternalToken = "s3cret"
	h, _, _ := newTestServer(cfg)

	rr, body := doJSON(t, h, http.MethodGet, "/api/health", nil, nil)
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", rr.Code, body)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin *, got %q", origin)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("expected Cache-Control no-store, got %q", cc)
	}

	if rr, _ := doJSON(t, h, http.MethodOptions, "/api/health", nil, nil); rr.Code != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestReadyReportsDependencies(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		opts       []Option
		wantCode   int
		wantStatus string
		wantSearch string
	}{
		{
			name:       "database up, no optional services",
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantSearch: "fallback",
		},
		{
			name:       "database down",
			pingErr:    errors.New("connection refused"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantSearch: "fallback",
		},
		{
			name:       "search backend healthy",
			opts:       []Option{WithSearch(search.NewService(upBackend{}, discardLogger()))},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantSearch: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &pingStore{MemoryStore: store.NewMemoryStore(), err: tt.pingErr}
			opts := append([]Option{WithLogger(discardLogger())}, tt.opts...)
			h := NewHTTPServer(New(testConfig(), st, opts...), "*").Handler()

			code, body, checks := readyChecks(t, h)
			if code != tt.wantCode || body["status"] != tt.wantStatus {
				t.Fatalf("got %d %v, want %d %s", code, body["status"], tt.wantCode, tt.wantStatus)
			}
			if body["ok"] != (tt.wantCode == http.StatusOK) {
				t.Errorf("ok flag %v disagrees with status %d", body["ok"], code)
			}
			if tt.pingErr != nil {
				db := checks["database"].(map[string]any)
				if db["status"] != "error" || db["error"] != tt.pingErr.Error() {
					t.Errorf("unexpected database check %v", db)
				}
			}
			if got := checkStatus(checks, "cache"); got != "disabled" {
				t.Errorf("cache = %v, want disabled", got)
			}
			if got := checkStatus(checks, "search"); got != tt.wantSearch {
				t.Errorf("search = %v, want %s", got, tt.wantSearch)
			}
		})
	}
}

func TestReadyStaysUpWhenCacheIsDown(t *testing.T) {
	svc, _, mr := newCachedService(t)
	h := NewHTTPServer(svc, "*").Handler()

	if _, _, checks := readyChecks(t, h); checkStatus(checks, "cache") != "ok" {
		t.Fatalf("expected cache ok, got %v", checks["cache"])
	}

	mr.Close()
	code, _, checks := readyChecks(t, h)
	if code != http.StatusOK {
		t.Errorf("cache outage should not fail readiness, got %d", code)
	}
	if got := checkStatus(checks, "cache"); got != "degraded" {
		t.Errorf("cache = %v, want degraded", got)
	}
}
