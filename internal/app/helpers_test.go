package app

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dctledger/internal/config"
	"dctledger/internal/store"
)

func testConfig() config.Config {
	return config.Config{DefaultTake: 2000, MaxTake: 5000, CORSOrigin: "*"}
}

// steppingClock advances one second per call so operator events fold in
// the order they were issued.
func steppingClock() func() time.Time {
	current := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestService(cfg config.Config, opts ...Option) (*Service, *store.MemoryStore) {
	mem := store.NewMemoryStore()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	svc := New(cfg, mem, opts...)
	svc.now = steppingClock()
	return svc, mem
}

func newTestServer(cfg config.Config) (http.Handler, *Service, *store.MemoryStore) {
	svc, mem := newTestService(cfg)
	return NewHTTPServer(svc, "*").Handler(), svc, mem
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var response map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, response
}
