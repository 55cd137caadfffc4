package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"resale-pricer/utils"
)

func TestClientGetJSONRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user agent: got %q", r.Header.Get("User-Agent"))
		}
		_ = json.NewEncoder(w).Encode(map[string]int{"n": 7})
	}))
	defer srv.Close()

	c := NewClient("test-agent", 3, quiet())
	var out struct{ N int }
	if err := c.GetJSON(context.Background(), srv.URL, &out); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if out.N != 7 {
		t.Errorf("decoded: got %d, want 7", out.N)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("", 3, quiet())
	var out map[string]any
	err := c.GetJSON(context.Background(), srv.URL, &out)
	if !errors.Is(err, utils.ErrPermanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestClientPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["q"]})
	}))
	defer srv.Close()

	c := NewClient("", 1, quiet())
	var out map[string]string
	if err := c.PostJSON(context.Background(), srv.URL, map[string]string{"q": "아이폰"}, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out["echo"] != "아이폰" {
		t.Errorf("echo: got %q", out["echo"])
	}
}

func TestClientRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer srv.Close()

	c := NewClient("", 1, quiet()).WithRateLimit(10, 1)
	start := time.Now()
	for i := 0; i < 3; i++ {
		page, err := c.GetHTML(context.Background(), srv.URL)
		if err != nil {
			t.Fatalf("GetHTML: %v", err)
		}
		if !contains(string(page), "ok") {
			t.Errorf("body: %s", page)
		}
	}
	if waited := time.Since(start); waited < 150*time.Millisecond {
		t.Errorf("three requests at 10/s should take at least 200ms, took %v", waited)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	c := NewClient("", 1, quiet()).WithRateLimit(0.01, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	// The first token is free; the second would take 100s.
	c.limiter.Allow()
	if _, err := c.GetHTML(ctx, "http://127.0.0.1:1"); err == nil {
		t.Error("expected an error once the limiter cannot be satisfied in time")
	}
}

func TestRendererWithoutPool(t *testing.T) {
	var r *Renderer
	if _, err := r.Cards(context.Background(), "https://example.com", CardSelectors{}, 10); !errors.Is(err, ErrNoBrowser) {
		t.Errorf("nil renderer: got %v, want ErrNoBrowser", err)
	}
	r = NewRenderer(nil, browserOptions())
	if _, err := r.Cards(context.Background(), "https://example.com", CardSelectors{}, 10); !errors.Is(err, ErrNoBrowser) {
		t.Errorf("renderer without pool: got %v, want ErrNoBrowser", err)
	}
}

func TestCardScriptEmbedsSelectors(t *testing.T) {
	script, err := cardScript(CardSelectors{Card: []string{`div[data-card="1"]`}, LinkPattern: "/products/"}, 12)
	if err != nil {
		t.Fatalf("cardScript: %v", err)
	}
	for _, want := range []string{`div[data-card=\"1\"]`, "/products/", "var limit = 12;"} {
		if !contains(script, want) {
			t.Errorf("script missing %q", want)
		}
	}
}
