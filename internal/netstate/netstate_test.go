package netstate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProbe(time.Second)
	p.Add("up", srv.URL)
	p.Add("down", "http://127.0.0.1:1")

	ctx := context.Background()
	if !p.Online(ctx, "up") {
		t.Fatalf("expected reachable site")
	}
	if p.Online(ctx, "down") {
		t.Fatalf("expected unreachable site")
	}
	if p.Online(ctx, "unknown") {
		t.Fatalf("unknown site must be offline")
	}
}
