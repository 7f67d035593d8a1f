package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestActiveGlobalsGauge(t *testing.T) {
	m := New()
	m.ActiveGlobals.Set(3)
	if got := testutil.ToFloat64(m.ActiveGlobals); got != 3 {
		t.Fatalf("got %v, want 3", got)
	}
}

func TestSetLinkStatesResetsBetweenCalls(t *testing.T) {
	m := New()
	m.SetLinkStates(map[string]int{"running": 2, "paused": 1})
	if got := testutil.ToFloat64(m.ActiveLinks.WithLabelValues("running")); got != 2 {
		t.Fatalf("running: got %v, want 2", got)
	}

	m.SetLinkStates(map[string]int{"running": 1})
	if got := testutil.ToFloat64(m.ActiveLinks.WithLabelValues("running")); got != 1 {
		t.Fatalf("running after reset: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveLinks.WithLabelValues("paused")); got != 0 {
		t.Fatalf("paused should be gone after reset, got %v", got)
	}
}

func TestObserveDataLoopCycle(t *testing.T) {
	m := New()
	m.ObserveDataLoopCycle(5 * time.Millisecond)
	if got := testutil.CollectAndCount(m.DataLoopCycle); got != 1 {
		t.Fatalf("got %d samples, want 1", got)
	}
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerServesMetricsEndpoint(t *testing.T) {
	m := New()
	m.ActiveGlobals.Set(7)
	addr := freePort(t)
	srv := NewServer(addr, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	var resp *http.Response
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get("http://" + addr + "/metrics")
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !strings.Contains(string(body), "mediagraph_active_globals 7") {
		t.Fatalf("expected active_globals sample in body, got:\n%s", body)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
