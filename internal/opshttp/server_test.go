package opshttp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nanocms/nanocms/internal/log"
	"github.com/nanocms/nanocms/internal/probe"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func startOps(t *testing.T, opts Options) int {
	t.Helper()
	if opts.Port == 0 {
		opts.Port = getFreePort(t)
	}
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), opts)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { stop(ctx) })
	return opts.Port
}

func opsGet(t *testing.T, port int, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, path))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestHealthEndpoints(t *testing.T) {
	port := startOps(t, Options{
		Health:    probe.Static(true, ""),
		Readiness: probe.Static(false, "still warming up"),
	})

	if code, body := opsGet(t, port, "/-/healthy"); code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthy = %d %q", code, body)
	}
	if code, body := opsGet(t, port, "/-/ready"); code != http.StatusServiceUnavailable || !strings.Contains(body, "still warming up") {
		t.Fatalf("ready = %d %q", code, body)
	}
}

func TestHealthResponsesNotCached(t *testing.T) {
	for name, h := range map[string]http.HandlerFunc{
		"healthy": HealthzHandler(probe.Static(true, "")),
		"ready":   ReadyzHandler(probe.Static(false, "draining")),
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("%s Cache-Control = %q, want no-store", name, got)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	port := startOps(t, Options{
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("fake_metric 1\n"))
		}),
	})

	if code, body := opsGet(t, port, "/metrics"); code != http.StatusOK || !strings.Contains(body, "fake_metric") {
		t.Fatalf("metrics = %d %q", code, body)
	}
}

func TestPprofDisabledBy404(t *testing.T) {
	port := startOps(t, Options{})
	if code, _ := opsGet(t, port, "/debug/pprof/"); code != http.StatusNotFound {
		t.Fatalf("pprof without EnablePprof = %d, want 404", code)
	}
}

func TestPprofEnabled(t *testing.T) {
	port := startOps(t, Options{EnablePprof: true})
	if code, _ := opsGet(t, port, "/debug/pprof/"); code != http.StatusOK {
		t.Fatalf("pprof index = %d, want 200", code)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	ctx := context.Background()
	stop, err := Start(ctx, log.Nop(), Options{Port: getFreePort(t)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
