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
	"time"

	"github.com/keithlinneman/linnemanlabs-menu/internal/health"
	"github.com/keithlinneman/linnemanlabs-menu/internal/log"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func serve(h http.Handler, target, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewHandler_Routes(t *testing.T) {
	var ready health.ShutdownGate
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})

	tests := []struct {
		name   string
		opts   Options
		target string
		code   int
		body   string
	}{
		{"healthy", Options{Health: health.Fixed(true, "")}, "/-/healthy", 200, "ok\n"},
		{"unhealthy", Options{Health: health.Fixed(false, "db down")}, "/-/healthy", 503, "db down\n"},
		{"ready", Options{Readiness: ready.Probe()}, "/-/ready", 200, "ready\n"},
		{"metrics", Options{Metrics: metrics}, "/metrics", 200, "# metrics\n"},
		{"no metrics", Options{}, "/metrics", 404, ""},
		{"pprof on", Options{EnablePprof: true}, "/debug/pprof/cmdline", 200, ""},
		{"pprof off", Options{}, "/debug/pprof/cmdline", 404, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHandler(&tt.opts), tt.target, "127.0.0.1:5555")
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestNewHandler_ShutdownGate(t *testing.T) {
	var gate health.ShutdownGate
	h := NewHandler(&Options{Readiness: health.All(health.Fixed(true, ""), gate.Probe())})

	if rec := serve(h, "/-/ready", "10.0.0.1:1"); rec.Code != 200 {
		t.Fatalf("before drain = %d", rec.Code)
	}
	gate.Set("draining")
	rec := serve(h, "/-/ready", "10.0.0.1:1")
	if rec.Code != 503 || !strings.Contains(rec.Body.String(), "draining") {
		t.Fatalf("during drain = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNonPublicPeer(t *testing.T) {
	tests := []struct {
		remote string
		want   bool
	}{
		{"127.0.0.1:1234", true},
		{"[::1]:1234", true},
		{"10.1.2.3:1234", true},
		{"172.16.0.9:1234", true},
		{"192.168.1.1:1234", true},
		{"169.254.169.254:80", true},
		{"[fe80::1]:1234", true},
		{"[fd00::1]:1234", true},
		{"[::ffff:10.0.0.1]:1234", true},
		{"8.8.8.8:1234", false},
		{"[2001:4860::8888]:1234", false},
		{"[::ffff:8.8.8.8]:1234", false},
		{"not-an-addr", false},
		{"", false},
		{"host.example:80", false},
	}
	for _, tt := range tests {
		if got := nonPublicPeer(tt.remote); got != tt.want {
			t.Errorf("nonPublicPeer(%q) = %v, want %v", tt.remote, got, tt.want)
		}
	}
}

func TestRequireNonPublicNetwork(t *testing.T) {
	called := 0
	h := requireNonPublicNetwork(log.Nop(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
	}))

	if rec := serve(h, "/metrics", "203.0.113.7:443"); rec.Code != http.StatusForbidden {
		t.Fatalf("public peer code = %d", rec.Code)
	}
	if called != 0 {
		t.Fatal("inner handler ran for public peer")
	}
	if rec := serve(h, "/metrics", "10.0.0.2:443"); rec.Code != http.StatusOK || called != 1 {
		t.Fatalf("private peer code = %d called = %d", rec.Code, called)
	}
}

func TestNewHandler_Recover(t *testing.T) {
	panics := 0
	metrics := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("scrape") })
	h := NewHandler(&Options{Metrics: metrics, UseRecoverMW: true, OnPanic: func() { panics++ }})

	if rec := serve(h, "/metrics", "127.0.0.1:1"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if panics != 1 {
		t.Fatalf("OnPanic calls = %d", panics)
	}
}

func TestStart_ServeAndShutdown(t *testing.T) {
	port := getFreePort(t)
	ctx := context.Background()
	stop, err := Start(ctx, &Options{Logger: log.Nop(), Port: port, Health: health.Fixed(true, "")})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/-/healthy", port)
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("code = %d", resp.StatusCode)
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := stop(sctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := stop(sctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if _, err := http.Get(url); err == nil {
		t.Fatal("server still accepting after shutdown")
	}
}

func TestStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	if _, err := Start(context.Background(), &Options{Port: ln.Addr().(*net.TCPAddr).Port}); err == nil {
		t.Fatal("Start succeeded on a port in use")
	}
}
