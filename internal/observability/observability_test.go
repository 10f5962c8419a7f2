package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"castbot/internal/broadcast"
	"castbot/internal/control"
	"castbot/pkg/logx"
)

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := m.Observer("run")
	obs.CycleStarted(1)
	obs.Delivered(1, broadcast.Dialog{Title: "A"}, broadcast.Broadcastable, 20*time.Millisecond, nil)
	obs.Delivered(1, broadcast.Dialog{Title: "B"}, broadcast.MegaGroup, time.Millisecond, errors.New("x"))
	obs.Skipped(1, broadcast.Dialog{Title: "C"})
	m.StateChanged("run", control.Dispatching)
	m.RunFinished(control.Summary{State: control.Stopped})

	if got := testutil.ToFloat64(m.cycles); got != 1 {
		t.Fatalf("cycles = %v", got)
	}
	if got := testutil.ToFloat64(m.sends.WithLabelValues("ok", "broadcastable")); got != 1 {
		t.Fatalf("ok sends = %v", got)
	}
	if got := testutil.ToFloat64(m.sends.WithLabelValues("error", "megagroup")); got != 1 {
		t.Fatalf("failed sends = %v", got)
	}
	if got := testutil.ToFloat64(m.skips); got != 1 {
		t.Fatalf("skips = %v", got)
	}
	if got := testutil.ToFloat64(m.state); got != float64(control.Dispatching) {
		t.Fatalf("state = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("stopped")); got != 1 {
		t.Fatalf("runs = %v", got)
	}
}

func get(t *testing.T, url, token string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	m := NewMetrics()
	m.CycleStarted(1)
	srv := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, m.Handler(),
		func() any { return map[string]string{"state": "idle"} }, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected a bound address")
	}

	if code, _ := get(t, "http://"+addr+"/healthz", ""); code != http.StatusUnauthorized {
		t.Fatalf("healthz without token = %d, want 401", code)
	}
	code, body := get(t, "http://"+addr+"/healthz", "s3cret")
	if code != http.StatusOK || !strings.Contains(body, `"state":"idle"`) {
		t.Fatalf("healthz = %d %q", code, body)
	}
	code, body = get(t, "http://"+addr+"/metrics?token=s3cret", "")
	if code != http.StatusOK || !strings.Contains(body, "castbot_cycles_total 1") {
		t.Fatalf("metrics = %d, body missing counter", code)
	}
	if code, _ := get(t, "http://"+addr+"/debug/pprof/", "s3cret"); code != http.StatusOK {
		t.Fatalf("pprof index = %d", code)
	}

	srv.Reconfigure(ctx, Config{Enabled: false})
	if srv.Addr() != "" {
		t.Fatal("server should be stopped after disabling")
	}
}

func TestServerRefusesInsecureBind(t *testing.T) {
	srv := NewServer(Config{Enabled: true, Addr: "0.0.0.0:0"}, nil, nil, logx.Nop())
	if err := srv.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		srv.Stop(context.Background())
		t.Fatalf("non-loopback bind without token: err = %v", err)
	}
	if srv.Addr() != "" {
		t.Fatal("refused server must not be listening")
	}
}

func TestServerReconfigureRebindsOnlyOnChange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", Token: "a"}
	srv := NewServer(cfg, nil, nil, logx.Nop())
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	first := srv.Addr()

	srv.Reconfigure(ctx, cfg)
	if srv.Addr() != first {
		t.Fatalf("unchanged config rebound %s -> %s", first, srv.Addr())
	}

	cfg.Token = "b"
	srv.Reconfigure(ctx, cfg)
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("server not running after token change")
	}
	if code, _ := get(t, "http://"+addr+"/healthz", "a"); code != http.StatusUnauthorized {
		t.Fatalf("old token = %d, want 401", code)
	}
	if code, body := get(t, "http://"+addr+"/healthz", "b"); code != http.StatusOK || body != "ok" {
		t.Fatalf("new token = %d %q", code, body)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.1:6060":  false,
		"garbage":        false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}
