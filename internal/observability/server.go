package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"castbot/internal/runtime/supervisor"
	"castbot/pkg/logx"
)

const (
	// DefaultAddr keeps the debug server off the network unless asked.
	DefaultAddr = "127.0.0.1:6060"

	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 2 * time.Minute
)

// ErrInsecureBind is returned by Start for a non-loopback Addr without Token or AllowInsecure.
var ErrInsecureBind = errors.New("debug server: non-loopback addr requires token or allow_insecure")

// Config controls the optional debug HTTP server: /healthz, /metrics and
// pprof under /debug/pprof/.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string // bearer token; required for non-loopback binds unless AllowInsecure
	AllowInsecure bool
}

// HealthFunc reports the process status served by /healthz.
type HealthFunc func() any

type Server struct {
	ops sync.Mutex // serializes Start, Stop and Reconfigure

	mu  sync.Mutex
	cfg Config
	ln  net.Listener
	srv *http.Server
	sup *supervisor.Supervisor

	log    logx.Logger
	health HealthFunc
	mh     http.Handler
}

// NewServer creates a stopped server. metrics may be nil (then /metrics is not served).
func NewServer(cfg Config, metrics http.Handler, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, mh: metrics, health: health, log: log.Component("debug")}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr returns the bound listen address, or "" when not serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg on hot reload. The listener is rebound only when
// the address or the auth settings changed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	prev, running := s.cfg, s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if running && (!cfg.Enabled || prev != cfg) {
		s.stop(ctx)
		running = false
	}
	if cfg.Enabled && !running {
		if err := s.start(ctx); err != nil {
			s.log.Error("debug server not restarted", logx.Err(err))
		}
	}
}

// Start binds the listener before returning, so Addr is valid afterwards.
// It is a no-op when disabled or already serving.
func (s *Server) Start(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	return s.start(ctx)
}

func (s *Server) start(ctx context.Context) error {
	s.mu.Lock()
	cfg, running := s.cfg, s.srv != nil
	s.mu.Unlock()
	if running || !cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if !isLoopbackAddr(addr) && cfg.Token == "" {
		if !cfg.AllowInsecure {
			return ErrInsecureBind
		}
		s.log.Warn("debug server exposed without token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.routes(cfg.Token),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	sup := supervisor.New(context.WithoutCancel(ctx),
		supervisor.WithLogger(s.log),
		// Debug endpoints are optional; never take the app down.
		supervisor.WithCancelOnError(false),
	)

	s.mu.Lock()
	s.ln, s.srv, s.sup = ln, srv, sup
	s.mu.Unlock()

	sup.Go("debug.http", func(context.Context) error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	s.log.Info("debug server started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", cfg.Token != ""))
	return nil
}

// Stop shuts the server down gracefully within ctx, then closes what is left.
func (s *Server) Stop(ctx context.Context) {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stop(ctx)
}

func (s *Server) stop(ctx context.Context) {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if srv == nil {
		return
	}

	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("debug server stopped")
}

func (s *Server) routes(token string) http.Handler {
	mux := http.NewServeMux()
	guard := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", guard(func(w http.ResponseWriter, r *http.Request) {
		if s.health == nil {
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.health())
	}))
	if s.mh != nil {
		mux.HandleFunc("/metrics", guard(s.mh.ServeHTTP))
	}
	mux.HandleFunc("/debug/pprof/", guard(hpprof.Index))
	mux.HandleFunc("/debug/pprof/cmdline", guard(hpprof.Cmdline))
	mux.HandleFunc("/debug/pprof/profile", guard(hpprof.Profile))
	mux.HandleFunc("/debug/pprof/symbol", guard(hpprof.Symbol))
	mux.HandleFunc("/debug/pprof/trace", guard(hpprof.Trace))
	return mux
}

// withAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if ah := r.Header.Get("Authorization"); got == "" && strings.HasPrefix(ah, "Bearer ") {
			got = strings.TrimSpace(strings.TrimPrefix(ah, "Bearer "))
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
