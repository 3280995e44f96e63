// Package httpd serves the coordinator's HTTP API: schedule CRUD, manual
// runs, history and activity reads, a live-update stream fed by the
// broadcast service, and optionally the pprof endpoints behind the same
// token.
package httpd

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"evron/internal/audit"
	"evron/internal/broadcast"
	"evron/internal/registry"
	"evron/internal/state"
	"evron/pkg/logx"
)

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	registry  *registry.Service
	audit     *audit.Recorder
	state     *state.Scheduler
	broadcast *broadcast.Service

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, reg *registry.Service, rec *audit.Recorder, st *state.Scheduler, bc *broadcast.Service, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, registry: reg, audit: rec, state: st, broadcast: bc}
}

// Start binds the listener and serves in the background. A non-loopback
// bind with no token is refused unless allow_insecure is set.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil || !s.cfg.Enabled {
		return nil
	}

	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	if !s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		return errors.New("httpd: non-loopback addr requires token or allow_insecure")
	}
	if s.cfg.AllowInsecure && s.cfg.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("api server running without token on non-loopback addr", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("api server stopped with error", logx.Err(err))
		}
	}()

	s.log.Info("api server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
		logx.Bool("pprof", s.cfg.Pprof))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("api server stopped")
}

// Addr returns the bound address, for tests and log hints.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	auth := func(h http.HandlerFunc) http.HandlerFunc { return s.withAuth(h) }

	mux.HandleFunc("GET /api/app/get_schedule", auth(s.handleGetSchedule))
	mux.HandleFunc("GET /api/app/get_event", auth(s.handleGetEvent))
	mux.HandleFunc("POST /api/app/create_event", auth(s.handleCreateEvent))
	mux.HandleFunc("POST /api/app/update_event", auth(s.handleUpdateEvent))
	mux.HandleFunc("POST /api/app/delete_event", auth(s.handleDeleteEvent))
	mux.HandleFunc("POST /api/app/run_event", auth(s.handleRunEvent))
	mux.HandleFunc("GET /api/app/get_event_history", auth(s.handleEventHistory))
	mux.HandleFunc("GET /api/app/get_history", auth(s.handleHistory))
	mux.HandleFunc("GET /api/app/get_activity", auth(s.handleActivity))
	mux.HandleFunc("GET /api/app/get_state", auth(s.handleState))
	mux.HandleFunc("GET /api/app/watch", auth(s.handleWatch))

	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", auth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", auth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", auth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", auth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", auth(hpprof.Trace))
	}

	return mux
}

// withAuth enforces the bearer token when one is configured. Caller
// identity (api key vs user) is resolved separately, in principalFrom.
func (s *Service) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h(w, r)
				return
			}
			unauthorized(w)
			return
		}
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		unauthorized(w)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
