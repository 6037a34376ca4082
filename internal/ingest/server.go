// Package ingest is the HTTP endpoint the WordPress side posts hook events
// to. Every request needs the shared bearer token.
package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/hooks"
	logx "sitewatch/pkg/logx"
)

const (
	maxBody        = 1 << 20
	shutdownBudget = 2 * time.Second
)

type Config struct {
	Addr  string
	Token string
	// Pprof mounts net/http/pprof under /debug/pprof/ behind the same token.
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Emitter delivers a decoded event to its handlers. *hooks.Registry
// implements it.
type Emitter interface {
	Emit(ctx context.Context, ev hooks.Event) error
}

// HealthFunc returns the JSON body of GET /healthz.
type HealthFunc func(ctx context.Context) any

type Server struct {
	cfg    Config
	emit   Emitter
	health HealthFunc
	log    logx.Logger
	now    func() time.Time

	mu   sync.Mutex
	addr string
}

func New(cfg Config, emit Emitter, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	return &Server{
		cfg:    cfg,
		emit:   emit,
		health: health,
		log:    log.With(logx.String("comp", "ingest")),
		now:    time.Now,
	}
}

// Addr is the bound listen address once Serve is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/events", s.withAuth(s.handleEvent))
	mux.HandleFunc("GET /healthz", s.withAuth(s.handleHealth))
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", s.withAuth(hpprof.Index))
		mux.HandleFunc("/debug/pprof/cmdline", s.withAuth(hpprof.Cmdline))
		mux.HandleFunc("/debug/pprof/profile", s.withAuth(hpprof.Profile))
		mux.HandleFunc("/debug/pprof/symbol", s.withAuth(hpprof.Symbol))
		mux.HandleFunc("/debug/pprof/trace", s.withAuth(hpprof.Trace))
	}
	return mux
}

// Serve listens on cfg.Addr until ctx is done. It is meant to run under a
// supervisor restart loop.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if addr == "" {
		return errors.New("ingest: addr is empty")
	}
	if strings.TrimSpace(s.cfg.Token) == "" {
		return errors.New("ingest: token is required")
	}
	if !isLoopbackAddr(addr) {
		s.log.Warn("ingest listening on a non-loopback address", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ingest listen: %w", err)
	}
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("ingest started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))
	err = srv.Serve(ln)
	if ctx.Err() != nil {
		<-stopped
		s.log.Info("ingest stopped")
		return nil
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("ingest server exited unexpectedly")
	}
	return err
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBody)
	var ev hooks.Event
	dec := json.NewDecoder(body)
	if err := dec.Decode(&ev); err != nil {
		s.log.Debug("ingest: bad payload", logx.Err(err))
		http.Error(w, "bad payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		http.Error(w, "bad payload: trailing data", http.StatusBadRequest)
		return
	}
	if ev.At.IsZero() {
		ev.At = s.now()
	}
	if err := ev.Validate(); err != nil {
		http.Error(w, "bad payload: "+err.Error(), http.StatusBadRequest)
		return
	}

	// Handler failures are logged; the event is still accepted.
	if err := s.emit.Emit(context.WithoutCancel(r.Context()), ev); err != nil {
		s.log.Warn("ingest: handlers failed", logx.String("kind", ev.Kind.String()), logx.Err(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var body any = map[string]string{"status": "ok"}
	if s.health != nil {
		body = s.health(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Debug("ingest: health encode failed", logx.Err(err))
	}
}

func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	tok := []byte(strings.TrimSpace(s.cfg.Token))
	return func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if len(tok) > 0 && strings.HasPrefix(ah, p) &&
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(strings.TrimPrefix(ah, p))), tok) == 1 {
			h(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil || strings.TrimSpace(h) == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
