// Package ops serves the operator HTTP endpoints: health, the tracked set,
// and pprof under /debug.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"friendwatch/internal/presence"
	logx "friendwatch/pkg/logx"
)

type Config struct {
	Enabled              bool
	Address              string
	BlockProfileRate     int
	MutexProfileFraction int
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = "127.0.0.1:6060"
	}
	return c
}

// Tracking is the engine surface the server exposes.
type Tracking interface {
	Tracker() *presence.Tracker
	Track(ctx context.Context, id presence.ContactID) (bool, error)
	Untrack(ctx context.Context, id presence.ContactID) (bool, error)
}

// HealthFunc reports component details for /healthz. A non-nil error marks
// the process unhealthy.
type HealthFunc func() (map[string]any, error)

// Server manages the listener lifecycle. Apply starts, moves or stops it.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	srv  *http.Server
	ln   net.Listener
	addr string
	want string // configured address; addr may differ for port 0

	handler http.Handler
}

func New(tracking Tracking, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "ops"))
	return &Server{log: log, handler: NewRouter(tracking, health, log)}
}

// NewRouter builds the chi router. Exposed for tests.
func NewRouter(tracking Tracking, health HealthFunc, log logx.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		body := map[string]any{"status": "ok"}
		code := http.StatusOK
		if health != nil {
			details, err := health()
			for k, v := range details {
				body[k] = v
			}
			if err != nil {
				body["status"] = "unhealthy"
				body["error"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, body)
	})

	r.Route("/tracked", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, tracking.Tracker().Snapshot())
		})
		r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
			c, ok := tracking.Tracker().Get(chi.URLParam(r, "id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not tracked"})
				return
			}
			writeJSON(w, http.StatusOK, c)
		})
		r.Put("/{id}", func(w http.ResponseWriter, r *http.Request) {
			added, err := tracking.Track(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			code := http.StatusOK
			if added {
				code = http.StatusCreated
			}
			writeJSON(w, code, map[string]bool{"added": added})
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			removed, err := tracking.Untrack(r.Context(), chi.URLParam(r, "id"))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			if !removed {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not tracked"})
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Mount("/debug", middleware.Profiler())
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("rid", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// Apply starts, restarts or stops the listener according to cfg and updates
// the profiling rates.
func (s *Server) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !cfg.Enabled {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && s.want == cfg.Address {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) {
	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		s.log.Warn("ops listen failed", logx.String("addr", cfg.Address), logx.Err(err))
		return
	}
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 5 * time.Second}
	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()
	s.want = cfg.Address

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("ops server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("ops server listening", logx.String("addr", addr))
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, addr := s.srv, s.addr
	s.srv, s.ln, s.addr, s.want = nil, nil, "", ""

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("ops shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	s.log.Info("ops server stopped", logx.String("addr", addr))
}

// Addr reports the listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
