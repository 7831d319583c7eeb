// Package http exposes the scrubber over a small JSON API.
//
// Every response is an envelope: {"data": ...} on success and
// {"error": {"status", "code", "message"}} on failure.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"scrubber/internal/metrics"
	"scrubber/internal/schedule"
	"scrubber/internal/transient"
	logx "scrubber/pkg/logx"
)

// Scheduler is the scrub engine as the API uses it.
type Scheduler interface {
	ScheduleDeletion(ctx context.Context, key string, events ...string) error
	Unschedule(ctx context.Context, key string, events ...string) error
	Pending(ctx context.Context) (schedule.Schedule, error)
	Subscriptions() []string
}

type Cache interface {
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	Get(ctx context.Context, key string) (transient.Entry, bool, error)
	Delete(ctx context.Context, key string) error
}

type Firer interface {
	Fire(ctx context.Context, event string, data any) error
}

type Deps struct {
	Scheduler Scheduler
	Cache     Cache
	Bus       Firer
	Log       logx.Logger
	// Limiter is optional; nil means unlimited.
	Limiter *Limiter
	// Status adds runtime details to /health. Optional.
	Status func() any
	// Metrics records request counts; MetricsHandler, when set, is served
	// at /metrics. Both optional.
	Metrics        metrics.Interface
	MetricsHandler http.Handler
}

// Server is the API handler.
type Server struct {
	deps     Deps
	log      logx.Logger
	mux      chi.Router
	draining atomic.Bool
}

func NewRouter(d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	s := &Server{deps: d, log: d.Log}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware())
	r.Use(AccessLog(d.Log))
	r.Use(RecoverMiddleware(d.Log))
	r.Use(MetricsMiddleware(d.Metrics))
	r.Get("/health", s.health)
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(d.Limiter))
		r.Route("/transients", func(r chi.Router) {
			r.Put("/{key}", wrap(s.putTransient))
			r.Get("/{key}", wrap(s.getTransient))
			r.Delete("/{key}", wrap(s.deleteTransient))
		})
		r.Route("/schedule", func(r chi.Router) {
			r.Get("/", wrap(s.getSchedule))
			r.Post("/", wrap(s.postSchedule))
			r.Delete("/{key}", wrap(s.unscheduleKey))
			r.Delete("/{event}/{key}", wrap(s.unschedulePair))
		})
		r.Post("/events/{event}", wrap(s.fireEvent))
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, NotFound("no route for "+r.Method+" "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, NewAppError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" not allowed", nil))
	})

	s.mux = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// SetDraining makes /health report 503 so load balancers stop routing here.
func (s *Server) SetDraining(v bool) { s.draining.Store(v) }

type healthResponse struct {
	Status  string `json:"status"`
	Details any    `json:"details,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	if s.draining.Load() {
		writeSuccess(w, http.StatusServiceUnavailable, healthResponse{Status: "draining"})
		return
	}
	resp := healthResponse{Status: "ok"}
	if s.deps.Status != nil {
		resp.Details = s.deps.Status()
	}
	writeSuccess(w, http.StatusOK, resp)
}

// param returns the unescaped route parameter, or a 400.
func param(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	v, err := url.PathUnescape(raw)
	if err != nil || v == "" {
		return "", BadRequest("invalid " + name)
	}
	return v, nil
}
