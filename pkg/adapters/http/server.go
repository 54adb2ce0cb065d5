// Package http exposes a lattice engine over HTTP with chi: mutation ingest,
// queue and conflict inspection, the authoritative /apply endpoint, Prometheus
// metrics, and a server-sent event stream of bus events.
package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/lattice/internal/logging"
	"github.com/aretw0/lattice/pkg/bus"
	"github.com/aretw0/lattice/pkg/conflict"
	"github.com/aretw0/lattice/pkg/domain"
	"github.com/aretw0/lattice/pkg/index"
	"github.com/aretw0/lattice/pkg/ports"
	"github.com/aretw0/lattice/pkg/queue"
)

// Server routes HTTP requests to the engine components it was given.
// Routes for a missing component are not mounted.
//
// The index is single-writer, so the server serializes every index call
// through ixLock. Hosts that also write the index pass their own lock with
// WithIndex.
type Server struct {
	queue    *queue.Queue
	resolver *conflict.Resolver
	applier  ports.RemoteTarget
	events   ports.EventBus
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string

	ixLock sync.Locker
	index  *index.Index
	edges  ports.GraphStore

	streams *StreamManager
	unsub   ports.UnsubscribeFunc
}

// Option configures a Server.
type Option func(*Server)

// WithQueue mounts /mutations, /sync, /connectivity and /queue.
func WithQueue(q *queue.Queue) Option {
	return func(s *Server) {
		s.queue = q
	}
}

// WithResolver mounts /conflicts.
func WithResolver(r *conflict.Resolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithIndex mounts /index. A nil lock gives the server a private mutex.
func WithIndex(ix *index.Index, lock sync.Locker) Option {
	return func(s *Server) {
		s.index = ix
		s.ixLock = lock
	}
}

// WithEdgeStore writes edges added or removed through /index to store, as
// the engine does for its own edge calls.
func WithEdgeStore(store ports.GraphStore) Option {
	return func(s *Server) {
		s.edges = store
	}
}

// WithApplier mounts POST /apply, making this server the remote other
// queues drain into.
func WithApplier(t ports.RemoteTarget) Option {
	return func(s *Server) {
		s.applier = t
	}
}

// WithEvents mounts GET /events and streams every event published on b.
func WithEvents(b ports.EventBus) Option {
	return func(s *Server) {
		s.events = b
	}
}

// WithGatherer mounts GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger configures the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVersion sets the version reported by /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a server. Call Close to detach it from the event bus.
func New(opts ...Option) *Server {
	s := &Server{
		logger:  logging.NewNop(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ixLock == nil {
		s.ixLock = &sync.Mutex{}
	}
	s.streams = NewStreamManager(s.logger)
	if s.events != nil {
		s.unsub = s.events.Subscribe(bus.Wildcard, s.streams.Publish)
	}
	return s
}

// Close stops forwarding bus events to stream subscribers.
func (s *Server) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.getHealth)
	r.Get("/info", s.getInfo)

	if s.queue != nil {
		r.Route("/mutations", func(r chi.Router) {
			r.Get("/", s.listMutations)
			r.Post("/", s.queueMutation)
			r.Get("/{id}", s.getMutation)
			r.Delete("/{id}", s.removeMutation)
			r.Post("/{id}/retry", s.retryMutation)
		})
		r.Post("/sync", s.sync)
		r.Put("/connectivity", s.setConnectivity)
		r.Get("/queue/stats", s.queueStats)
	}
	if s.resolver != nil {
		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", s.listConflicts)
			r.Get("/history", s.conflictHistory)
			r.Get("/metrics", s.conflictMetrics)
			r.Post("/{id}/resolve", s.resolveConflict)
		})
	}
	if s.index != nil {
		r.Route("/index", func(r chi.Router) {
			r.Get("/edges", s.queryEdges)
			r.Post("/edges", s.addEdges)
			r.Delete("/edges/{id}", s.removeEdge)
			r.Get("/stats", s.indexStats)
		})
	}
	if s.applier != nil {
		r.Post("/apply", s.apply)
	}
	if s.events != nil {
		r.Get("/events", s.subscribeEvents)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "lattice-http",
		"version": strings.TrimSpace(s.version),
	})
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Warn("invalid request body", "path", r.URL.Path, "err", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "err", err)
	}
}

// writeError maps domain errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
