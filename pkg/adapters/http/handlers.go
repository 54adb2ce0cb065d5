package http

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aretw0/lattice/pkg/conflict"
	"github.com/aretw0/lattice/pkg/domain"
)

// listMutations handles GET /mutations?status=pending|failed.
func (s *Server) listMutations(w http.ResponseWriter, r *http.Request) {
	var out []domain.Mutation
	switch status := r.URL.Query().Get("status"); status {
	case "":
		out = s.queue.All()
	case string(domain.MutationPending):
		out = s.queue.Pending()
	case string(domain.MutationFailed):
		out = s.queue.Failed()
	default:
		s.writeError(w, r, domain.Invalid("status", "unsupported filter "+status))
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) queueMutation(w http.ResponseWriter, r *http.Request) {
	var m domain.Mutation
	if !s.decode(w, r, &m) {
		return
	}
	queued, err := s.queue.QueueMutation(r.Context(), m)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, queued)
}

func (s *Server) getMutation(w http.ResponseWriter, r *http.Request) {
	m, err := s.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) removeMutation(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) retryMutation(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.queue.Sync(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) setConnectivity(w http.ResponseWriter, r *http.Request) {
	var body domain.NetworkStatus
	if !s.decode(w, r, &body) {
		return
	}
	s.queue.SetOnline(r.Context(), body.Online)
	s.writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queue.Stats())
}

func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.resolver.Pending())
}

func (s *Server) conflictHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.resolver.History())
}

func (s *Server) conflictMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.resolver.Metrics())
}

// resolveConflict handles POST /conflicts/{id}/resolve with {"strategy", "options"}.
func (s *Server) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var body conflict.BatchRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.resolver.ResolveConflict(r.Context(), chi.URLParam(r, "id"), body.Strategy, body.Options)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// queryEdges handles GET /index/edges with EdgeCriteria fields as query parameters.
func (s *Server) queryEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := domain.EdgeCriteria{
		SourceGraph: domain.GraphType(q.Get("sourceGraph")),
		SourceNode:  q.Get("sourceNode"),
		TargetGraph: domain.GraphType(q.Get("targetGraph")),
		TargetNode:  q.Get("targetNode"),
		EdgeType:    q.Get("edgeType"),
	}
	s.ixLock.Lock()
	edges := s.index.Query(c)
	s.ixLock.Unlock()
	s.writeJSON(w, http.StatusOK, edges)
}

// addEdges handles POST /index/edges with a JSON array of edges. Every edge is
// validated before any is added.
func (s *Server) addEdges(w http.ResponseWriter, r *http.Request) {
	var edges []domain.CrossGraphEdge
	if !s.decode(w, r, &edges) {
		return
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.ixLock.Lock()
	err := s.index.AddEdges(edges)
	s.ixLock.Unlock()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.edges != nil {
		if err := s.edges.PersistCrossGraphEdges(r.Context(), edges); err != nil {
			s.writeError(w, r, fmt.Errorf("persisting edges: %w", err))
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) removeEdge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.ixLock.Lock()
	ok := s.index.RemoveEdge(id)
	s.ixLock.Unlock()
	if s.edges != nil {
		if err := s.edges.DeleteCrossGraphEdges(r.Context(), []string{id}); err != nil {
			s.writeError(w, r, fmt.Errorf("deleting edge %s: %w", id, err))
			return
		}
	}
	if !ok {
		s.writeError(w, r, domain.NotFound("edge", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) indexStats(w http.ResponseWriter, r *http.Request) {
	s.ixLock.Lock()
	st := s.index.Stats()
	s.ixLock.Unlock()
	s.writeJSON(w, http.StatusOK, st)
}

// apply handles POST /apply: the authoritative write a remote queue drains into.
func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	var m domain.Mutation
	if !s.decode(w, r, &m) {
		return
	}
	if err := s.applier.Apply(r.Context(), m); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
