package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/lattice/pkg/domain"
)

// StreamManager fans bus events out to active SSE connections.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[chan []byte]map[domain.EventType]struct{} // channel -> type filter (empty = all)
	logger      *slog.Logger
}

func NewStreamManager(logger *slog.Logger) *StreamManager {
	return &StreamManager{
		subscribers: make(map[chan []byte]map[domain.EventType]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a connection. types filters the stream; none means every type.
func (sm *StreamManager) Subscribe(types ...domain.EventType) (<-chan []byte, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan []byte, 16)
	filter := make(map[domain.EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	sm.subscribers[ch] = filter

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[ch]; ok {
			delete(sm.subscribers, ch)
			close(ch)
		}
	}
}

// Publish encodes evt once and offers it to every matching subscriber.
// It has the domain.EventHandler signature so it can subscribe to a bus.
func (sm *StreamManager) Publish(_ context.Context, evt domain.Event) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if len(sm.subscribers) == 0 {
		return
	}

	msg, err := json.Marshal(evt)
	if err != nil {
		sm.logger.Error("SSE: failed to encode event", "event", evt.Type, "err", err)
		return
	}

	for ch, filter := range sm.subscribers {
		if len(filter) > 0 {
			if _, ok := filter[evt.Type]; !ok {
				continue
			}
		}
		select {
		case ch <- msg:
		default:
			// Drop message if channel is full (slow client)
			sm.logger.Warn("SSE: client buffer full, dropping message", "event", evt.Type)
		}
	}
}

// Subscribers returns the number of open streams.
func (sm *StreamManager) Subscribers() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.subscribers)
}

// subscribeEvents handles GET /events?type=a,b (SSE).
func (s *Server) subscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SSE: streaming not supported")
		return
	}

	var types []domain.EventType
	if raw := r.URL.Query().Get("type"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, domain.EventType(t))
			}
		}
	}

	ch, cancel := s.streams.Subscribe(types...)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE: client subscribed", "types", types)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE: client disconnected")
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
