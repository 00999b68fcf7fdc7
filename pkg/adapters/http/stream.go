package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/go-chi/chi/v5"
)

// Message is one server-sent event about a run.
type Message struct {
	Event string
	Data  []byte
}

// StreamManager fans lifecycle events out to SSE subscribers, keyed by run id.
type StreamManager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan<- Message]struct{}
	logger      *slog.Logger
}

// NewStreamManager creates an empty StreamManager.
func NewStreamManager() *StreamManager {
	return &StreamManager{
		subscribers: make(map[string]map[chan<- Message]struct{}),
		logger:      logging.NewNop(),
	}
}

// SetLogger replaces the manager's logger.
func (sm *StreamManager) SetLogger(logger *slog.Logger) {
	sm.logger = logger
}

// Subscribe returns a channel of the run's events and a function releasing it.
func (sm *StreamManager) Subscribe(runID string) (chan Message, func()) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ch := make(chan Message, 16)
	if _, ok := sm.subscribers[runID]; !ok {
		sm.subscribers[runID] = make(map[chan<- Message]struct{})
	}
	sm.subscribers[runID][ch] = struct{}{}

	return ch, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if subs, ok := sm.subscribers[runID]; ok {
			if _, ok := subs[ch]; !ok {
				return
			}
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(sm.subscribers, runID)
			}
		}
	}
}

// Broadcast sends v, JSON encoded, to the run's subscribers.
func (sm *StreamManager) Broadcast(runID, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		sm.logger.Error("StreamManager: encode failed", "event", event, "error", err)
		return
	}

	sm.mu.RLock()
	defer sm.mu.RUnlock()
	for ch := range sm.subscribers[runID] {
		select {
		case ch <- Message{Event: event, Data: data}:
		default:
			// Slow client.
			sm.logger.Warn("SSE: Client buffer full, dropping message", "run_id", runID, "event", event)
		}
	}
}

// Hooks publishes the executor's lifecycle events to subscribers.
func (sm *StreamManager) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnInstanceStart: func(_ context.Context, ev *domain.InstanceEvent) {
			sm.Broadcast(ev.RunID, "instance_start", ev)
		},
		OnInstanceEnd: func(_ context.Context, ev *domain.InstanceEvent) {
			sm.Broadcast(ev.RunID, "instance_end", ev)
		},
		OnTransition: func(_ context.Context, ev *domain.TransitionEvent) {
			sm.Broadcast(ev.RunID, "transition", ev)
		},
		OnRunEnd: func(_ context.Context, ev *domain.RunEvent) {
			if !ev.Branch {
				sm.Broadcast(ev.RunID, "run_end", ev)
			}
		},
	}
}

// SubscribeEvents handles GET /runs/{runID}/events (SSE). The optional
// watch query parameter filters by event name, comma separated.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.logger.Error("SubscribeEvents: Streaming not supported")
		return
	}

	runID := chi.URLParam(r, "runID")
	watch := make(map[string]bool)
	if q := r.URL.Query().Get("watch"); q != "" {
		for _, name := range strings.Split(q, ",") {
			watch[strings.TrimSpace(name)] = true
		}
	}

	ch, cancel := s.Streams.Subscribe(runID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()
	s.logger.Info("SSE: Subscribed to run", "run_id", runID)

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("SSE Client Disconnected", "run_id", runID)
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if len(watch) > 0 && !watch[msg.Event] {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data)
			flusher.Flush()
			if msg.Event == "run_end" {
				return
			}
		}
	}
}
