// Package http exposes an orchestra engine over a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/internal/presentation/graph"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/loader"
	"github.com/go-chi/chi/v5"
)

// maxDefinitionSize bounds uploaded graph definitions.
const maxDefinitionSize = 1 << 20

// Engine defines what the API needs from the orchestra engine.
type Engine interface {
	Load(ctx context.Context, sm *domain.StateMachine) error
	StateMachine(ctx context.Context, id string) (*domain.StateMachine, error)
	Execute(ctx context.Context, stateMachineID, runID string, elements []domain.ContextElement, cb *domain.Callback) (*domain.StateExecutionInstance, error)
	Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error
	HandleEvent(ctx context.Context, ev domain.ExecutionEvent) error
	Instance(ctx context.Context, id string) (*domain.StateExecutionInstance, error)
	RunInstances(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error)
}

// Server serves the orchestra API.
type Server struct {
	Engine  Engine
	Streams *StreamManager
	Version string

	logger  *slog.Logger
	metrics http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts h under GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithStreams shares a StreamManager whose Hooks are installed on the engine.
func WithStreams(streams *StreamManager) Option {
	return func(s *Server) {
		s.Streams = streams
	}
}

// WithVersion sets the version reported by GET /info.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.Version = v
	}
}

// NewServer creates a Server for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		Engine:  engine,
		Version: "dev",
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Streams == nil {
		s.Streams = NewStreamManager()
	}
	return s
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	return NewServer(engine, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Post("/statemachines", s.LoadStateMachine)
	r.Get("/statemachines/{id}", s.GetStateMachine)
	r.Get("/statemachines/{id}/graph", s.GetGraph)

	r.Post("/runs", s.StartRun)
	r.Get("/runs/{runID}/instances", s.ListRunInstances)
	r.Get("/runs/{runID}/events", s.SubscribeEvents)

	r.Get("/instances/{id}", s.GetInstance)
	r.Post("/instances/{id}/events", s.PostEvent)

	r.Post("/notify/{correlationID}", s.PostNotify)

	return enableCORS(r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartRunRequest is the body of POST /runs.
type StartRunRequest struct {
	StateMachineID string                  `json:"state_machine_id"`
	RunID          string                  `json:"run_id,omitempty"`
	Elements       []domain.ContextElement `json:"elements,omitempty"`
	Callback       *domain.Callback        `json:"callback,omitempty"`
}

// EventRequest is the body of POST /instances/{id}/events.
type EventRequest struct {
	Type    domain.EventType `json:"type"`
	RunID   string           `json:"run_id,omitempty"`
	Payload map[string]any   `json:"payload,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoadStateMachine handles POST /statemachines. The body is a YAML or JSON
// definition, chosen by Content-Type.
func (s *Server) LoadStateMachine(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxDefinitionSize))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}

	format := loader.FormatYAML
	if strings.Contains(r.Header.Get("Content-Type"), "json") {
		format = loader.FormatJSON
	}
	sm, err := loader.Parse(data, format)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
		return
	}
	if err := s.Engine.Load(r.Context(), sm); err != nil {
		if statusCode(err) == http.StatusInternalServerError {
			s.writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sm)
}

// GetStateMachine handles GET /statemachines/{id}.
func (s *Server) GetStateMachine(w http.ResponseWriter, r *http.Request) {
	sm, err := s.Engine.StateMachine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sm)
}

// GetGraph handles GET /statemachines/{id}/graph. It answers a Mermaid
// flowchart, overlaid with the progress of run_id when given.
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	sm, err := s.Engine.StateMachine(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var overlay *graph.Overlay
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		instances, err := s.Engine.RunInstances(r.Context(), runID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		overlay = graph.OverlayFromInstances(instances)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, graph.GenerateMermaid(sm, overlay))
}

// StartRun handles POST /runs.
func (s *Server) StartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRunRequest
	if !s.decode(w, r, &body) {
		return
	}
	if body.StateMachineID == "" {
		s.writeError(w, r, fmt.Errorf("%w: state_machine_id is required", domain.ErrInvalidRequest))
		return
	}

	inst, err := s.Engine.Execute(r.Context(), body.StateMachineID, body.RunID, body.Elements, body.Callback)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, inst)
}

// ListRunInstances handles GET /runs/{runID}/instances.
func (s *Server) ListRunInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.Engine.RunInstances(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.StateExecutionInstance{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// GetInstance handles GET /instances/{id}.
func (s *Server) GetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.Engine.Instance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

// PostEvent handles POST /instances/{id}/events.
func (s *Server) PostEvent(w http.ResponseWriter, r *http.Request) {
	var body EventRequest
	if !s.decode(w, r, &body) {
		return
	}
	ev := domain.ExecutionEvent{
		Type:       domain.EventType(strings.ToUpper(string(body.Type))),
		RunID:      body.RunID,
		InstanceID: chi.URLParam(r, "id"),
		Payload:    body.Payload,
	}
	if err := s.Engine.HandleEvent(r.Context(), ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostNotify handles POST /notify/{correlationID}.
func (s *Server) PostNotify(w http.ResponseWriter, r *http.Request) {
	var body domain.NotifyResponse
	if !s.decode(w, r, &body) {
		return
	}
	if body.Status == "" {
		body.Status = domain.StatusSuccess
	}
	if err := s.Engine.Notify(r.Context(), chi.URLParam(r, "correlationID"), body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":     "orchestra",
		"version": strings.TrimSpace(s.Version),
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Warn("Request rejected", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func statusCode(err error) int {
	var graphErr *domain.GraphValidationError
	switch {
	case errors.Is(err, domain.ErrInstanceNotFound),
		errors.Is(err, domain.ErrStateMachineNotFound),
		errors.Is(err, domain.ErrStateNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStaleInstance):
		return http.StatusConflict
	case errors.As(err, &graphErr), errors.Is(err, domain.ErrUnknownStateType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
