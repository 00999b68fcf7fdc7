// Package mcp exposes an orchestra engine to MCP clients as tools and resources.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/internal/presentation/graph"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// stateMachineURI prefixes the resource holding a definition.
const stateMachineURI = "orchestra://statemachines/"

// Engine defines what the MCP server needs from the orchestra engine.
type Engine interface {
	StateMachine(ctx context.Context, id string) (*domain.StateMachine, error)
	Execute(ctx context.Context, stateMachineID, runID string, elements []domain.ContextElement, cb *domain.Callback) (*domain.StateExecutionInstance, error)
	Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error
	HandleEvent(ctx context.Context, ev domain.ExecutionEvent) error
	Instance(ctx context.Context, id string) (*domain.StateExecutionInstance, error)
	RunInstances(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error)
}

// InstanceSummary is the view of one instance returned by the tools.
type InstanceSummary struct {
	ID           string                 `json:"id" jsonschema_description:"Instance id"`
	RunID        string                 `json:"run_id" jsonschema_description:"Run the instance belongs to"`
	StateName    string                 `json:"state_name" jsonschema_description:"State the instance executes"`
	StateType    domain.StateType       `json:"state_type"`
	Status       domain.ExecutionStatus `json:"status" jsonschema_description:"Execution status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ParentID     string                 `json:"parent_instance_id,omitempty" jsonschema_description:"Set on branch instances"`
	Data         map[string]any         `json:"data,omitempty" jsonschema_description:"Outputs of the state"`
}

// RunResponse lists the instances of a run in creation order.
type RunResponse struct {
	RunID     string            `json:"run_id"`
	Instances []InstanceSummary `json:"instances" jsonschema_description:"Instances of the run, oldest first"`
	// Waiting lists the ids an operator can act on: paused instances and their approval ids.
	Waiting []string `json:"waiting,omitempty" jsonschema_description:"Approval ids of paused instances"`
}

// Server wraps the orchestra Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("orchestra-mcp", strings.TrimSpace(version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_run",
		mcp.WithDescription("Start a run of a loaded state machine and return its first instance."),
		mcp.WithString("state_machine_id", mcp.Required(), mcp.Description("Id of the state machine")),
		mcp.WithString("run_id", mcp.Description("Run id (generated when omitted)")),
		mcp.WithString("elements", mcp.Description(`JSON array of seed context elements, e.g. [{"type":"HOST","name":"web-1"}]`)),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleStartRun))

	s.mcpServer.AddTool(mcp.NewTool("get_run",
		mcp.WithDescription("List the instances of a run and the approval ids it waits on."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Run id")),
		mcp.WithOutputSchema[RunResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetRun))

	s.mcpServer.AddTool(mcp.NewTool("get_instance",
		mcp.WithDescription("Get one execution instance."),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance id")),
		mcp.WithOutputSchema[InstanceSummary](),
	), mcp.NewStructuredToolHandler(s.handleGetInstance))

	s.mcpServer.AddTool(mcp.NewTool("send_event",
		mcp.WithDescription("Send RESUME, ABORT or RETRY to an instance."),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("Instance id")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Event type")),
		mcp.WithString("run_id", mcp.Description("Run id, checked against the instance")),
	), s.handleSendEvent)

	s.mcpServer.AddTool(mcp.NewTool("notify",
		mcp.WithDescription("Complete an awaited correlation id, such as the approvalId of a paused state."),
		mcp.WithString("correlation_id", mcp.Required(), mcp.Description("Correlation id")),
		mcp.WithString("status", mcp.Description("SUCCESS (default) or FAILED")),
		mcp.WithString("error_message", mcp.Description("Reason for a failure")),
	), s.handleNotify)

	s.mcpServer.AddTool(mcp.NewTool("get_graph",
		mcp.WithDescription("Render a state machine as a Mermaid flowchart, optionally overlaid with a run."),
		mcp.WithString("state_machine_id", mcp.Required(), mcp.Description("Id of the state machine")),
		mcp.WithString("run_id", mcp.Description("Run whose progress is highlighted")),
	), s.handleGetGraph)
}

func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	smID, _ := args["state_machine_id"].(string)
	runID, _ := args["run_id"].(string)

	var elements []domain.ContextElement
	if raw, ok := args["elements"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &elements); err != nil {
			return RunResponse{}, fmt.Errorf("invalid elements: %w", err)
		}
	}

	first, err := s.engine.Execute(ctx, smID, runID, elements, nil)
	if err != nil {
		return RunResponse{}, fmt.Errorf("start failed: %w", err)
	}
	s.logger.Info("MCP: Run started", "run_id", first.RunID, "state_machine_id", smID)
	return s.run(ctx, first.RunID)
}

func (s *Server) handleGetRun(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (RunResponse, error) {
	runID, _ := args["run_id"].(string)
	return s.run(ctx, runID)
}

func (s *Server) handleGetInstance(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (InstanceSummary, error) {
	id, _ := args["instance_id"].(string)
	inst, err := s.engine.Instance(ctx, id)
	if err != nil {
		return InstanceSummary{}, err
	}
	return summarize(inst), nil
}

func (s *Server) handleSendEvent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	typ, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ev := domain.ExecutionEvent{
		Type:       domain.EventType(strings.ToUpper(typ)),
		RunID:      request.GetString("run_id", ""),
		InstanceID: id,
	}
	if err := s.engine.HandleEvent(ctx, ev); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("event rejected: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s accepted by %s", ev.Type, id)), nil
}

func (s *Server) handleNotify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	correlationID, err := request.RequireString("correlation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resp := domain.NotifyResponse{
		Status:       domain.ExecutionStatus(strings.ToUpper(request.GetString("status", string(domain.StatusSuccess)))),
		ErrorMessage: request.GetString("error_message", ""),
	}
	if err := s.engine.Notify(ctx, correlationID, resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("notify failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s notified with %s", correlationID, resp.Status)), nil
}

func (s *Server) handleGetGraph(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("state_machine_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	sm, err := s.engine.StateMachine(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var overlay *graph.Overlay
	if runID := request.GetString("run_id", ""); runID != "" {
		instances, err := s.engine.RunInstances(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		overlay = graph.OverlayFromInstances(instances)
	}
	return mcp.NewToolResultText(graph.GenerateMermaid(sm, overlay)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate(stateMachineURI+"{id}", "State machine definition",
		mcp.WithTemplateDescription("The definition of a loaded state machine"),
		mcp.WithTemplateMIMEType("application/json"),
	), s.readStateMachine)
}

func (s *Server) readStateMachine(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	sm, err := s.engine.StateMachine(ctx, strings.TrimPrefix(uri, stateMachineURI))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(sm.Definition())
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: "application/json", Text: string(data)},
	}, nil
}

func (s *Server) run(ctx context.Context, runID string) (RunResponse, error) {
	list, err := s.engine.RunInstances(ctx, runID)
	if err != nil {
		return RunResponse{}, err
	}
	out := RunResponse{RunID: runID, Instances: make([]InstanceSummary, 0, len(list))}
	for _, inst := range list {
		out.Instances = append(out.Instances, summarize(inst))
		data := inst.ExecutionData()
		if inst.Status != domain.StatusPaused || data == nil {
			continue
		}
		if id, ok := data.Data["approvalId"].(string); ok {
			out.Waiting = append(out.Waiting, id)
		}
	}
	return out, nil
}

func summarize(inst *domain.StateExecutionInstance) InstanceSummary {
	out := InstanceSummary{
		ID:        inst.ID,
		RunID:     inst.RunID,
		StateName: inst.StateName,
		StateType: inst.StateType,
		Status:    inst.Status,
		ParentID:  inst.ParentInstanceID,
	}
	if data := inst.ExecutionData(); data != nil {
		out.ErrorMessage = data.ErrorMessage
		out.Data = data.Data
	}
	return out
}
