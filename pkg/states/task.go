package states

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/registry"
)

// TaskConfig is the definition config of a TASK state.
type TaskConfig struct {
	Task string         `mapstructure:"task"`
	Args map[string]any `mapstructure:"args"`
}

// TaskState runs a registered task synchronously. String arguments are
// rendered as expressions first; outputs become the state's data.
type TaskState struct {
	name     string
	cfg      TaskConfig
	registry *registry.Registry
}

// NewTaskState creates a TaskState.
func NewTaskState(name string, cfg TaskConfig, reg *registry.Registry) *TaskState {
	return &TaskState{name: name, cfg: cfg, registry: reg}
}

func (s *TaskState) Name() string           { return s.name }
func (s *TaskState) Type() domain.StateType { return domain.StateTypeTask }

// Execute renders the arguments and calls the task. A task error is a FAILED
// response, not an executor error.
func (s *TaskState) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	args, err := renderArgs(ec, s.cfg.Args)
	if err != nil {
		return nil, fmt.Errorf("task state %q: %w", s.name, err)
	}

	out, err := s.registry.Execute(ctx, s.cfg.Task, ec, args)
	if err != nil {
		return &domain.ExecutionResponse{
			Status:             domain.StatusFailed,
			ErrorMessage:       err.Error(),
			StateExecutionData: &domain.StateExecutionData{Data: map[string]any{"task": s.cfg.Task}},
		}, nil
	}
	return &domain.ExecutionResponse{
		Status:             domain.StatusSuccess,
		StateExecutionData: &domain.StateExecutionData{Data: out},
	}, nil
}

func renderArgs(ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for k, v := range args {
		rendered, err := renderValue(ec, v)
		if err != nil {
			return nil, fmt.Errorf("arg %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(ec domain.ExecutionContext, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if !strings.Contains(val, "${") {
			return val, nil
		}
		return ec.RenderExpression(val)
	case map[string]any:
		return renderArgs(ec, val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := renderValue(ec, item)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	}
	return v, nil
}
