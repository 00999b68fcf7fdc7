package states

import (
	"context"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
)

// PauseState holds the run in PAUSED. It continues on a RESUME event, or
// when its approval id is notified; the notified status decides the outcome.
type PauseState struct {
	name string
}

// NewPauseState creates a PauseState.
func NewPauseState(name string) *PauseState {
	return &PauseState{name: name}
}

func (s *PauseState) Name() string           { return s.name }
func (s *PauseState) Type() domain.StateType { return domain.StateTypePause }

// Execute parks the instance and publishes its approval id in the state data.
func (s *PauseState) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	inst := ec.Instance()
	approvalID := ids.Correlation(inst.RunID, inst.ID, "approval")
	return &domain.ExecutionResponse{
		Async:              true,
		Status:             domain.StatusPaused,
		CorrelationIDs:     []string{approvalID},
		StateExecutionData: &domain.StateExecutionData{Data: map[string]any{"approvalId": approvalID}},
	}, nil
}

// HandleAsyncResponse applies the approver's verdict.
func (s *PauseState) HandleAsyncResponse(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error) {
	return joinResponses(responses), nil
}

// HandleEvent succeeds on RESUME and aborts on ABORT.
func (s *PauseState) HandleEvent(ctx context.Context, ec domain.ExecutionContext, event domain.ExecutionEvent) (*domain.ExecutionResponse, error) {
	switch event.Type {
	case domain.EventResume:
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	case domain.EventAbort:
		return &domain.ExecutionResponse{Status: domain.StatusAborted, ErrorMessage: "aborted while paused"}, nil
	}
	return nil, nil
}
