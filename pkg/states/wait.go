package states

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
	"github.com/aretw0/orchestra/pkg/ports"
)

// WaitConfig is the definition config of a WAIT state.
type WaitConfig struct {
	Duration time.Duration `mapstructure:"duration"`
}

// WaitState succeeds once Duration has elapsed. The timer lives in the
// process that executed the state.
type WaitState struct {
	name     string
	cfg      WaitConfig
	notifier ports.WaitNotifier
	logger   *slog.Logger
}

// NewWaitState creates a WaitState signalling through notifier.
func NewWaitState(name string, cfg WaitConfig, notifier ports.WaitNotifier, logger *slog.Logger) *WaitState {
	return &WaitState{name: name, cfg: cfg, notifier: notifier, logger: logger}
}

func (s *WaitState) Name() string           { return s.name }
func (s *WaitState) Type() domain.StateType { return domain.StateTypeWait }

// Execute schedules the wake-up and waits on it.
func (s *WaitState) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	inst := ec.Instance()
	correlationID := ids.Correlation(inst.RunID, inst.ID, "wait")

	time.AfterFunc(s.cfg.Duration, func() {
		err := s.notifier.Notify(context.Background(), correlationID, domain.NotifyResponse{Status: domain.StatusSuccess})
		if err != nil {
			s.logger.Error("Failed to signal wait expiry", "state", s.name, "instance_id", inst.ID, "err", err)
		}
	})

	return &domain.ExecutionResponse{
		Async:              true,
		Status:             domain.StatusRunning,
		CorrelationIDs:     []string{correlationID},
		StateExecutionData: &domain.StateExecutionData{Data: map[string]any{"duration": s.cfg.Duration.String()}},
	}, nil
}

// HandleAsyncResponse completes the wait.
func (s *WaitState) HandleAsyncResponse(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error) {
	return joinResponses(responses), nil
}
