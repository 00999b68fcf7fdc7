package states

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
)

// ForkConfig is the definition config of a FORK state.
type ForkConfig struct {
	ForkStateNames []string `mapstructure:"forkStateNames"`
}

// ForkState starts every fork target as a child branch and succeeds only
// when all of them succeed.
type ForkState struct {
	name string

	mu      sync.RWMutex
	targets []string
}

// NewForkState creates a ForkState. Targets are normally filled in from the
// graph's FORK edges.
func NewForkState(name string, targets ...string) *ForkState {
	return &ForkState{name: name, targets: targets}
}

func (s *ForkState) Name() string           { return s.name }
func (s *ForkState) Type() domain.StateType { return domain.StateTypeFork }

// SetForkTargets replaces the targets with the graph's FORK edges.
func (s *ForkState) SetForkTargets(names []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append([]string(nil), names...)
}

// ForkTargets returns the states started as branches.
func (s *ForkState) ForkTargets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.targets...)
}

// Execute spawns one child per target, each signalling its own correlation id.
func (s *ForkState) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	targets := s.ForkTargets()
	if len(targets) == 0 {
		return nil, fmt.Errorf("fork state %q has no fork targets", s.name)
	}

	inst := ec.Instance()
	resp := &domain.ExecutionResponse{
		Async:  true,
		Status: domain.StatusRunning,
		StateExecutionData: &domain.StateExecutionData{
			Data: map[string]any{"forkStateNames": targets},
		},
	}
	for _, target := range targets {
		correlationID := ids.Correlation(inst.RunID, inst.ID, target)
		resp.CorrelationIDs = append(resp.CorrelationIDs, correlationID)
		resp.Children = append(resp.Children, inst.Spawn(target, correlationID))
	}
	return resp, nil
}

// HandleAsyncResponse joins the branches.
func (s *ForkState) HandleAsyncResponse(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error) {
	return joinResponses(responses), nil
}

func joinResponses(responses map[string]domain.NotifyResponse) *domain.ExecutionResponse {
	status, messages := domain.AggregateStatus(responses)
	resp := &domain.ExecutionResponse{Status: status}
	if status != domain.StatusSuccess {
		sort.Strings(messages)
		resp.ErrorMessage = strings.Join(messages, "; ")
		if resp.ErrorMessage == "" {
			resp.ErrorMessage = "one or more branches did not succeed"
		}
	}
	return resp
}
