package ports

import (
	"context"

	"github.com/aretw0/orchestra/pkg/domain"
)

// InstanceStore persists execution instances.
// Implementations return copies; callers never share memory with the store.
type InstanceStore interface {
	// Save persists a new instance and assigns its ID.
	// It fails with domain.ErrInvalidRequest when the instance already has an ID.
	Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error)

	// Get returns domain.ErrInstanceNotFound if the instance does not exist.
	Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error)

	// Update replaces the stored instance only when its stored status is one
	// of allowed (any status when allowed is empty). Otherwise it returns
	// domain.ErrStaleInstance and leaves the record untouched.
	Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error

	// ListByRun returns every instance of a run ordered by creation.
	ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error)
}

// StateMachineStore persists graph definitions. Behaviors are never stored;
// returned machines must be loaded before use.
type StateMachineStore interface {
	SaveStateMachine(ctx context.Context, sm *domain.StateMachine) error

	// GetStateMachine returns domain.ErrStateMachineNotFound if the id is unknown.
	GetStateMachine(ctx context.Context, id string) (*domain.StateMachine, error)
}

// StateMachineLoader attaches behaviors to a stored definition and validates it.
type StateMachineLoader interface {
	Load(sm *domain.StateMachine) error
}
