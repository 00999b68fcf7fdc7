package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
)

// Store implements ports.InstanceStore and ports.StateMachineStore in memory.
// Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*domain.StateExecutionInstance
	runs      map[string][]string
	machines  map[string]*domain.StateMachine
	ids       ids.IDer
}

// Option configures the Store.
type Option func(*Store)

// WithIDer sets the generator used for new instance ids.
func WithIDer(ider ids.IDer) Option {
	return func(s *Store) {
		s.ids = ider
	}
}

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		instances: make(map[string]*domain.StateExecutionInstance),
		runs:      make(map[string][]string),
		machines:  make(map[string]*domain.StateMachine),
		ids:       ids.NewUUID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save persists a new instance and assigns its ID.
func (s *Store) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst.ID != "" {
		return nil, fmt.Errorf("%w: instance %s is already persisted", domain.ErrInvalidRequest, inst.ID)
	}

	// Deep copy to ensure isolation, similar to serialization
	stored := inst.Copy()
	stored.ID = s.ids.ID()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.instances[stored.ID]; dup {
		return nil, fmt.Errorf("%w: instance id %s collides", domain.ErrInvalidRequest, stored.ID)
	}
	s.instances[stored.ID] = stored
	s.runs[stored.RunID] = append(s.runs[stored.RunID], stored.ID)
	return stored.Copy(), nil
}

// Get retrieves an instance.
func (s *Store) Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, domain.ErrInstanceNotFound
	}
	// Create a copy on read so caller can't mutate store state directly by pointer
	return inst.Copy(), nil
}

// Update replaces the instance if its stored status is allowed.
func (s *Store) Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.instances[inst.ID]
	if !ok {
		return domain.ErrInstanceNotFound
	}
	if len(allowed) > 0 && !current.Status.In(allowed...) {
		return fmt.Errorf("%w: instance %s is %s", domain.ErrStaleInstance, inst.ID, current.Status)
	}
	s.instances[inst.ID] = inst.Copy()
	return nil
}

// ListByRun returns the instances of a run in creation order.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idList := s.runs[runID]
	out := make([]*domain.StateExecutionInstance, 0, len(idList))
	for _, id := range idList {
		out = append(out, s.instances[id].Copy())
	}
	return out, nil
}

// SaveStateMachine stores the definition of sm.
func (s *Store) SaveStateMachine(ctx context.Context, sm *domain.StateMachine) error {
	if sm.ID == "" {
		return fmt.Errorf("%w: state machine has no id", domain.ErrInvalidRequest)
	}
	def := sm.Definition()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.machines[sm.ID] = def
	return nil
}

// GetStateMachine returns the stored definition.
func (s *Store) GetStateMachine(ctx context.Context, id string) (*domain.StateMachine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sm, ok := s.machines[id]
	if !ok {
		return nil, domain.ErrStateMachineNotFound
	}
	return sm.Definition(), nil
}
