// Package diskv implements a diskv-backed instance and state machine store.
package diskv

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
	"github.com/peterbourgon/diskv/v3"
)

// Store is an on-disk implementation of ports.InstanceStore and
// ports.StateMachineStore for single-process deployments.
type Store struct {
	mu        sync.Mutex
	instances *diskv.Diskv
	runs      *diskv.Diskv
	machines  *diskv.Diskv
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

// New creates a store rooted at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		instances: open(filepath.Join(path, "instances")),
		runs:      open(filepath.Join(path, "runs")),
		machines:  open(filepath.Join(path, "machines")),
		ids:       ids.NewUUID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func open(path string) *diskv.Diskv {
	flatTransform := func(s string) []string { return []string{} }
	return diskv.New(diskv.Options{
		BasePath:     path,
		Transform:    flatTransform,
		CacheSizeMax: 1024 * 1024,
	})
}

// fileKey makes an arbitrary id safe to use as a file name.
func fileKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// Save persists a new instance and assigns its ID.
func (s *Store) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst.ID != "" {
		return nil, fmt.Errorf("%w: instance %s is already persisted", domain.ErrInvalidRequest, inst.ID)
	}
	stored := inst.Copy()
	stored.ID = s.ids.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey(stored.ID)
	if s.instances.Has(key) {
		return nil, fmt.Errorf("%w: instance id %s collides", domain.ErrInvalidRequest, stored.ID)
	}
	if err := s.writeInstance(key, stored); err != nil {
		return nil, err
	}

	run, err := s.readRun(stored.RunID)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(append(run, stored.ID))
	if err != nil {
		return nil, fmt.Errorf("marshal run index: %w", err)
	}
	if err := s.runs.Write(fileKey(stored.RunID), raw); err != nil {
		return nil, fmt.Errorf("write run index: %w", err)
	}
	return stored, nil
}

// Get retrieves an instance.
func (s *Store) Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readInstance(fileKey(id))
}

// Update replaces the instance if its stored status is allowed.
func (s *Store) Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fileKey(inst.ID)
	current, err := s.readInstance(key)
	if err != nil {
		return err
	}
	if len(allowed) > 0 && !slices.Contains(allowed, current.Status) {
		return fmt.Errorf("%w: %s is %s", domain.ErrStaleInstance, inst.ID, current.Status)
	}
	return s.writeInstance(key, inst)
}

// ListByRun returns the instances of a run in save order.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.readRun(runID)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.StateExecutionInstance, 0, len(run))
	for _, id := range run {
		inst, err := s.readInstance(fileKey(id))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// SaveStateMachine persists the definition of sm, replacing any previous one.
func (s *Store) SaveStateMachine(ctx context.Context, sm *domain.StateMachine) error {
	raw, err := json.Marshal(sm.Definition())
	if err != nil {
		return fmt.Errorf("marshal state machine: %w", err)
	}
	if err := s.machines.Write(fileKey(sm.ID), raw); err != nil {
		return fmt.Errorf("write state machine: %w", err)
	}
	return nil
}

// GetStateMachine loads a state machine definition. Its states are not loaded.
func (s *Store) GetStateMachine(ctx context.Context, id string) (*domain.StateMachine, error) {
	key := fileKey(id)
	if !s.machines.Has(key) {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateMachineNotFound, id)
	}
	raw, err := s.machines.Read(key)
	if err != nil {
		return nil, fmt.Errorf("reading state machine %s: %w", id, err)
	}
	var sm domain.StateMachine
	if err := json.Unmarshal(raw, &sm); err != nil {
		return nil, fmt.Errorf("unmarshal state machine %s: %w", id, err)
	}
	return &sm, nil
}

func (s *Store) readInstance(key string) (*domain.StateExecutionInstance, error) {
	if !s.instances.Has(key) {
		return nil, domain.ErrInstanceNotFound
	}
	raw, err := s.instances.Read(key)
	if err != nil {
		return nil, fmt.Errorf("reading instance: %w", err)
	}
	var inst domain.StateExecutionInstance
	if err := json.Unmarshal(raw, &inst); err != nil {
		return nil, fmt.Errorf("unmarshal instance: %w", err)
	}
	return &inst, nil
}

func (s *Store) writeInstance(key string, inst *domain.StateExecutionInstance) error {
	raw, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	if err := s.instances.Write(key, raw); err != nil {
		return fmt.Errorf("write instance: %w", err)
	}
	return nil
}

func (s *Store) readRun(runID string) ([]string, error) {
	key := fileKey(runID)
	if !s.runs.Has(key) {
		return nil, nil
	}
	raw, err := s.runs.Read(key)
	if err != nil {
		return nil, fmt.Errorf("reading run index: %w", err)
	}
	var run []string
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run index: %w", err)
	}
	return run, nil
}
