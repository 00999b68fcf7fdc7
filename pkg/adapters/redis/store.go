package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
	backend "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key the adapters write.
const DefaultPrefix = "orchestra:"

// maxUpdateAttempts bounds the optimistic retries of a conditional update.
const maxUpdateAttempts = 16

// Store implements ports.InstanceStore and ports.StateMachineStore using Redis.
//
// Instances are JSON strings under <prefix>inst:<id>; each run keeps the ids
// of its instances, in save order, in the list <prefix>run:<runID>.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	ids    ids.IDer
}

type Option func(*Store)

// WithTTL sets the expiration for instance records and run indexes.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithIDer sets the generator used for new instance ids.
func WithIDer(ider ids.IDer) Option {
	return func(s *Store) {
		s.ids = ider
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: DefaultPrefix,
		ttl:    0, // No expiration by default
		ids:    ids.NewUUID(),
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) instanceKey(id string) string {
	return s.prefix + "inst:" + id
}

func (s *Store) runKey(runID string) string {
	return s.prefix + "run:" + runID
}

func (s *Store) machineKey(id string) string {
	return s.prefix + "sm:" + id
}

// Save persists a new instance and assigns its ID.
func (s *Store) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst.ID != "" {
		return nil, fmt.Errorf("%w: instance %s is already persisted", domain.ErrInvalidRequest, inst.ID)
	}

	stored := inst.Copy()
	stored.ID = s.ids.ID()
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.instanceKey(stored.ID), data, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to save to redis: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: instance id %s collides", domain.ErrInvalidRequest, stored.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.runKey(stored.RunID), stored.ID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.runKey(stored.RunID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to index instance: %w", err)
	}
	return stored, nil
}

// Get retrieves an instance.
func (s *Store) Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	val, err := s.client.Get(ctx, s.instanceKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decodeInstance(val)
}

// Update replaces the instance if its stored status is allowed. The check
// and the write run under WATCH; a concurrent writer forces a re-read.
func (s *Store) Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error {
	key := s.instanceKey(inst.ID)
	data, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("failed to marshal instance: %w", err)
	}

	txf := func(tx *backend.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, backend.Nil) {
				return domain.ErrInstanceNotFound
			}
			return err
		}
		current, err := decodeInstance(val)
		if err != nil {
			return err
		}
		if len(allowed) > 0 && !slices.Contains(allowed, current.Status) {
			return fmt.Errorf("%w: %s is %s", domain.ErrStaleInstance, inst.ID, current.Status)
		}
		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, backend.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, backend.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s kept changing under update", domain.ErrStaleInstance, inst.ID)
}

// ListByRun returns the instances of a run in save order.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	idList, err := s.client.LRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list run %s: %w", runID, err)
	}
	if len(idList) == 0 {
		return nil, nil
	}

	keys := make([]string, len(idList))
	for i, id := range idList {
		keys[i] = s.instanceKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	out := make([]*domain.StateExecutionInstance, 0, len(vals))
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue // expired
		}
		inst, err := decodeInstance([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// SaveStateMachine persists the definition of sm, replacing any previous one.
func (s *Store) SaveStateMachine(ctx context.Context, sm *domain.StateMachine) error {
	data, err := json.Marshal(sm.Definition())
	if err != nil {
		return fmt.Errorf("failed to marshal state machine: %w", err)
	}
	if err := s.client.Set(ctx, s.machineKey(sm.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state machine: %w", err)
	}
	return nil
}

// GetStateMachine loads a state machine definition. Its states are not loaded.
func (s *Store) GetStateMachine(ctx context.Context, id string) (*domain.StateMachine, error) {
	val, err := s.client.Get(ctx, s.machineKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStateMachineNotFound, id)
		}
		return nil, fmt.Errorf("failed to get state machine: %w", err)
	}
	var sm domain.StateMachine
	if err := json.Unmarshal(val, &sm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state machine: %w", err)
	}
	return &sm, nil
}

// Client returns the underlying client, for sharing with the notifier and locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func decodeInstance(data []byte) (*domain.StateExecutionInstance, error) {
	var inst domain.StateExecutionInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}
	return &inst, nil
}
