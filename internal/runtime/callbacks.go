package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aretw0/orchestra/pkg/domain"
)

// ErrUnknownCallback is returned when a run's callback names no registered handler.
var ErrUnknownCallback = errors.New("unknown callback handler")

// RunResult is handed to the run callback when a run ends.
type RunResult struct {
	RunID        string
	InstanceID   string
	StateName    string
	Status       domain.ExecutionStatus
	ErrorMessage string
	Params       map[string]string
	Elements     []domain.ContextElement
}

// RunCallback handles the end of a run.
type RunCallback func(ctx context.Context, result RunResult)

// CallbackRegistry resolves run callbacks by handler name.
type CallbackRegistry struct {
	mu       sync.RWMutex
	handlers map[string]RunCallback
}

// NewCallbackRegistry creates an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{handlers: make(map[string]RunCallback)}
}

// Register adds a handler. If a handler with the same name exists, it is overwritten.
func (r *CallbackRegistry) Register(name string, fn RunCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Invoke calls the handler cb names.
func (r *CallbackRegistry) Invoke(ctx context.Context, cb domain.Callback, result RunResult) error {
	r.mu.RLock()
	fn, ok := r.handlers[cb.Handler]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCallback, cb.Handler)
	}
	result.Params = cb.Params
	fn(ctx, result)
	return nil
}
