// Package registry maps task names used in graph definitions to Go functions.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/orchestra/pkg/domain"
)

// TaskFunc defines the signature for a task implementation.
// It receives the execution context of the running instance and the
// task's rendered arguments, and returns outputs stored on the state's record.
type TaskFunc func(ctx context.Context, ec domain.ExecutionContext, args map[string]any) (map[string]any, error)

// Registry manages the available tasks.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks: make(map[string]TaskFunc),
	}
}

// Register adds a task to the registry.
// If a task with the same name exists, it is overwritten.
func (r *Registry) Register(name string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[name] = fn
}

// Has reports whether a task is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tasks[name]
	return ok
}

// Names returns the registered task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute looks up a task by name and executes it.
// Returns an error if the task is not found.
func (r *Registry) Execute(ctx context.Context, name string, ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	r.mu.RLock()
	fn, ok := r.tasks[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("task not found: %s", name)
	}

	return fn(ctx, ec, args)
}
