package orchestra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/internal/runtime"
	"github.com/aretw0/orchestra/pkg/adapters/expression"
	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/loader"
	"github.com/aretw0/orchestra/pkg/lock"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/aretw0/orchestra/pkg/registry"
	"github.com/aretw0/orchestra/pkg/states"
	"github.com/aretw0/orchestra/pkg/worker"
	"github.com/google/uuid"
)

// Version is the release of the orchestra module.
var Version = "0.1.0"

// runHandler is the callback under which Run waits for its own runs.
const runHandler = "orchestra.run"

// RunResult is handed to run callbacks when a run ends.
type RunResult = runtime.RunResult

// RunCallback handles the end of a run.
type RunCallback = runtime.RunCallback

// Engine is the high-level entry point for the orchestra library.
// It wires the executor to its stores, notifier and worker pool.
type Engine struct {
	instances  ports.InstanceStore
	machines   ports.StateMachineStore
	notifier   ports.WaitNotifier
	locker     ports.DistributedLocker
	lockTTL    time.Duration
	registry   *registry.Registry
	processors []ports.ExpressionProcessor
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	workers    int

	pool     *worker.Pool
	factory  *states.Factory
	executor *runtime.Executor

	waiters sync.Map // token -> chan RunResult
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithInstanceStore sets where execution instances are persisted.
func WithInstanceStore(store ports.InstanceStore) Option {
	return func(e *Engine) {
		e.instances = store
	}
}

// WithStateMachineStore sets where graph definitions are persisted, letting
// any engine over the same stores resume runs it did not start.
func WithStateMachineStore(store ports.StateMachineStore) Option {
	return func(e *Engine) {
		e.machines = store
	}
}

// WithNotifier sets the wait/notify backend.
func WithNotifier(n ports.WaitNotifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithLocker enables distributed locking of resumes and events.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

// WithRegistry sets the task registry used by TASK states.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithExpressionProcessors sets the processors consulted for unresolved tokens.
func WithExpressionProcessors(processors ...ports.ExpressionProcessor) Option {
	return func(e *Engine) {
		e.processors = processors
	}
}

// WithWorkers sets how many states may execute at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// New initializes an Engine. Without options it keeps everything in memory.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		registry: registry.NewRegistry(),
		logger:   logging.NewNop(),
		workers:  8,
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.instances == nil {
		store := memory.NewStore()
		eng.instances = store
		if eng.machines == nil {
			eng.machines = store
		}
	}
	if eng.notifier == nil {
		eng.notifier = memory.NewNotifier(memory.WithNotifierLogger(eng.logger))
	}

	eng.pool = worker.NewPool(worker.WithPoolConcurrency(eng.workers), worker.WithPoolLogger(eng.logger))
	eng.factory = states.NewFactory(
		states.WithRegistry(eng.registry),
		states.WithNotifier(eng.notifier),
		states.WithLogger(eng.logger),
	)

	lockOpts := []lock.Option{lock.WithLogger(eng.logger)}
	if eng.locker != nil {
		lockOpts = append(lockOpts, lock.WithLocker(eng.locker))
		if eng.lockTTL > 0 {
			lockOpts = append(lockOpts, lock.WithTTL(eng.lockTTL))
		}
	}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(eng.logger),
		runtime.WithLifecycleHooks(eng.hooks),
		runtime.WithExpressionProcessors(eng.processors...),
		runtime.WithLockManager(lock.NewManager(lockOpts...)),
	}
	if eng.machines != nil {
		runtimeOpts = append(runtimeOpts, runtime.WithStateMachineStore(eng.machines, eng.factory))
	}

	eng.executor = runtime.NewExecutor(eng.instances, eng.notifier, eng.pool, expression.NewEvaluator(), runtimeOpts...)
	eng.executor.Callbacks().Register(runHandler, eng.deliver)
	return eng, nil
}

// Registry returns the task registry used by TASK states.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// RegisterTask adds a task callable from TASK states.
func (e *Engine) RegisterTask(name string, fn registry.TaskFunc) {
	e.registry.Register(name, fn)
}

// RegisterCallback adds a handler runs can name in their Callback.
func (e *Engine) RegisterCallback(name string, fn RunCallback) {
	e.executor.Callbacks().Register(name, fn)
}

// Load builds the states of sm, validates it and makes it available to Execute.
func (e *Engine) Load(ctx context.Context, sm *domain.StateMachine) error {
	if err := e.factory.Load(sm); err != nil {
		return err
	}
	return e.executor.Register(ctx, sm)
}

// LoadFile reads a YAML or JSON definition and loads it.
func (e *Engine) LoadFile(ctx context.Context, path string) (*domain.StateMachine, error) {
	sm, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := e.Load(ctx, sm); err != nil {
		return nil, err
	}
	return sm, nil
}

// StateMachine returns a loaded graph.
func (e *Engine) StateMachine(ctx context.Context, id string) (*domain.StateMachine, error) {
	return e.executor.StateMachine(ctx, id)
}

// Execute starts a run of a loaded graph and returns its first instance.
// cb, when set, names a registered callback invoked when the run ends.
func (e *Engine) Execute(ctx context.Context, stateMachineID, runID string, elements []domain.ContextElement, cb *domain.Callback) (*domain.StateExecutionInstance, error) {
	sm, err := e.executor.StateMachine(ctx, stateMachineID)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return e.executor.Execute(ctx, sm, runID, elements, cb)
}

// Run executes a loaded graph and blocks until the run ends or ctx is done.
func (e *Engine) Run(ctx context.Context, stateMachineID, runID string, elements []domain.ContextElement) (RunResult, error) {
	token := uuid.NewString()
	done := make(chan RunResult, 1)
	e.waiters.Store(token, done)
	defer e.waiters.Delete(token)

	cb := &domain.Callback{Handler: runHandler, Params: map[string]string{"token": token}}
	if _, err := e.Execute(ctx, stateMachineID, runID, elements, cb); err != nil {
		return RunResult{}, err
	}

	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
}

func (e *Engine) deliver(_ context.Context, result RunResult) {
	ch, ok := e.waiters.Load(result.Params["token"])
	if !ok {
		e.logger.Debug("Run ended without a waiter", "run_id", result.RunID, "status", result.Status)
		return
	}
	select {
	case ch.(chan RunResult) <- result:
	default:
	}
}

// Notify delivers a response for a correlation id, e.g. an approval id
// published by a PAUSE state.
func (e *Engine) Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error {
	if correlationID == "" {
		return fmt.Errorf("%w: correlation id is required", domain.ErrInvalidRequest)
	}
	return e.notifier.Notify(ctx, correlationID, resp)
}

// HandleEvent applies a PAUSE, RESUME, RETRY or ABORT event.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.ExecutionEvent) error {
	return e.executor.HandleEvent(ctx, ev)
}

// Instance returns a persisted instance.
func (e *Engine) Instance(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	return e.instances.Get(ctx, id)
}

// RunInstances returns the instances of a run in creation order.
func (e *Engine) RunInstances(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	return e.instances.ListByRun(ctx, runID)
}

// Close stops accepting work and waits for running states until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	return e.pool.Stop(ctx)
}
