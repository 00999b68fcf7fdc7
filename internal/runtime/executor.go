package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/lock"
	"github.com/aretw0/orchestra/pkg/ports"
)

// ResumeHandler is the notifier callback name under which the executor
// receives completed waits.
const ResumeHandler = "executor.resume"

// Executor drives state machine runs. It is the only component that writes
// execution instances.
type Executor struct {
	instances  ports.InstanceStore
	notifier   ports.WaitNotifier
	pool       ports.WorkerPool
	evaluator  ports.ExpressionEvaluator
	machines   ports.StateMachineStore
	loader     ports.StateMachineLoader
	processors []ports.ExpressionProcessor
	callbacks  *CallbackRegistry
	locks      *lock.Manager
	hooks      domain.LifecycleHooks
	logger     *slog.Logger
	now        func() time.Time

	graphs sync.Map
}

// Option configures the Executor.
type Option func(*Executor)

// WithLogger configures the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Executor) { e.hooks = hooks }
}

// WithExpressionProcessors sets the processors consulted for unresolved tokens.
func WithExpressionProcessors(processors ...ports.ExpressionProcessor) Option {
	return func(e *Executor) { e.processors = processors }
}

// WithCallbackRegistry sets the registry resolving run callbacks.
func WithCallbackRegistry(r *CallbackRegistry) Option {
	return func(e *Executor) { e.callbacks = r }
}

// WithLockManager sets the manager serializing resume and events per instance.
func WithLockManager(m *lock.Manager) Option {
	return func(e *Executor) { e.locks = m }
}

// WithStateMachineStore persists graphs and lets the executor reload them,
// through loader, when resuming runs it did not start.
func WithStateMachineStore(store ports.StateMachineStore, loader ports.StateMachineLoader) Option {
	return func(e *Executor) {
		e.machines = store
		e.loader = loader
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor and registers it with notifier.
func NewExecutor(instances ports.InstanceStore, notifier ports.WaitNotifier, pool ports.WorkerPool, evaluator ports.ExpressionEvaluator, opts ...Option) *Executor {
	e := &Executor{
		instances: instances,
		notifier:  notifier,
		pool:      pool,
		evaluator: evaluator,
		callbacks: NewCallbackRegistry(),
		locks:     lock.NewManager(),
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	notifier.Handle(ResumeHandler, e.onNotify)
	return e
}

// Callbacks returns the registry resolving run callbacks.
func (e *Executor) Callbacks() *CallbackRegistry {
	return e.callbacks
}

// Register validates sm, persists it when a store is configured and caches it.
func (e *Executor) Register(ctx context.Context, sm *domain.StateMachine) error {
	if sm == nil {
		return fmt.Errorf("%w: state machine is required", domain.ErrInvalidRequest)
	}
	if sm.ID == "" {
		return fmt.Errorf("%w: state machine has no id", domain.ErrInvalidRequest)
	}
	if err := sm.Validate(); err != nil {
		return err
	}
	if e.machines != nil {
		if err := e.machines.SaveStateMachine(ctx, sm); err != nil {
			return fmt.Errorf("failed to save state machine %s: %w", sm.ID, err)
		}
	}
	e.graphs.Store(sm.ID, sm)
	return nil
}

// StateMachine returns a registered graph, loading it from the store if needed.
func (e *Executor) StateMachine(ctx context.Context, id string) (*domain.StateMachine, error) {
	if cached, ok := e.graphs.Load(id); ok {
		return cached.(*domain.StateMachine), nil
	}
	if e.machines == nil || e.loader == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateMachineNotFound, id)
	}
	sm, err := e.machines.GetStateMachine(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.loader.Load(sm); err != nil {
		return nil, fmt.Errorf("failed to load state machine %s: %w", id, err)
	}
	actual, _ := e.graphs.LoadOrStore(id, sm)
	return actual.(*domain.StateMachine), nil
}

// Execute starts a run of sm at its initial state. elements seed the
// element stack, innermost first; cb is invoked when the run ends.
func (e *Executor) Execute(ctx context.Context, sm *domain.StateMachine, runID string, elements []domain.ContextElement, cb *domain.Callback) (*domain.StateExecutionInstance, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: run id is required", domain.ErrInvalidRequest)
	}
	if err := e.Register(ctx, sm); err != nil {
		return nil, err
	}
	initial, err := sm.InitialState()
	if err != nil {
		return nil, err
	}
	inst := &domain.StateExecutionInstance{
		RunID:           runID,
		StateName:       initial.Name(),
		ContextElements: append([]domain.ContextElement(nil), elements...),
		Callback:        cb,
	}
	return e.trigger(ctx, sm, inst)
}

// ExecuteInstance triggers a caller-built instance that was never persisted.
func (e *Executor) ExecuteInstance(ctx context.Context, sm *domain.StateMachine, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst == nil {
		return nil, fmt.Errorf("%w: instance is required", domain.ErrInvalidRequest)
	}
	if err := e.Register(ctx, sm); err != nil {
		return nil, err
	}
	return e.trigger(ctx, sm, inst)
}

// trigger persists inst and schedules its execution.
func (e *Executor) trigger(ctx context.Context, sm *domain.StateMachine, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst.ID != "" {
		return nil, fmt.Errorf("%w: instance %s was already triggered", domain.ErrInvalidRequest, inst.ID)
	}
	if inst.RunID == "" {
		return nil, fmt.Errorf("%w: instance has no run id", domain.ErrInvalidRequest)
	}
	state, err := sm.State(inst.StateName)
	if err != nil {
		return nil, err
	}

	pending := inst.Copy()
	pending.StateMachineID = sm.ID
	pending.StateType = state.Type()
	pending.Status = domain.StatusNew
	pending.CreatedAt = e.now()

	saved, err := e.instances.Save(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("failed to save instance for state %q: %w", inst.StateName, err)
	}

	work := saved.Copy()
	bg := context.WithoutCancel(ctx)
	if err := e.pool.Submit(func() { e.startExecution(bg, sm, state, work) }); err != nil {
		return saved, fmt.Errorf("failed to schedule instance %s: %w", saved.ID, err)
	}
	return saved, nil
}

// startExecution claims the instance (NEW -> RUNNING) and runs the state.
// Losing the claim means another worker owns it.
func (e *Executor) startExecution(ctx context.Context, sm *domain.StateMachine, state domain.State, inst *domain.StateExecutionInstance) {
	log := e.instanceLogger(inst)

	inst.Status = domain.StatusRunning
	inst.StartTs = e.now()
	if inst.StateExecutionMap == nil {
		inst.StateExecutionMap = make(map[string]*domain.StateExecutionData)
	}
	inst.StateExecutionMap[inst.StateName] = &domain.StateExecutionData{
		StateName: inst.StateName,
		StateType: state.Type(),
		Status:    domain.StatusRunning,
		StartTs:   inst.StartTs,
		Element:   inst.ContextElement,
	}

	if err := e.instances.Update(ctx, inst, domain.StatusNew); err != nil {
		if errors.Is(err, domain.ErrStaleInstance) {
			log.Info("Instance already claimed, skipping start")
			return
		}
		log.Error("Failed to mark instance running", "err", err)
		return
	}
	if e.hooks.OnInstanceStart != nil {
		e.hooks.OnInstanceStart(ctx, e.instanceEvent(inst))
	}
	log.Debug("Executing state")

	ec := e.newContext(sm, inst)
	resp, err := guard(state.Name(), func() (*domain.ExecutionResponse, error) {
		return state.Execute(ctx, ec)
	})
	e.process(ctx, ec, resp, err)
}

// Resume delivers the responses of a completed wait to the waiting instance.
// Instances that are no longer RUNNING or PAUSED ignore it.
func (e *Executor) Resume(ctx context.Context, runID, instanceID string, responses map[string]domain.NotifyResponse) error {
	inst, err := e.instances.Get(ctx, instanceID)
	if err != nil {
		return err
	}
	if runID != "" && inst.RunID != runID {
		return fmt.Errorf("%w: instance %s does not belong to run %s", domain.ErrInvalidRequest, instanceID, runID)
	}
	if !inst.Status.In(domain.StatusRunning, domain.StatusPaused) {
		e.instanceLogger(inst).Warn("Ignoring resume", "status", inst.Status)
		return nil
	}
	sm, err := e.StateMachine(ctx, inst.StateMachineID)
	if err != nil {
		return err
	}
	state, err := sm.State(inst.StateName)
	if err != nil {
		return err
	}

	bg := context.WithoutCancel(ctx)
	return e.pool.Submit(func() { e.resume(bg, sm, state, instanceID, responses) })
}

func (e *Executor) resume(ctx context.Context, sm *domain.StateMachine, state domain.State, instanceID string, responses map[string]domain.NotifyResponse) {
	err := e.locks.WithLock(ctx, instanceID, func(ctx context.Context) error {
		inst, err := e.instances.Get(ctx, instanceID)
		if err != nil {
			return err
		}
		if !inst.Status.In(domain.StatusRunning, domain.StatusPaused) {
			e.instanceLogger(inst).Warn("Ignoring resume", "status", inst.Status)
			return nil
		}

		ec := e.newContext(sm, inst)
		var resp *domain.ExecutionResponse
		if handler, ok := state.(domain.AsyncResponseHandler); ok {
			resp, err = guard(state.Name(), func() (*domain.ExecutionResponse, error) {
				return handler.HandleAsyncResponse(ctx, ec, responses)
			})
		} else {
			resp = joinResponses(responses)
		}
		e.process(ctx, ec, resp, err)
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to resume instance", "instance_id", instanceID, "err", err)
	}
}

func (e *Executor) onNotify(ctx context.Context, cb domain.Callback, responses map[string]domain.NotifyResponse) {
	runID, instanceID := cb.Params["run_id"], cb.Params["instance_id"]
	if err := e.Resume(ctx, runID, instanceID, responses); err != nil {
		e.logger.Error("Failed to resume after notify", "run_id", runID, "instance_id", instanceID, "err", err)
	}
}

// process routes a state's outcome. Errors and panics are handled as a FAILED response.
func (e *Executor) process(ctx context.Context, ec *executionContext, resp *domain.ExecutionResponse, err error) {
	if err == nil && resp == nil {
		err = fmt.Errorf("state %q returned no response", ec.instance.StateName)
	}
	if err == nil {
		err = e.handleExecuteResponse(ctx, ec, resp)
	}
	if err != nil {
		e.handleExecuteResponseException(ctx, ec, err)
	}
}

func (e *Executor) handleExecuteResponse(ctx context.Context, ec *executionContext, resp *domain.ExecutionResponse) error {
	inst := ec.instance
	e.applyResponse(ec, resp)

	if resp.Async {
		if len(resp.CorrelationIDs) == 0 {
			msg := "asynchronous response without correlation ids"
			e.instanceLogger(inst).Error("Invalid state response", "err", msg)
			e.forceError(ctx, ec, msg)
			return nil
		}
		return e.await(ctx, ec, resp)
	}

	switch resp.Status {
	case domain.StatusSuccess, domain.StatusFailed, domain.StatusError, domain.StatusAborted:
	default:
		return fmt.Errorf("state %q returned non-final status %q synchronously", inst.StateName, resp.Status)
	}

	finished, err := e.finish(ctx, ec, resp.Status, resp.ErrorMessage, domain.ActiveStatuses...)
	if err != nil || !finished {
		return err
	}

	switch resp.Status {
	case domain.StatusSuccess:
		return e.successTransition(ctx, ec)
	case domain.StatusAborted:
		e.endTransition(ctx, ec, domain.StatusAborted, resp.ErrorMessage)
		return nil
	}
	return e.failedTransition(ctx, ec)
}

// await persists the waiting instance, registers the wait and starts any children.
func (e *Executor) await(ctx context.Context, ec *executionContext, resp *domain.ExecutionResponse) error {
	inst := ec.instance
	status := domain.StatusRunning
	if resp.Status == domain.StatusPaused {
		status = domain.StatusPaused
	}
	inst.Status = status
	inst.ExecutionData().Status = status

	if err := e.instances.Update(ctx, inst, domain.StatusRunning, domain.StatusPaused); err != nil {
		if errors.Is(err, domain.ErrStaleInstance) {
			e.instanceLogger(inst).Warn("Instance finished while waiting, dropping response")
			return nil
		}
		return fmt.Errorf("failed to persist waiting instance: %w", err)
	}

	cb := domain.Callback{Handler: ResumeHandler, Params: map[string]string{
		"run_id":      inst.RunID,
		"instance_id": inst.ID,
	}}
	if err := e.notifier.WaitForAll(ctx, cb, resp.CorrelationIDs...); err != nil {
		return fmt.Errorf("failed to register wait: %w", err)
	}

	if status != domain.StatusRunning {
		return nil
	}
	for _, child := range resp.Children {
		child.ID = ""
		child.ParentInstanceID = inst.ID
		if _, err := e.trigger(ctx, ec.sm, child); err != nil {
			return fmt.Errorf("failed to spawn %q: %w", child.StateName, err)
		}
	}
	return nil
}

// handleExecuteResponseException records cause as a failure and routes it.
// A failure while routing a failure ends the run with ERROR.
func (e *Executor) handleExecuteResponseException(ctx context.Context, ec *executionContext, cause error) {
	inst := ec.instance
	log := e.instanceLogger(inst)
	log.Warn("State execution failed", "err", cause)

	if ec.routingFailure {
		log.Error("Failure routing failed, forcing ERROR", "err", cause)
		e.forceError(ctx, ec, cause.Error())
		return
	}

	allowed := append([]domain.ExecutionStatus{domain.StatusSuccess}, domain.ActiveStatuses...)
	finished, err := e.finish(ctx, ec, domain.StatusFailed, cause.Error(), allowed...)
	if err != nil {
		log.Error("Failed to record failure", "err", err)
	} else if !finished {
		return
	}

	if err := e.failedTransition(ctx, ec); err != nil {
		log.Error("Failure routing failed, forcing ERROR", "err", err)
		e.forceError(ctx, ec, fmt.Sprintf("%s; failure routing: %v", cause, err))
	}
}

// forceError terminates the instance with ERROR and ends its run.
func (e *Executor) forceError(ctx context.Context, ec *executionContext, msg string) {
	inst := ec.instance
	e.setFinal(inst, domain.StatusError, msg)
	if err := e.instances.Update(ctx, inst); err != nil {
		e.instanceLogger(inst).Error("Failed to persist ERROR status", "err", err)
	}
	e.endTransition(ctx, ec, domain.StatusError, msg)
}

// finish persists a final status if the stored status is allowed. It reports
// false when another writer already finished the instance.
func (e *Executor) finish(ctx context.Context, ec *executionContext, status domain.ExecutionStatus, msg string, allowed ...domain.ExecutionStatus) (bool, error) {
	inst := ec.instance
	e.setFinal(inst, status, msg)
	if err := e.instances.Update(ctx, inst, allowed...); err != nil {
		if errors.Is(err, domain.ErrStaleInstance) {
			e.instanceLogger(inst).Warn("Instance already finished, dropping completion", "status", status)
			return false, nil
		}
		return false, fmt.Errorf("failed to persist %s: %w", status, err)
	}
	if e.hooks.OnInstanceEnd != nil {
		e.hooks.OnInstanceEnd(ctx, e.instanceEvent(inst))
	}
	return true, nil
}

func (e *Executor) setFinal(inst *domain.StateExecutionInstance, status domain.ExecutionStatus, msg string) {
	inst.Status = status
	inst.EndTs = e.now()
	data := e.executionData(inst)
	data.Status = status
	data.EndTs = inst.EndTs
	if msg != "" {
		data.ErrorMessage = msg
	}
}

func (e *Executor) successTransition(ctx context.Context, ec *executionContext) error {
	next, err := ec.sm.SuccessTransition(ec.instance.StateName)
	if err != nil {
		return err
	}
	if next == nil {
		e.endTransition(ctx, ec, domain.StatusSuccess, "")
		return nil
	}
	return e.transition(ctx, ec, next, domain.TransitionSuccess)
}

func (e *Executor) failedTransition(ctx context.Context, ec *executionContext) error {
	ec.routingFailure = true
	inst := ec.instance
	next, err := ec.sm.FailureTransition(inst.StateName)
	if err != nil {
		return err
	}
	if next == nil {
		status := domain.StatusFailed
		if inst.Status == domain.StatusError {
			status = domain.StatusError
		}
		e.endTransition(ctx, ec, status, e.executionData(inst).ErrorMessage)
		return nil
	}
	return e.transition(ctx, ec, next, domain.TransitionFailure)
}

// transition clones the instance onto next and triggers the clone.
func (e *Executor) transition(ctx context.Context, ec *executionContext, next domain.State, t domain.TransitionType) error {
	inst := ec.instance
	saved, err := e.trigger(ctx, ec.sm, inst.Clone(next.Name()))
	if saved == nil {
		return err
	}

	if e.hooks.OnTransition != nil {
		e.hooks.OnTransition(ctx, &domain.TransitionEvent{
			Timestamp:      e.now(),
			RunID:          inst.RunID,
			FromInstanceID: inst.ID,
			From:           inst.StateName,
			To:             next.Name(),
			Type:           t,
		})
	}

	inst.NextInstanceID = saved.ID
	if uerr := e.instances.Update(ctx, inst, inst.Status); uerr != nil {
		e.instanceLogger(inst).Warn("Failed to link next instance", "next_instance_id", saved.ID, "err", uerr)
	}
	return err
}

// endTransition signals the end of the run: the waiting parent when the
// instance belongs to a branch, the run callback otherwise.
func (e *Executor) endTransition(ctx context.Context, ec *executionContext, status domain.ExecutionStatus, msg string) {
	inst := ec.instance
	log := e.instanceLogger(inst)

	switch {
	case inst.NotifyID != "":
		resp := domain.NotifyResponse{
			Status:       status,
			ErrorMessage: msg,
			Data:         e.executionData(inst).Data,
			Elements:     inst.NotifyElements,
		}
		if err := e.notifier.Notify(ctx, inst.NotifyID, resp); err != nil {
			log.Error("Failed to notify parent", "notify_id", inst.NotifyID, "err", err)
		}
	case inst.Callback != nil:
		result := RunResult{
			RunID:        inst.RunID,
			InstanceID:   inst.ID,
			StateName:    inst.StateName,
			Status:       status,
			ErrorMessage: msg,
			Elements:     inst.NotifyElements,
		}
		if err := e.callbacks.Invoke(ctx, *inst.Callback, result); err != nil {
			log.Error("Failed to run callback", "handler", inst.Callback.Handler, "err", err)
		}
	default:
		log.Debug("Run ended without callback", "status", status)
	}

	if e.hooks.OnRunEnd != nil {
		e.hooks.OnRunEnd(ctx, &domain.RunEvent{
			Timestamp:    e.now(),
			RunID:        inst.RunID,
			InstanceID:   inst.ID,
			StateName:    inst.StateName,
			Status:       status,
			ErrorMessage: msg,
			Branch:       inst.NotifyID != "",
		})
	}
	log.Info("Run ended", "status", status)
}

// applyResponse folds a response's data, params and elements into the instance.
func (e *Executor) applyResponse(ec *executionContext, resp *domain.ExecutionResponse) {
	inst := ec.instance
	data := e.executionData(inst)
	if sd := resp.StateExecutionData; sd != nil {
		if len(sd.Data) > 0 && data.Data == nil {
			data.Data = make(map[string]any, len(sd.Data))
		}
		for k, v := range sd.Data {
			data.Data[k] = v
		}
		if sd.Element != nil {
			data.Element = sd.Element
		}
	}
	if resp.ErrorMessage != "" {
		data.ErrorMessage = resp.ErrorMessage
	}
	if len(resp.Params) > 0 && inst.StateParams == nil {
		inst.StateParams = make(map[string]any, len(resp.Params))
	}
	for k, v := range resp.Params {
		inst.StateParams[k] = v
	}
	for _, el := range ec.PushedElements() {
		inst.PushContextElement(el)
	}
	ec.pushed = nil
	for _, el := range resp.Elements {
		inst.PushContextElement(el)
	}
	inst.NotifyElements = append(inst.NotifyElements, resp.NotifyElements...)
}

func (e *Executor) executionData(inst *domain.StateExecutionInstance) *domain.StateExecutionData {
	if inst.StateExecutionMap == nil {
		inst.StateExecutionMap = make(map[string]*domain.StateExecutionData)
	}
	data := inst.StateExecutionMap[inst.StateName]
	if data == nil {
		data = &domain.StateExecutionData{StateName: inst.StateName, StateType: inst.StateType}
		inst.StateExecutionMap[inst.StateName] = data
	}
	return data
}

func (e *Executor) newContext(sm *domain.StateMachine, inst *domain.StateExecutionInstance) *executionContext {
	return newExecutionContext(sm, inst, e.evaluator, e.processors)
}

func (e *Executor) instanceLogger(inst *domain.StateExecutionInstance) *slog.Logger {
	return e.logger.With("run_id", inst.RunID, "instance_id", inst.ID, "state", inst.StateName)
}

func (e *Executor) instanceEvent(inst *domain.StateExecutionInstance) *domain.InstanceEvent {
	ev := &domain.InstanceEvent{
		Timestamp:  e.now(),
		RunID:      inst.RunID,
		InstanceID: inst.ID,
		StateName:  inst.StateName,
		StateType:  inst.StateType,
		Status:     inst.Status,
	}
	if !inst.StartTs.IsZero() && !inst.EndTs.IsZero() {
		ev.Duration = inst.EndTs.Sub(inst.StartTs)
	}
	return ev
}

// guard turns a panic in state code into an error.
func guard(name string, fn func() (*domain.ExecutionResponse, error)) (resp *domain.ExecutionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("state %q panicked: %v", name, r)
		}
	}()
	return fn()
}

func joinResponses(responses map[string]domain.NotifyResponse) *domain.ExecutionResponse {
	status, messages := domain.AggregateStatus(responses)
	resp := &domain.ExecutionResponse{Status: status}
	if len(messages) > 0 {
		resp.ErrorMessage = messages[0]
	}
	return resp
}
