package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/orchestra/pkg/domain"
)

// HandleEvent applies an external event to an instance. The state's
// EventHandler, when present, is consulted before the default behavior.
func (e *Executor) HandleEvent(ctx context.Context, ev domain.ExecutionEvent) error {
	if ev.InstanceID == "" {
		return fmt.Errorf("%w: event without instance id", domain.ErrInvalidRequest)
	}
	inst, err := e.instances.Get(ctx, ev.InstanceID)
	if err != nil {
		return err
	}
	if ev.RunID != "" && inst.RunID != ev.RunID {
		return fmt.Errorf("%w: instance %s does not belong to run %s", domain.ErrInvalidRequest, ev.InstanceID, ev.RunID)
	}
	sm, err := e.StateMachine(ctx, inst.StateMachineID)
	if err != nil {
		return err
	}
	state, err := sm.State(inst.StateName)
	if err != nil {
		return err
	}

	return e.locks.WithLock(ctx, ev.InstanceID, func(ctx context.Context) error {
		inst, err := e.instances.Get(ctx, ev.InstanceID)
		if err != nil {
			return err
		}
		ec := e.newContext(sm, inst)
		e.instanceLogger(inst).Info("Handling event", "event", ev.Type, "status", inst.Status)

		switch ev.Type {
		case domain.EventPause:
			return e.pauseInstance(ctx, ec, state, ev)
		case domain.EventResume:
			return e.resumeInstance(ctx, ec, state, ev)
		case domain.EventAbort:
			return e.abortInstance(ctx, ec, state, ev)
		case domain.EventRetry:
			return e.retryInstance(ctx, ec)
		}
		return fmt.Errorf("%w: unknown event type %q", domain.ErrInvalidRequest, ev.Type)
	})
}

func (e *Executor) pauseInstance(ctx context.Context, ec *executionContext, state domain.State, ev domain.ExecutionEvent) error {
	inst := ec.instance
	if !inst.Status.In(domain.StatusNew, domain.StatusRunning) {
		return fmt.Errorf("%w: cannot pause instance in status %s", domain.ErrInvalidRequest, inst.Status)
	}
	if _, err := e.consult(ctx, ec, state, ev); err != nil {
		return err
	}

	inst.Status = domain.StatusPaused
	e.executionData(inst).Status = domain.StatusPaused
	if err := e.instances.Update(ctx, inst, domain.StatusNew, domain.StatusRunning); err != nil {
		return e.staleAsInvalid(err)
	}
	return nil
}

func (e *Executor) resumeInstance(ctx context.Context, ec *executionContext, state domain.State, ev domain.ExecutionEvent) error {
	inst := ec.instance
	if inst.Status != domain.StatusPaused {
		return fmt.Errorf("%w: cannot resume instance in status %s", domain.ErrInvalidRequest, inst.Status)
	}

	resp, err := e.consult(ctx, ec, state, ev)
	if err != nil {
		e.handleExecuteResponseException(ctx, ec, err)
		return nil
	}
	if resp != nil {
		e.process(ctx, ec, resp, nil)
		return nil
	}

	// Paused before it ever ran: hand it back to the scheduler.
	if inst.StartTs.IsZero() {
		inst.Status = domain.StatusNew
		if err := e.instances.Update(ctx, inst, domain.StatusPaused); err != nil {
			return e.staleAsInvalid(err)
		}
		work := inst.Copy()
		bg := context.WithoutCancel(ctx)
		return e.pool.Submit(func() { e.startExecution(bg, ec.sm, state, work) })
	}

	inst.Status = domain.StatusRunning
	e.executionData(inst).Status = domain.StatusRunning
	if err := e.instances.Update(ctx, inst, domain.StatusPaused); err != nil {
		return e.staleAsInvalid(err)
	}
	return nil
}

func (e *Executor) abortInstance(ctx context.Context, ec *executionContext, state domain.State, ev domain.ExecutionEvent) error {
	inst := ec.instance
	if inst.Status.IsFinal() {
		return fmt.Errorf("%w: cannot abort instance in status %s", domain.ErrInvalidRequest, inst.Status)
	}

	msg := "aborted"
	if resp, err := e.consult(ctx, ec, state, ev); err != nil {
		e.instanceLogger(inst).Warn("Event handler failed during abort", "err", err)
	} else if resp != nil && resp.ErrorMessage != "" {
		msg = resp.ErrorMessage
	}

	finished, err := e.finish(ctx, ec, domain.StatusAborted, msg, domain.ActiveStatuses...)
	if err != nil {
		return err
	}
	if !finished {
		return fmt.Errorf("%w: instance %s already finished", domain.ErrInvalidRequest, inst.ID)
	}
	e.endTransition(ctx, ec, domain.StatusAborted, msg)
	return nil
}

// retryInstance clones a failed instance at the same state and triggers it.
func (e *Executor) retryInstance(ctx context.Context, ec *executionContext) error {
	inst := ec.instance
	if !inst.Status.In(domain.StatusFailed, domain.StatusError) {
		return fmt.Errorf("%w: cannot retry instance in status %s", domain.ErrInvalidRequest, inst.Status)
	}
	clone := inst.Clone(inst.StateName)
	clone.CloneInstanceID = inst.ID
	saved, err := e.trigger(ctx, ec.sm, clone)
	if saved != nil {
		inst.NextInstanceID = saved.ID
		if uerr := e.instances.Update(ctx, inst, inst.Status); uerr != nil {
			e.instanceLogger(inst).Warn("Failed to link retry instance", "next_instance_id", saved.ID, "err", uerr)
		}
	}
	return err
}

func (e *Executor) consult(ctx context.Context, ec *executionContext, state domain.State, ev domain.ExecutionEvent) (*domain.ExecutionResponse, error) {
	handler, ok := state.(domain.EventHandler)
	if !ok {
		return nil, nil
	}
	return guard(state.Name(), func() (*domain.ExecutionResponse, error) {
		return handler.HandleEvent(ctx, ec, ev)
	})
}

func (e *Executor) staleAsInvalid(err error) error {
	if errors.Is(err, domain.ErrStaleInstance) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return err
}
