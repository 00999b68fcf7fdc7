package domain

import (
	"context"
	"time"
)

// EventType is the kind of external event an instance can receive.
type EventType string

const (
	EventPause  EventType = "PAUSE"
	EventResume EventType = "RESUME"
	EventRetry  EventType = "RETRY"
	EventAbort  EventType = "ABORT"
)

// ExecutionEvent is an external request to change the course of an instance.
type ExecutionEvent struct {
	Type       EventType      `json:"type"`
	RunID      string         `json:"run_id"`
	InstanceID string         `json:"instance_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// InstanceEvent describes an instance starting or finishing.
type InstanceEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	RunID      string          `json:"run_id"`
	InstanceID string          `json:"instance_id"`
	StateName  string          `json:"state_name"`
	StateType  StateType       `json:"state_type"`
	Status     ExecutionStatus `json:"status"`
	Duration   time.Duration   `json:"duration,omitempty"`
}

// TransitionEvent describes the executor following an edge.
type TransitionEvent struct {
	Timestamp      time.Time      `json:"timestamp"`
	RunID          string         `json:"run_id"`
	FromInstanceID string         `json:"from_instance_id"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	Type           TransitionType `json:"type"`
}

// RunEvent describes a run (or a branch of it) reaching its end.
type RunEvent struct {
	Timestamp    time.Time       `json:"timestamp"`
	RunID        string          `json:"run_id"`
	InstanceID   string          `json:"instance_id"`
	StateName    string          `json:"state_name"`
	Status       ExecutionStatus `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Branch       bool            `json:"branch,omitempty"`
}

// LifecycleHooks defines callbacks for executor observability.
type LifecycleHooks struct {
	OnInstanceStart func(context.Context, *InstanceEvent)
	OnInstanceEnd   func(context.Context, *InstanceEvent)
	OnTransition    func(context.Context, *TransitionEvent)
	OnRunEnd        func(context.Context, *RunEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnInstanceStart: chain(h.OnInstanceStart, other.OnInstanceStart),
		OnInstanceEnd:   chain(h.OnInstanceEnd, other.OnInstanceEnd),
		OnTransition:    chain(h.OnTransition, other.OnTransition),
		OnRunEnd:        chain(h.OnRunEnd, other.OnRunEnd),
	}
}

func chain[T any](a, b func(context.Context, T)) func(context.Context, T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, ev T) {
		a(ctx, ev)
		b(ctx, ev)
	}
}
