package domain

import "context"

// StateType identifies the variant of a State.
type StateType string

const (
	StateTypeFork   StateType = "FORK"
	StateTypeRepeat StateType = "REPEAT"
	StateTypeWait   StateType = "WAIT"
	StateTypePause  StateType = "PAUSE"
	StateTypeTask   StateType = "TASK"
)

// State is the behavior attached to a vertex of the graph.
//
// Execute must not write the instance it runs for; everything it wants
// persisted goes into the returned ExecutionResponse.
type State interface {
	Name() string
	Type() StateType
	Execute(ctx context.Context, ec ExecutionContext) (*ExecutionResponse, error)
}

// AsyncResponseHandler is implemented by states that complete asynchronously.
// It folds the responses gathered for the awaited correlation ids into a new response.
type AsyncResponseHandler interface {
	HandleAsyncResponse(ctx context.Context, ec ExecutionContext, responses map[string]NotifyResponse) (*ExecutionResponse, error)
}

// EventHandler is implemented by states that react to external events.
// A nil response means the state has no opinion and the executor's default applies.
type EventHandler interface {
	HandleEvent(ctx context.Context, ec ExecutionContext, event ExecutionEvent) (*ExecutionResponse, error)
}

// ForkTargetSetter receives the targets of the FORK edges leaving a state
// when the graph caches are built.
type ForkTargetSetter interface {
	SetForkTargets(names []string)
}

// RepeatTargetSetter receives the target of the REPEAT edge leaving a state
// when the graph caches are built.
type RepeatTargetSetter interface {
	SetRepeatTarget(name string)
}

// StateDefinition is the persisted description of a State.
type StateDefinition struct {
	Name   string         `json:"name" yaml:"name"`
	Type   StateType      `json:"type" yaml:"type"`
	Config map[string]any `json:"config,omitempty" yaml:",inline"`
}
