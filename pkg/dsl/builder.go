package dsl

import (
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/states"
)

// Builder manages the graph construction.
type Builder struct {
	id      string
	name    string
	initial string
	order   []string
	states  map[string]*StateBuilder
}

// New creates a builder for the state machine id.
func New(id string) *Builder {
	return &Builder{
		id:     id,
		states: make(map[string]*StateBuilder),
	}
}

// Named sets the display name.
func (b *Builder) Named(name string) *Builder {
	b.name = name
	return b
}

// Initial overrides the initial state. It defaults to the first state added.
func (b *Builder) Initial(state string) *Builder {
	b.initial = state
	return b
}

// Add returns the builder for the named state, creating it with type t.
// If the state already exists its builder is returned unchanged.
func (b *Builder) Add(name string, t domain.StateType) *StateBuilder {
	if sb, ok := b.states[name]; ok {
		return sb
	}
	sb := &StateBuilder{
		def: domain.StateDefinition{Name: name, Type: t, Config: map[string]any{}},
	}
	b.states[name] = sb
	b.order = append(b.order, name)
	return sb
}

// Task adds a TASK state calling the registered task with args.
func (b *Builder) Task(name, task string, args map[string]any) *StateBuilder {
	sb := b.Add(name, domain.StateTypeTask).Set("task", task)
	if len(args) > 0 {
		sb.Set("args", args)
	}
	return sb
}

// Wait adds a WAIT state sleeping for d.
func (b *Builder) Wait(name string, d time.Duration) *StateBuilder {
	return b.Add(name, domain.StateTypeWait).Set("duration", d.String())
}

// Pause adds a PAUSE state waiting for approval.
func (b *Builder) Pause(name string) *StateBuilder {
	return b.Add(name, domain.StateTypePause)
}

// Fork adds a FORK state. Its branches are declared with StateBuilder.Fork.
func (b *Builder) Fork(name string) *StateBuilder {
	return b.Add(name, domain.StateTypeFork)
}

// Repeat adds a REPEAT state over elements of type t, one at a time for
// states.RepeatSerial or all at once for states.RepeatParallel.
func (b *Builder) Repeat(name string, t domain.ElementType, strategy states.RepeatStrategy) *StateBuilder {
	return b.Add(name, domain.StateTypeRepeat).
		Set("repeatElementType", string(t)).
		Set("repeatStrategy", string(strategy))
}

// Build assembles the definition. Structural validation beyond dangling
// edges happens when the engine loads it.
func (b *Builder) Build() (*domain.StateMachine, error) {
	if len(b.order) == 0 {
		return nil, errors.New("state machine has no states")
	}
	sm := &domain.StateMachine{
		ID:               b.id,
		Name:             b.name,
		InitialStateName: b.initial,
	}
	if sm.InitialStateName == "" {
		sm.InitialStateName = b.order[0]
	}

	var errs []error
	for _, name := range b.order {
		sb := b.states[name]
		def := sb.def
		def.Config = make(map[string]any, len(sb.def.Config))
		for k, v := range sb.def.Config {
			def.Config[k] = v
		}
		sm.Definitions = append(sm.Definitions, def)
		for _, tr := range sb.transitions {
			if _, ok := b.states[tr.To]; !ok {
				errs = append(errs, &domain.GraphValidationError{
					Kind:   domain.ErrDanglingTransition,
					State:  name,
					Detail: fmt.Sprintf("%s edge to %q", tr.Type, tr.To),
				})
			}
			sm.Transitions = append(sm.Transitions, tr)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return sm, nil
}
