package domain

import (
	"fmt"
	"sync"
)

// StateMachine is a directed graph of states joined by typed transitions.
//
// The persisted form is the definitions and transitions. The behaviors are
// attached with Load; lookup caches are built lazily on first use and dropped
// whenever Load is called again. Once built the graph is read-only and may be
// shared by concurrent runs.
type StateMachine struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	InitialStateName string            `json:"initial_state" yaml:"initial"`
	Definitions      []StateDefinition `json:"states" yaml:"states"`
	Transitions      []Transition      `json:"transitions" yaml:"transitions"`

	mu          sync.Mutex
	states      []State
	cached      bool
	cacheErr    error
	stateMap    map[string]State
	transitions map[string]map[TransitionType][]State
}

// Definition returns a copy of the persisted fields, without behaviors or caches.
func (sm *StateMachine) Definition() *StateMachine {
	out := &StateMachine{
		ID:               sm.ID,
		Name:             sm.Name,
		InitialStateName: sm.InitialStateName,
		Definitions:      make([]StateDefinition, len(sm.Definitions)),
		Transitions:      make([]Transition, len(sm.Transitions)),
	}
	for i, def := range sm.Definitions {
		out.Definitions[i] = StateDefinition{Name: def.Name, Type: def.Type, Config: copyMap(def.Config)}
	}
	copy(out.Transitions, sm.Transitions)
	return out
}

// Load attaches the behaviors for the graph's states and invalidates the caches.
func (sm *StateMachine) Load(states ...State) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.states = states
	sm.cached = false
	sm.cacheErr = nil
	sm.stateMap = nil
	sm.transitions = nil
}

// States returns the attached behaviors in definition order.
func (sm *StateMachine) States() []State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	out := make([]State, len(sm.states))
	copy(out, sm.states)
	return out
}

// Validate checks the graph invariants and builds the lookup caches.
func (sm *StateMachine) Validate() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.ensureCache()
}

// InitialState returns the state every run starts from.
func (sm *StateMachine) InitialState() (State, error) {
	return sm.State(sm.InitialStateName)
}

// State returns the state with the given name.
func (sm *StateMachine) State(name string) (State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.ensureCache(); err != nil {
		return nil, err
	}
	state, ok := sm.stateMap[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrStateNotFound, name)
	}
	return state, nil
}

// SuccessTransition returns the target of the SUCCESS edge leaving name,
// or nil when the state has none.
func (sm *StateMachine) SuccessTransition(name string) (State, error) {
	return sm.single(name, TransitionSuccess)
}

// FailureTransition returns the target of the FAILURE edge leaving name,
// or nil when the state has none.
func (sm *StateMachine) FailureTransition(name string) (State, error) {
	return sm.single(name, TransitionFailure)
}

// NextStates returns every target of the edges of type t leaving name.
func (sm *StateMachine) NextStates(name string, t TransitionType) ([]State, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.ensureCache(); err != nil {
		return nil, err
	}
	if _, ok := sm.stateMap[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrStateNotFound, name)
	}
	targets := sm.transitions[name][t]
	out := make([]State, len(targets))
	copy(out, targets)
	return out, nil
}

func (sm *StateMachine) single(name string, t TransitionType) (State, error) {
	targets, err := sm.NextStates(name, t)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, nil
	}
	return targets[0], nil
}

// ensureCache must be called with sm.mu held.
func (sm *StateMachine) ensureCache() error {
	if sm.cached {
		return sm.cacheErr
	}
	sm.cacheErr = sm.build()
	sm.cached = true
	return sm.cacheErr
}

func (sm *StateMachine) build() error {
	if len(sm.states) == 0 && len(sm.Definitions) > 0 {
		return &GraphValidationError{Kind: ErrStatesNotLoaded}
	}
	if sm.InitialStateName == "" {
		return &GraphValidationError{Kind: ErrMissingInitialState}
	}

	stateMap := make(map[string]State, len(sm.states))
	for _, state := range sm.states {
		if _, dup := stateMap[state.Name()]; dup {
			return &GraphValidationError{Kind: ErrDuplicateState, State: state.Name()}
		}
		stateMap[state.Name()] = state
	}
	if _, ok := stateMap[sm.InitialStateName]; !ok {
		return &GraphValidationError{Kind: ErrUnknownInitialState, State: sm.InitialStateName}
	}

	transitions := make(map[string]map[TransitionType][]State)
	for _, tr := range sm.Transitions {
		if !tr.Type.Valid() {
			return &GraphValidationError{Kind: ErrInvalidTransitionType, State: tr.From, Detail: string(tr.Type)}
		}
		from, ok := stateMap[tr.From]
		if !ok {
			return &GraphValidationError{Kind: ErrDanglingTransition, State: tr.From, Detail: fmt.Sprintf("%s -> %s", tr.From, tr.To)}
		}
		to, ok := stateMap[tr.To]
		if !ok {
			return &GraphValidationError{Kind: ErrDanglingTransition, State: tr.To, Detail: fmt.Sprintf("%s -> %s", tr.From, tr.To)}
		}
		if tr.Type == TransitionFork && from.Type() != StateTypeFork {
			return &GraphValidationError{Kind: ErrInvalidForkTransition, State: tr.From}
		}
		if tr.Type == TransitionRepeat && from.Type() != StateTypeRepeat {
			return &GraphValidationError{Kind: ErrInvalidRepeatTransition, State: tr.From}
		}

		byType, ok := transitions[tr.From]
		if !ok {
			byType = make(map[TransitionType][]State)
			transitions[tr.From] = byType
		}
		if len(byType[tr.Type]) > 0 && !tr.Type.AllowsFanOut() {
			return &GraphValidationError{Kind: ErrDuplicateTransition, State: tr.From, Detail: string(tr.Type)}
		}
		byType[tr.Type] = append(byType[tr.Type], to)
	}

	for name, byType := range transitions {
		if forks := byType[TransitionFork]; len(forks) > 0 {
			if setter, ok := stateMap[name].(ForkTargetSetter); ok {
				names := make([]string, 0, len(forks))
				for _, target := range forks {
					names = append(names, target.Name())
				}
				setter.SetForkTargets(names)
			}
		}
		if repeats := byType[TransitionRepeat]; len(repeats) > 0 {
			if setter, ok := stateMap[name].(RepeatTargetSetter); ok {
				setter.SetRepeatTarget(repeats[0].Name())
			}
		}
	}

	sm.stateMap = stateMap
	sm.transitions = transitions
	return nil
}
