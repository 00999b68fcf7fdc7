package dsl

import "github.com/aretw0/orchestra/pkg/domain"

// StateBuilder provides a fluent API for configuring a state and its edges.
type StateBuilder struct {
	def         domain.StateDefinition
	transitions []domain.Transition
}

// Set stores a raw config value.
func (s *StateBuilder) Set(key string, value any) *StateBuilder {
	s.def.Config[key] = value
	return s
}

// Elements sets the fixed elements a REPEAT state iterates over.
func (s *StateBuilder) Elements(elements ...domain.ContextElement) *StateBuilder {
	return s.Set("repeatElements", elements)
}

// ElementsFrom sets the expression producing a REPEAT state's elements.
func (s *StateBuilder) ElementsFrom(expr string) *StateBuilder {
	return s.Set("repeatElementExpression", expr)
}

// Each adds the REPEAT edge to the state run once per element.
func (s *StateBuilder) Each(target string) *StateBuilder {
	return s.On(domain.TransitionRepeat, target)
}

// Branches adds a FORK edge to every target.
func (s *StateBuilder) Branches(targets ...string) *StateBuilder {
	for _, t := range targets {
		s.On(domain.TransitionFork, t)
	}
	return s
}

// Then adds the SUCCESS edge.
func (s *StateBuilder) Then(target string) *StateBuilder {
	return s.On(domain.TransitionSuccess, target)
}

// OnFailure adds the FAILURE edge.
func (s *StateBuilder) OnFailure(target string) *StateBuilder {
	return s.On(domain.TransitionFailure, target)
}

// On adds an edge of any type.
func (s *StateBuilder) On(t domain.TransitionType, target string) *StateBuilder {
	s.transitions = append(s.transitions, domain.Transition{From: s.def.Name, To: target, Type: t})
	return s
}

// Definition returns the state's definition.
func (s *StateBuilder) Definition() domain.StateDefinition {
	return s.def
}
