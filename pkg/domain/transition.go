package domain

// TransitionType is the label on an edge of the state graph.
type TransitionType string

const (
	TransitionSuccess     TransitionType = "SUCCESS"
	TransitionFailure     TransitionType = "FAILURE"
	TransitionAbort       TransitionType = "ABORT"
	TransitionRepeat      TransitionType = "REPEAT"
	TransitionFork        TransitionType = "FORK"
	TransitionConditional TransitionType = "CONDITIONAL"
)

// Valid reports whether t is one of the known transition types.
func (t TransitionType) Valid() bool {
	switch t {
	case TransitionSuccess, TransitionFailure, TransitionAbort,
		TransitionRepeat, TransitionFork, TransitionConditional:
		return true
	}
	return false
}

// AllowsFanOut reports whether a state may have several outgoing edges of type t.
func (t TransitionType) AllowsFanOut() bool {
	return t == TransitionFork || t == TransitionConditional
}

// Transition is a directed, typed edge between two states.
type Transition struct {
	From string         `json:"from" yaml:"from" mapstructure:"from"`
	To   string         `json:"to" yaml:"to" mapstructure:"to"`
	Type TransitionType `json:"type" yaml:"type" mapstructure:"type"`
}
