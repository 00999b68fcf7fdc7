package domain

import "strings"

// ElementType classifies a ContextElement.
type ElementType string

const (
	ElementStandard ElementType = "STANDARD"
	ElementService  ElementType = "SERVICE"
	ElementHost     ElementType = "HOST"
	ElementInfra    ElementType = "INFRASTRUCTURE"
	ElementParam    ElementType = "PARAM"
)

// ContextElement is a scoped value pushed onto an instance's context stack.
// Its params are visible to expressions under the element's key, e.g. ${host.name}.
type ContextElement struct {
	Type   ElementType    `json:"type" yaml:"type" mapstructure:"type"`
	Name   string         `json:"name" yaml:"name" mapstructure:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// Key is the name the element's params are exposed under in expressions.
func (e ContextElement) Key() string {
	if e.Type == "" {
		return strings.ToLower(string(ElementStandard))
	}
	return strings.ToLower(string(e.Type))
}

// ParamMap returns the element's contribution to the expression context.
func (e ContextElement) ParamMap() map[string]any {
	m := make(map[string]any, len(e.Params)+1)
	for k, v := range e.Params {
		m[k] = v
	}
	m["name"] = e.Name
	return m
}

func cloneElements(elements []ContextElement) []ContextElement {
	if elements == nil {
		return nil
	}
	out := make([]ContextElement, len(elements))
	for i, e := range elements {
		out[i] = e.clone()
	}
	return out
}

func (e ContextElement) clone() ContextElement {
	e.Params = copyMap(e.Params)
	return e
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
