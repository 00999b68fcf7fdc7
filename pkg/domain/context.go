package domain

// ExecutionContext is the view a State gets of the instance it runs for.
//
// Expressions use the ${token} syntax. Tokens are resolved against the data
// of every state reached so far and the params of the element stack; tokens
// that match neither are offered to the registered processors and finally
// scoped to the current state's name.
type ExecutionContext interface {
	// Instance returns a snapshot of the running instance. Mutating it has no effect.
	Instance() *StateExecutionInstance
	StateMachine() *StateMachine
	RunID() string
	StateName() string

	// RenderExpression substitutes every ${token} in expr with its value.
	RenderExpression(expr string) (string, error)
	// RenderExpressionWith is RenderExpression with extra top-level values.
	RenderExpressionWith(expr string, extra map[string]any) (string, error)
	// EvaluateExpression evaluates expr as a single expression.
	EvaluateExpression(expr string) (any, error)
	// EvaluateExpressionWith is EvaluateExpression with extra top-level values.
	EvaluateExpressionWith(expr string, extra map[string]any) (any, error)

	// PushContextElement adds e as the innermost element. It is persisted
	// with the instance when the state's response is handled.
	PushContextElement(e ContextElement)
	// ContextElement returns the innermost element of type t.
	ContextElement(t ElementType) (ContextElement, bool)
	// ContextElements returns the element stack, innermost first.
	ContextElements() []ContextElement
	// PushedElements returns the elements pushed through this context.
	PushedElements() []ContextElement
	// Param returns a value from the instance's state params.
	Param(key string) (any, bool)
}
