package runtime

import (
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
)

// executionContext implements domain.ExecutionContext for one instance on
// one worker. The executor owns instance; states only see copies.
type executionContext struct {
	instance   *domain.StateExecutionInstance
	sm         *domain.StateMachine
	evaluator  ports.ExpressionEvaluator
	processors []ports.ExpressionProcessor
	pushed     []domain.ContextElement

	// routingFailure is set once failure routing started for this instance.
	routingFailure bool
}

func newExecutionContext(sm *domain.StateMachine, inst *domain.StateExecutionInstance, evaluator ports.ExpressionEvaluator, processors []ports.ExpressionProcessor) *executionContext {
	return &executionContext{
		instance:   inst,
		sm:         sm,
		evaluator:  evaluator,
		processors: processors,
	}
}

func (c *executionContext) Instance() *domain.StateExecutionInstance { return c.instance.Copy() }
func (c *executionContext) StateMachine() *domain.StateMachine       { return c.sm }
func (c *executionContext) RunID() string                            { return c.instance.RunID }
func (c *executionContext) StateName() string                        { return c.instance.StateName }

func (c *executionContext) PushContextElement(e domain.ContextElement) {
	c.pushed = append(c.pushed, e)
}

func (c *executionContext) PushedElements() []domain.ContextElement {
	return append([]domain.ContextElement(nil), c.pushed...)
}

func (c *executionContext) ContextElements() []domain.ContextElement {
	out := make([]domain.ContextElement, 0, len(c.pushed)+len(c.instance.ContextElements))
	for i := len(c.pushed) - 1; i >= 0; i-- {
		out = append(out, c.pushed[i])
	}
	return append(out, c.instance.ContextElements...)
}

func (c *executionContext) ContextElement(t domain.ElementType) (domain.ContextElement, bool) {
	for _, e := range c.ContextElements() {
		if e.Type == t {
			return e, true
		}
	}
	return domain.ContextElement{}, false
}

func (c *executionContext) Param(key string) (any, bool) {
	v, ok := c.instance.StateParams[key]
	return v, ok
}

func (c *executionContext) RenderExpression(expr string) (string, error) {
	return c.RenderExpressionWith(expr, nil)
}

func (c *executionContext) RenderExpressionWith(expr string, extra map[string]any) (string, error) {
	env := c.prepareContext(extra)
	return c.evaluator.Merge(c.normalize(expr, env), env, NormalizeStateName(c.instance.StateName))
}

func (c *executionContext) EvaluateExpression(expr string) (any, error) {
	return c.EvaluateExpressionWith(expr, nil)
}

func (c *executionContext) EvaluateExpressionWith(expr string, extra map[string]any) (any, error) {
	env := c.prepareContext(extra)
	return c.evaluator.Evaluate(c.normalize(expr, env), env)
}

// prepareContext builds the expression environment: one entry per reached
// state, then the element stack from outermost to innermost so inner
// elements shadow outer ones, then extra.
func (c *executionContext) prepareContext(extra map[string]any) map[string]any {
	env := make(map[string]any)
	for name, data := range c.instance.StateExecutionMap {
		env[NormalizeStateName(name)] = data.ParamMap()
	}

	elements := c.ContextElements()
	for i := len(elements) - 1; i >= 0; i-- {
		env[elements[i].Key()] = elements[i].ParamMap()
	}

	env["workflow"] = map[string]any{
		"runId":          c.instance.RunID,
		"instanceId":     c.instance.ID,
		"stateMachineId": c.instance.StateMachineID,
		"stateName":      c.instance.StateName,
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
