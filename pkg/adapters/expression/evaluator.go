// Package expression adapts github.com/expr-lang/expr to the executor's
// expression ports.
package expression

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// TokenPattern matches a ${token} placeholder; group 1 is the token.
var TokenPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)

// Evaluator implements ports.ExpressionEvaluator. Compiled programs are cached
// by source, so one Evaluator should be shared.
type Evaluator struct {
	programs sync.Map
}

// NewEvaluator creates an Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate computes expression against env. Placeholders are unwrapped first,
// so "${a.b} > 2" and "a.b > 2" are equivalent. Unknown names evaluate to nil.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (any, error) {
	code := strings.TrimSpace(TokenPattern.ReplaceAllString(expression, "$1"))
	if code == "" {
		return nil, nil
	}
	program, err := e.compile(code)
	if err != nil {
		return nil, err
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", code, err)
	}
	return out, nil
}

// Merge substitutes every ${token} in text. A token that yields nothing is
// retried under defaultPrefix and otherwise left as written.
func (e *Evaluator) Merge(text string, env map[string]any, defaultPrefix string) (string, error) {
	var firstErr error
	out := TokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		token := strings.TrimSpace(TokenPattern.FindStringSubmatch(match)[1])
		if v, err := e.Evaluate(token, env); err == nil && v != nil {
			return fmt.Sprint(v)
		} else if err != nil && firstErr == nil && !isLookupError(err) {
			firstErr = err
		}
		if defaultPrefix != "" && !strings.HasPrefix(token, defaultPrefix+".") {
			if v, err := e.Evaluate(defaultPrefix+"."+token, env); err == nil && v != nil {
				return fmt.Sprint(v)
			}
		}
		return match
	})
	return out, firstErr
}

func (e *Evaluator) compile(code string) (*vm.Program, error) {
	if cached, ok := e.programs.Load(code); ok {
		return cached.(*vm.Program), nil
	}
	program, err := exprlang.Compile(code, exprlang.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", code, err)
	}
	e.programs.Store(code, program)
	return program, nil
}

// isLookupError reports runtime errors caused by walking into a missing value,
// which Merge treats as "unresolved" rather than as a failure.
func isLookupError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "cannot fetch") || strings.Contains(msg, "nil")
}
