package ports

// ExpressionEvaluator is the expression backend used by execution contexts.
type ExpressionEvaluator interface {
	// Evaluate computes a single expression against env.
	Evaluate(expression string, env map[string]any) (any, error)

	// Merge substitutes every ${token} in text. Tokens that do not resolve
	// against env are retried under defaultPrefix, then left as written.
	Merge(text string, env map[string]any, defaultPrefix string) (string, error)
}

// ExpressionProcessor rewrites tokens that do not resolve against the context.
type ExpressionProcessor interface {
	// NormalizeExpression returns the rewritten variable and true when the
	// processor owns it.
	NormalizeExpression(variable string) (string, bool)
}
