package expression

import "strings"

// AliasProcessor implements ports.ExpressionProcessor by renaming the first
// segment of a variable, e.g. "svc.name" -> "service.name".
type AliasProcessor struct {
	Aliases map[string]string
}

// NewAliasProcessor creates an AliasProcessor.
func NewAliasProcessor(aliases map[string]string) *AliasProcessor {
	return &AliasProcessor{Aliases: aliases}
}

// NormalizeExpression rewrites variable when its first segment is an alias.
func (p *AliasProcessor) NormalizeExpression(variable string) (string, bool) {
	head, rest, hasRest := strings.Cut(variable, ".")
	target, ok := p.Aliases[head]
	if !ok {
		return variable, false
	}
	if !hasRest {
		return target, true
	}
	return target + "." + rest, true
}
