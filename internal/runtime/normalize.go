package runtime

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tokenPattern = regexp.MustCompile(`\$\{([^{}]+)\}`)
	headPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*`)
)

// literals are never scoped to the current state.
var literals = map[string]bool{"true": true, "false": true, "nil": true}

// NormalizeStateName turns a state name into an expression identifier.
func NormalizeStateName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '_' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// normalize rewrites every ${token} so it resolves against env: tokens whose
// head is a context key are kept, then processors get a chance, and anything
// left is scoped to the current state.
func (c *executionContext) normalize(text string, env map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(text, func(match string) string {
		variable := strings.TrimSpace(tokenPattern.FindStringSubmatch(match)[1])
		return "${" + c.normalizeVariable(variable, env) + "}"
	})
}

func (c *executionContext) normalizeVariable(variable string, env map[string]any) string {
	head := headPattern.FindString(variable)
	if head == "" || literals[head] {
		return variable
	}
	rest := variable[len(head):]
	if strings.HasPrefix(strings.TrimSpace(rest), "(") {
		return variable
	}
	if _, ok := env[head]; ok {
		return variable
	}

	// "Deploy Service.status" refers to state "Deploy Service".
	if name, tail, found := strings.Cut(variable, "."); found {
		if normalized := NormalizeStateName(strings.TrimSpace(name)); normalized != name {
			if _, ok := env[normalized]; ok {
				return normalized + "." + tail
			}
		}
	}

	for _, p := range c.processors {
		if rewritten, ok := p.NormalizeExpression(variable); ok {
			return rewritten
		}
	}
	return NormalizeStateName(c.instance.StateName) + "." + variable
}
