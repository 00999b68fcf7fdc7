package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
)

// Mask replaces the values of matching keys.
const Mask = "***"

type piiMiddleware struct {
	next     ports.InstanceStore
	patterns []*regexp.Regexp
}

// NewPIIMiddleware masks, before they are persisted, the values of state data
// and param keys matching any of the patterns. Masked values are gone for
// good: states reading them after a reload see Mask.
func NewPIIMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid mask pattern %q: %w", p, err)
		}
		patterns[i] = re
	}
	return func(next ports.InstanceStore) ports.InstanceStore {
		return &piiMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *piiMiddleware) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	return m.next.Save(ctx, m.mask(inst))
}

func (m *piiMiddleware) Get(ctx context.Context, id string) (*domain.StateExecutionInstance, error) {
	return m.next.Get(ctx, id)
}

func (m *piiMiddleware) Update(ctx context.Context, inst *domain.StateExecutionInstance, allowed ...domain.ExecutionStatus) error {
	return m.next.Update(ctx, m.mask(inst), allowed...)
}

func (m *piiMiddleware) ListByRun(ctx context.Context, runID string) ([]*domain.StateExecutionInstance, error) {
	return m.next.ListByRun(ctx, runID)
}

// mask works on a deep copy; the caller's instance keeps the real values.
func (m *piiMiddleware) mask(inst *domain.StateExecutionInstance) *domain.StateExecutionInstance {
	out := inst.Copy()
	for _, data := range out.StateExecutionMap {
		if data != nil {
			data.Data = maskMap(data.Data, m.patterns)
		}
	}
	out.StateParams = maskMap(out.StateParams, m.patterns)
	return out
}

// maskMap returns a masked copy of in, recursing into nested maps.
func maskMap(in map[string]any, patterns []*regexp.Regexp) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch {
		case matchesAny(k, patterns):
			out[k] = Mask
		default:
			if sub, ok := v.(map[string]any); ok {
				v = maskMap(sub, patterns)
			}
			out[k] = v
		}
	}
	return out
}

func matchesAny(key string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
