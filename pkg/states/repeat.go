package states

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ids"
	"github.com/mitchellh/mapstructure"
)

// RepeatStrategy decides how repeat branches are scheduled.
type RepeatStrategy string

const (
	RepeatSerial   RepeatStrategy = "SERIAL"
	RepeatParallel RepeatStrategy = "PARALLEL"
)

// Reserved state params of a serial repeat.
const (
	ParamRepeatIndex    = "repeatElementIndex"
	ParamRepeatElements = "repeatElements"
)

// RepeatConfig is the definition config of a REPEAT state.
type RepeatConfig struct {
	RepeatElementType         domain.ElementType      `mapstructure:"repeatElementType"`
	RepeatElementExpression   string                  `mapstructure:"repeatElementExpression"`
	RepeatStrategy            RepeatStrategy          `mapstructure:"repeatStrategy"`
	RepeatTransitionStateName string                  `mapstructure:"repeatTransitionStateName"`
	RepeatElements            []domain.ContextElement `mapstructure:"repeatElements"`
}

// RepeatState runs RepeatTransitionStateName once per element, with the
// element pushed onto the branch's context stack.
type RepeatState struct {
	name string
	cfg  RepeatConfig
}

// NewRepeatState creates a RepeatState. An empty strategy means PARALLEL.
func NewRepeatState(name string, cfg RepeatConfig) *RepeatState {
	if cfg.RepeatStrategy == "" {
		cfg.RepeatStrategy = RepeatParallel
	}
	if cfg.RepeatElementType == "" {
		cfg.RepeatElementType = domain.ElementStandard
	}
	return &RepeatState{name: name, cfg: cfg}
}

func (s *RepeatState) Name() string           { return s.name }
func (s *RepeatState) Type() domain.StateType { return domain.StateTypeRepeat }

// Config returns the state's configuration.
func (s *RepeatState) Config() RepeatConfig { return s.cfg }

// SetRepeatTarget fills in the body state from the graph's REPEAT edge
// when the config does not name one.
func (s *RepeatState) SetRepeatTarget(name string) {
	if s.cfg.RepeatTransitionStateName == "" {
		s.cfg.RepeatTransitionStateName = name
	}
}

// Execute resolves the elements and starts the first (SERIAL) or every
// (PARALLEL) branch. No elements is an immediate failure.
func (s *RepeatState) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	if s.cfg.RepeatTransitionStateName == "" {
		return nil, fmt.Errorf("repeat state %q has no repeat target", s.name)
	}
	elements, err := s.resolveElements(ec)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return &domain.ExecutionResponse{
			Status:       domain.StatusFailed,
			ErrorMessage: fmt.Sprintf("repeat state %q resolved no elements", s.name),
		}, nil
	}

	inst := ec.Instance()
	resp := &domain.ExecutionResponse{
		Async:  true,
		Status: domain.StatusRunning,
		StateExecutionData: &domain.StateExecutionData{
			Data: map[string]any{"repeatStrategy": string(s.cfg.RepeatStrategy), "repeatCount": len(elements)},
		},
	}
	if s.cfg.RepeatStrategy == RepeatSerial {
		resp.Params = map[string]any{ParamRepeatIndex: 0, ParamRepeatElements: elements}
		s.spawn(resp, inst, elements[0], 0)
		return resp, nil
	}
	for i, el := range elements {
		s.spawn(resp, inst, el, i)
	}
	return resp, nil
}

// HandleAsyncResponse joins the parallel branches, or advances the serial
// cursor and starts the next branch. A failed branch ends the repeat.
func (s *RepeatState) HandleAsyncResponse(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error) {
	joined := joinResponses(responses)
	if s.cfg.RepeatStrategy != RepeatSerial || joined.Status != domain.StatusSuccess {
		return joined, nil
	}

	index, elements, err := serialCursor(ec)
	if err != nil {
		return nil, err
	}
	index++
	if index >= len(elements) {
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}

	resp := &domain.ExecutionResponse{
		Async:  true,
		Status: domain.StatusRunning,
		Params: map[string]any{ParamRepeatIndex: index},
	}
	s.spawn(resp, ec.Instance(), elements[index], index)
	return resp, nil
}

func (s *RepeatState) spawn(resp *domain.ExecutionResponse, inst *domain.StateExecutionInstance, el domain.ContextElement, index int) {
	target := s.cfg.RepeatTransitionStateName
	correlationID := ids.Correlation(inst.RunID, inst.ID, target, strconv.Itoa(index))
	child := inst.Spawn(target, correlationID)
	element := el
	child.ContextElement = &element
	child.PushContextElement(el)
	resp.CorrelationIDs = append(resp.CorrelationIDs, correlationID)
	resp.Children = append(resp.Children, child)
}

func (s *RepeatState) resolveElements(ec domain.ExecutionContext) ([]domain.ContextElement, error) {
	if len(s.cfg.RepeatElements) > 0 {
		return toElements(s.cfg.RepeatElements, s.cfg.RepeatElementType)
	}
	if s.cfg.RepeatElementExpression == "" {
		return nil, nil
	}
	v, err := ec.EvaluateExpression(s.cfg.RepeatElementExpression)
	if err != nil {
		return nil, fmt.Errorf("repeat state %q: %w", s.name, err)
	}
	return toElements(v, s.cfg.RepeatElementType)
}

func serialCursor(ec domain.ExecutionContext) (int, []domain.ContextElement, error) {
	rawIndex, ok := ec.Param(ParamRepeatIndex)
	if !ok {
		return 0, nil, fmt.Errorf("serial repeat lost its %s param", ParamRepeatIndex)
	}
	var index int
	if err := mapstructure.WeakDecode(rawIndex, &index); err != nil {
		return 0, nil, fmt.Errorf("decode %s: %w", ParamRepeatIndex, err)
	}
	rawElements, _ := ec.Param(ParamRepeatElements)
	elements, err := toElements(rawElements, domain.ElementStandard)
	if err != nil {
		return 0, nil, err
	}
	return index, elements, nil
}

// toElements accepts elements as stored in config, params or expression
// results: element values, names, or maps decoded with mapstructure.
func toElements(v any, t domain.ElementType) ([]domain.ContextElement, error) {
	switch items := v.(type) {
	case nil:
		return nil, nil
	case []domain.ContextElement:
		out := make([]domain.ContextElement, len(items))
		for i, el := range items {
			if el.Type == "" {
				el.Type = t
			}
			out[i] = el
		}
		return out, nil
	case []string:
		out := make([]domain.ContextElement, len(items))
		for i, name := range items {
			out[i] = domain.ContextElement{Type: t, Name: name}
		}
		return out, nil
	case []any:
		out := make([]domain.ContextElement, 0, len(items))
		for _, item := range items {
			el, err := toElement(item, t)
			if err != nil {
				return nil, err
			}
			out = append(out, el)
		}
		return out, nil
	}
	return nil, fmt.Errorf("repeat elements must be a list, got %T", v)
}

func toElement(item any, t domain.ElementType) (domain.ContextElement, error) {
	switch v := item.(type) {
	case domain.ContextElement:
		if v.Type == "" {
			v.Type = t
		}
		return v, nil
	case string:
		return domain.ContextElement{Type: t, Name: v}, nil
	case map[string]any:
		var el domain.ContextElement
		if err := mapstructure.Decode(v, &el); err != nil {
			return el, fmt.Errorf("decode repeat element: %w", err)
		}
		if el.Type == "" {
			el.Type = t
		}
		return el, nil
	}
	return domain.ContextElement{Type: t, Name: fmt.Sprint(item)}, nil
}
