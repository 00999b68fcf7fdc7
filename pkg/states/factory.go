package states

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/aretw0/orchestra/internal/logging"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/aretw0/orchestra/pkg/registry"
	"github.com/mitchellh/mapstructure"
)

// Factory builds State variants from definitions.
type Factory struct {
	registry *registry.Registry
	notifier ports.WaitNotifier
	logger   *slog.Logger
}

// FactoryOption configures the Factory.
type FactoryOption func(*Factory)

// WithRegistry sets the task registry used by TASK states.
func WithRegistry(reg *registry.Registry) FactoryOption {
	return func(f *Factory) { f.registry = reg }
}

// WithNotifier sets the notifier used by WAIT states.
func WithNotifier(n ports.WaitNotifier) FactoryOption {
	return func(f *Factory) { f.notifier = n }
}

// WithLogger configures a logger handed to the built states.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// NewFactory creates a Factory.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		registry: registry.NewRegistry(),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Build turns one definition into its State.
func (f *Factory) Build(def domain.StateDefinition) (domain.State, error) {
	if def.Name == "" {
		return nil, errors.New("state definition without a name")
	}

	switch def.Type {
	case domain.StateTypeFork:
		var cfg ForkConfig
		if err := decode(def, &cfg); err != nil {
			return nil, err
		}
		return NewForkState(def.Name, cfg.ForkStateNames...), nil

	case domain.StateTypeRepeat:
		var cfg RepeatConfig
		if err := decode(def, &cfg); err != nil {
			return nil, err
		}
		switch cfg.RepeatStrategy {
		case "", RepeatSerial, RepeatParallel:
		default:
			return nil, fmt.Errorf("state %q: unknown repeat strategy %q", def.Name, cfg.RepeatStrategy)
		}
		return NewRepeatState(def.Name, cfg), nil

	case domain.StateTypeTask:
		var cfg TaskConfig
		if err := decode(def, &cfg); err != nil {
			return nil, err
		}
		if cfg.Task == "" {
			return nil, fmt.Errorf("state %q: task name is required", def.Name)
		}
		return NewTaskState(def.Name, cfg, f.registry), nil

	case domain.StateTypeWait:
		var cfg WaitConfig
		if err := decode(def, &cfg); err != nil {
			return nil, err
		}
		if f.notifier == nil {
			return nil, fmt.Errorf("state %q: wait states need a notifier", def.Name)
		}
		return NewWaitState(def.Name, cfg, f.notifier, f.logger), nil

	case domain.StateTypePause:
		if err := decode(def, &struct{}{}); err != nil {
			return nil, err
		}
		return NewPauseState(def.Name), nil
	}

	return nil, fmt.Errorf("%w: %q (state %q)", domain.ErrUnknownStateType, def.Type, def.Name)
}

// Load builds every definition of sm, attaches the states and validates the graph.
func (f *Factory) Load(sm *domain.StateMachine) error {
	built := make([]domain.State, 0, len(sm.Definitions))
	for _, def := range sm.Definitions {
		state, err := f.Build(def)
		if err != nil {
			return err
		}
		built = append(built, state)
	}
	sm.Load(built...)
	return sm.Validate()
}

func decode(def domain.StateDefinition, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			elementNameHook,
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(def.Config); err != nil {
		return fmt.Errorf("state %q: invalid %s config: %w", def.Name, def.Type, err)
	}
	return nil
}

// elementNameHook lets element lists be written as plain names.
func elementNameHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(domain.ContextElement{}) {
		return data, nil
	}
	return domain.ContextElement{Name: reflect.ValueOf(data).String()}, nil
}
