package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/pkg/domain"
)

const runCallback = "cli.done"

// RunOptions contains all the configuration for the run command.
type RunOptions struct {
	Path     string
	RunID    string
	Elements []string
	// Approve resumes PAUSE states without asking.
	Approve bool
	JSON    bool
	Color   bool
	Timeout time.Duration
	// Input answers approval prompts; nil aborts paused states.
	Input io.Reader
}

// ParseElements turns TYPE:name arguments into context elements. A bare
// name is a STANDARD element.
func ParseElements(args []string) ([]domain.ContextElement, error) {
	out := make([]domain.ContextElement, 0, len(args))
	for _, arg := range args {
		typ, name, ok := strings.Cut(arg, ":")
		if !ok {
			typ, name = string(domain.ElementStandard), arg
		}
		if name == "" {
			return nil, fmt.Errorf("element %q has no name", arg)
		}
		out = append(out, domain.ContextElement{Type: domain.ElementType(strings.ToUpper(typ)), Name: name})
	}
	return out, nil
}

// Run loads the graph at opts.Path, executes it and writes the instance
// chain to out once the run ends.
func Run(ctx context.Context, rt *Runtime, opts RunOptions, out io.Writer) (orchestra.RunResult, error) {
	eng := rt.Engine
	RegisterBuiltinTasks(eng.Registry())

	elements, err := ParseElements(opts.Elements)
	if err != nil {
		return orchestra.RunResult{}, err
	}
	sm, err := eng.LoadFile(ctx, opts.Path)
	if err != nil {
		return orchestra.RunResult{}, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	done := make(chan orchestra.RunResult, 1)
	eng.RegisterCallback(runCallback, func(_ context.Context, r orchestra.RunResult) {
		select {
		case done <- r:
		default:
		}
	})

	first, err := eng.Execute(ctx, sm.ID, opts.RunID, elements, &domain.Callback{Handler: runCallback})
	if err != nil {
		return orchestra.RunResult{}, err
	}

	result, err := waitForRun(ctx, eng, first.RunID, opts, done, out)
	if err != nil {
		return result, err
	}

	instances, err := eng.RunInstances(ctx, first.RunID)
	if err != nil {
		return result, err
	}
	if opts.JSON {
		enc := json.NewEncoder(out)
		for _, inst := range instances {
			if err := enc.Encode(inst); err != nil {
				return result, err
			}
		}
		return result, nil
	}
	p := NewPrinter(out, opts.Color)
	p.PrintChain(instances)
	fmt.Fprintf(out, "\nRun %s ended in %s at %s\n", result.RunID, p.Status(result.Status), result.StateName)
	return result, nil
}

// waitForRun polls for paused instances, answering each once, until the
// run callback fires.
func waitForRun(ctx context.Context, eng *orchestra.Engine, runID string, opts RunOptions, done <-chan orchestra.RunResult, out io.Writer) (orchestra.RunResult, error) {
	var reader *bufio.Reader
	if opts.Input != nil {
		reader = bufio.NewReader(opts.Input)
	}
	answered := make(map[string]bool)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case result := <-done:
			return result, nil
		case <-ctx.Done():
			return orchestra.RunResult{RunID: runID}, ctx.Err()
		case <-ticker.C:
		}

		instances, err := eng.RunInstances(ctx, runID)
		if err != nil {
			return orchestra.RunResult{RunID: runID}, err
		}
		for _, inst := range instances {
			if inst.Status != domain.StatusPaused || inst.StateType != domain.StateTypePause || answered[inst.ID] {
				continue
			}
			answered[inst.ID] = true

			event := domain.EventAbort
			switch {
			case opts.Approve:
				event = domain.EventResume
			case reader != nil:
				fmt.Fprintf(out, "Approve %s? [y/N] ", inst.StateName)
				line, _ := reader.ReadString('\n')
				if strings.EqualFold(strings.TrimSpace(line), "y") {
					event = domain.EventResume
				}
			}
			if err := eng.HandleEvent(ctx, domain.ExecutionEvent{Type: event, RunID: runID, InstanceID: inst.ID}); err != nil {
				return orchestra.RunResult{RunID: runID}, err
			}
		}
	}
}
