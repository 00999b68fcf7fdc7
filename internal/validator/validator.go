// Package validator lints state machine definitions beyond the structural
// checks the engine enforces when a graph is loaded.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/orchestra/pkg/domain"
)

// Severity ranks an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding about a graph.
type Issue struct {
	Severity Severity
	State    string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.State, i.Message)
}

// Options tunes the lint.
type Options struct {
	// KnownTasks, when set, flags TASK states naming other tasks.
	KnownTasks []string
}

// Lint crawls sm from its initial state and reports unreachable states,
// fork and repeat states without targets, and unknown tasks.
func Lint(sm *domain.StateMachine, opts Options) []Issue {
	var issues []Issue

	outgoing := make(map[string][]domain.Transition)
	for _, t := range sm.Transitions {
		outgoing[t.From] = append(outgoing[t.From], t)
	}

	visited := make(map[string]bool)
	queue := []string{sm.InitialStateName}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true
		for _, t := range outgoing[current] {
			if !visited[t.To] {
				queue = append(queue, t.To)
			}
		}
	}

	known := make(map[string]bool, len(opts.KnownTasks))
	for _, name := range opts.KnownTasks {
		known[name] = true
	}

	for _, def := range sm.Definitions {
		if !visited[def.Name] {
			issues = append(issues, Issue{SeverityWarning, def.Name, "unreachable from the initial state"})
		}

		switch def.Type {
		case domain.StateTypeFork:
			if count(outgoing[def.Name], domain.TransitionFork) == 0 {
				issues = append(issues, Issue{SeverityError, def.Name, "fork state without FORK transitions"})
			}
		case domain.StateTypeRepeat:
			if count(outgoing[def.Name], domain.TransitionRepeat) == 0 {
				issues = append(issues, Issue{SeverityError, def.Name, "repeat state without a REPEAT transition"})
			}
		case domain.StateTypeTask:
			task, _ := def.Config["task"].(string)
			if len(known) > 0 && task != "" && !known[task] {
				issues = append(issues, Issue{SeverityError, def.Name, fmt.Sprintf("unknown task %q", task)})
			}
		case domain.StateTypePause:
			if count(outgoing[def.Name], domain.TransitionSuccess) == 0 {
				issues = append(issues, Issue{SeverityWarning, def.Name, "pause state ends the run when approved"})
			}
		}
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Severity == SeverityError && issues[j].Severity != SeverityError
	})
	return issues
}

// Validate returns an error listing every error-level issue.
func Validate(sm *domain.StateMachine, opts Options) error {
	var errs []string
	for _, issue := range Lint(sm, opts) {
		if issue.Severity == SeverityError {
			errs = append(errs, issue.String())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errs), strings.Join(errs, "\n- "))
	}
	return nil
}

func count(transitions []domain.Transition, t domain.TransitionType) int {
	n := 0
	for _, tr := range transitions {
		if tr.Type == t {
			n++
		}
	}
	return n
}
