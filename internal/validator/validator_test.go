package validator

import (
	"testing"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLint(t *testing.T) {
	sm := &domain.StateMachine{
		ID:               "lint",
		InitialStateName: "Build",
		Definitions: []domain.StateDefinition{
			{Name: "Build", Type: domain.StateTypeTask, Config: map[string]any{"task": "build"}},
			{Name: "Split", Type: domain.StateTypeFork},
			{Name: "Each", Type: domain.StateTypeRepeat},
			{Name: "Orphan", Type: domain.StateTypeTask, Config: map[string]any{"task": "mystery"}},
			{Name: "Approve", Type: domain.StateTypePause},
		},
		Transitions: []domain.Transition{
			{From: "Build", To: "Split", Type: domain.TransitionSuccess},
			{From: "Split", To: "Each", Type: domain.TransitionSuccess},
			{From: "Each", To: "Approve", Type: domain.TransitionSuccess},
		},
	}

	issues := Lint(sm, Options{KnownTasks: []string{"build"}})
	byState := make(map[string][]Issue)
	for _, issue := range issues {
		byState[issue.State] = append(byState[issue.State], issue)
	}

	require.Len(t, byState["Orphan"], 2)
	assert.Contains(t, issues, Issue{SeverityWarning, "Orphan", "unreachable from the initial state"})
	assert.Contains(t, issues, Issue{SeverityError, "Orphan", `unknown task "mystery"`})
	assert.Contains(t, issues, Issue{SeverityError, "Split", "fork state without FORK transitions"})
	assert.Contains(t, issues, Issue{SeverityError, "Each", "repeat state without a REPEAT transition"})
	assert.Contains(t, issues, Issue{SeverityWarning, "Approve", "pause state ends the run when approved"})
	assert.Empty(t, byState["Build"])
	assert.Equal(t, SeverityError, issues[0].Severity, "errors sort first")

	err := Validate(sm, Options{KnownTasks: []string{"build"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "found 3 errors")
}

func TestLint_CleanGraph(t *testing.T) {
	sm := &domain.StateMachine{
		ID:               "clean",
		InitialStateName: "A",
		Definitions: []domain.StateDefinition{
			{Name: "A", Type: domain.StateTypeTask, Config: map[string]any{"task": "anything"}},
			{Name: "B", Type: domain.StateTypeTask, Config: map[string]any{"task": "anything"}},
		},
		Transitions: []domain.Transition{{From: "A", To: "B", Type: domain.TransitionFailure}},
	}
	assert.Empty(t, Lint(sm, Options{}))
	assert.NoError(t, Validate(sm, Options{}))
}
