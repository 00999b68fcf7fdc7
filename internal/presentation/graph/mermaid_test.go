package graph_test

import (
	"strings"
	"testing"

	"github.com/aretw0/orchestra/internal/presentation/graph"
	"github.com/aretw0/orchestra/pkg/domain"
)

func machine() *domain.StateMachine {
	return &domain.StateMachine{
		ID:               "m",
		InitialStateName: "start",
		Definitions: []domain.StateDefinition{
			{Name: "start", Type: domain.StateTypeTask},
			{Name: "split", Type: domain.StateTypeFork},
			{Name: "each-host", Type: domain.StateTypeRepeat},
			{Name: "hold", Type: domain.StateTypeWait, Config: map[string]any{"duration": "5s"}},
			{Name: "approve", Type: domain.StateTypePause},
			{Name: "path/to.step", Type: domain.StateTypeTask},
		},
		Transitions: []domain.Transition{
			{From: "start", To: "split", Type: domain.TransitionSuccess},
			{From: "start", To: "approve", Type: domain.TransitionFailure},
			{From: "split", To: "each-host", Type: domain.TransitionFork},
			{From: "each-host", To: "hold", Type: domain.TransitionRepeat},
			{From: "approve", To: "path/to.step", Type: domain.TransitionConditional},
		},
	}
}

func TestGenerateMermaid(t *testing.T) {
	tests := []struct {
		name     string
		overlay  *graph.Overlay
		contains []string
		excludes []string
	}{
		{
			name: "Shapes",
			contains: []string{
				`start(("start"))`,
				`split{{"split"}}`,
				`each_host[["each-host"]]`,
				`approve[/"approve"/]`,
				`hold[/"hold <br/> ⏱️ 5s"/]`,
			},
			excludes: []string{"classDef"},
		},
		{
			name: "ID Sanitization",
			contains: []string{
				`path_to_step["path/to.step"]`,
			},
		},
		{
			name: "Edges",
			contains: []string{
				"start --> split",
				"start -. failure .-> approve",
				"split == fork ==> each_host",
				"each_host == repeat ==> hold",
				"approve -- conditional --> path_to_step",
			},
		},
		{
			name:    "Overlay",
			overlay: &graph.Overlay{Visited: []string{"start", "start"}, Failed: []string{"split"}, Current: "approve"},
			contains: []string{
				"class start visited;",
				"class split failed;",
				"class approve current;",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := graph.GenerateMermaid(machine(), tt.overlay)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("GenerateMermaid() = \n%v\nWant substring: %v", got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("GenerateMermaid() = \n%v\nUnexpected substring: %v", got, bad)
				}
			}
			if strings.Count(got, "class start visited;") > 1 {
				t.Errorf("visited states must be deduplicated")
			}
		})
	}
}

func TestOverlayFromInstances(t *testing.T) {
	o := graph.OverlayFromInstances([]*domain.StateExecutionInstance{
		{StateName: "start", Status: domain.StatusSuccess},
		{StateName: "split", Status: domain.StatusFailed},
		{StateName: "approve", Status: domain.StatusPaused},
	})
	if o.Current != "approve" {
		t.Errorf("Current = %q, want approve", o.Current)
	}
	if len(o.Visited) != 1 || o.Visited[0] != "start" {
		t.Errorf("Visited = %v", o.Visited)
	}
	if len(o.Failed) != 1 || o.Failed[0] != "split" {
		t.Errorf("Failed = %v", o.Failed)
	}
}
