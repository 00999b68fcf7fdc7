package graph

import (
	"fmt"
	"strings"

	"github.com/aretw0/orchestra/pkg/domain"
)

// Overlay marks the progress of a run on the graph.
type Overlay struct {
	Visited []string
	Failed  []string
	Current string
}

// OverlayFromInstances derives an Overlay from the instances of one run.
// The last active instance is the current state.
func OverlayFromInstances(instances []*domain.StateExecutionInstance) *Overlay {
	o := &Overlay{}
	for _, inst := range instances {
		switch {
		case inst.Status.In(domain.ActiveStatuses...):
			o.Current = inst.StateName
		case inst.Status == domain.StatusSuccess:
			o.Visited = append(o.Visited, inst.StateName)
		default:
			o.Failed = append(o.Failed, inst.StateName)
		}
	}
	return o
}

// GenerateMermaid produces a Mermaid flowchart of sm.
// Shapes follow the state type:
// - Initial: ((Circle))
// - FORK: {{Hexagon}}
// - REPEAT: [[Subroutine]]
// - WAIT, PAUSE: [/Parallelogram/]
// - TASK: [Rectangle]
func GenerateMermaid(sm *domain.StateMachine, overlay *Overlay) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, def := range sm.Definitions {
		safeID := sanitizeMermaidID(def.Name)

		opener, closer := "[", "]"
		switch {
		case def.Name == sm.InitialStateName:
			opener, closer = "((", "))"
		case def.Type == domain.StateTypeFork:
			opener, closer = "{{", "}}"
		case def.Type == domain.StateTypeRepeat:
			opener, closer = "[[", "]]"
		case def.Type == domain.StateTypeWait, def.Type == domain.StateTypePause:
			opener, closer = "[/", "/]"
		}

		label := def.Name
		if d, ok := def.Config["duration"].(string); ok && def.Type == domain.StateTypeWait {
			label = fmt.Sprintf("%s <br/> ⏱️ %s", def.Name, d)
		}
		fmt.Fprintf(&sb, "    %s%s\"%s\"%s\n", safeID, opener, escapeLabel(label), closer)
	}

	for _, t := range sm.Transitions {
		from, to := sanitizeMermaidID(t.From), sanitizeMermaidID(t.To)
		fmt.Fprintf(&sb, "    %s %s %s\n", from, arrow(t.Type), to)
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef failed fill:#ffcdd2,stroke:#b71c1c,stroke-width:2px,color:#000;\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

		writeClass(&sb, overlay.Visited, "visited")
		writeClass(&sb, overlay.Failed, "failed")
		if overlay.Current != "" {
			fmt.Fprintf(&sb, "    class %s current;\n", sanitizeMermaidID(overlay.Current))
		}
	}

	return sb.String()
}

func arrow(t domain.TransitionType) string {
	switch t {
	case domain.TransitionSuccess:
		return "-->"
	case domain.TransitionFailure, domain.TransitionAbort:
		return fmt.Sprintf("-. %s .->", strings.ToLower(string(t)))
	case domain.TransitionFork, domain.TransitionRepeat:
		return fmt.Sprintf("== %s ==>", strings.ToLower(string(t)))
	}
	return fmt.Sprintf("-- %s -->", strings.ToLower(string(t)))
}

func writeClass(sb *strings.Builder, names []string, class string) {
	seen := make(map[string]bool)
	for _, name := range names {
		safeID := sanitizeMermaidID(name)
		if safeID == "" || seen[safeID] {
			continue
		}
		seen[safeID] = true
		fmt.Fprintf(sb, "    class %s %s;\n", safeID, class)
	}
}

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
