package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Printer writes run output, coloring statuses when its profile allows.
type Printer struct {
	w       io.Writer
	profile termenv.Profile
}

// NewPrinter creates a Printer. color false forces plain ASCII output.
func NewPrinter(w io.Writer, color bool) *Printer {
	profile := termenv.Ascii
	if color {
		profile = termenv.ColorProfile()
	}
	return &Printer{w: w, profile: profile}
}

// PrintBanner outputs the orchestra banner.
func (p *Printer) PrintBanner() {
	lines := []struct{ text, color string }{
		{"   ___          _               _             ", "#818cf8"},
		{"  / _ \\ _ __ __| |__   ___  ___| |_ _ __ __ _ ", "#a78bfa"},
		{" | | | | '__/ _| '_ \\ / _ \\/ __| __| '__/ _` |", "#c084fc"},
		{" | |_| | | | (_| | | |  __/\\__ \\ |_| | | (_| |", "#e879f9"},
		{"  \\___/|_|  \\__|_| |_|\\___||___/\\__|_|  \\__,_|", "#f472b6"},
	}
	fmt.Fprintln(p.w)
	for _, l := range lines {
		fmt.Fprintln(p.w, p.profile.String(l.text).Foreground(p.profile.Color(l.color)))
	}
	fmt.Fprintln(p.w)
}

// Status renders a status with its color.
func (p *Printer) Status(s domain.ExecutionStatus) string {
	color := "#a1a1aa"
	switch s {
	case domain.StatusSuccess:
		color = "#22c55e"
	case domain.StatusFailed, domain.StatusError:
		color = "#ef4444"
	case domain.StatusAborted:
		color = "#f97316"
	case domain.StatusPaused:
		color = "#eab308"
	case domain.StatusRunning, domain.StatusStarting:
		color = "#3b82f6"
	}
	return p.profile.String(string(s)).Foreground(p.profile.Color(color)).Bold().String()
}

// PrintChain writes one line per instance of a run.
func (p *Printer) PrintChain(instances []*domain.StateExecutionInstance) {
	for _, inst := range instances {
		indent := ""
		if inst.ParentInstanceID != "" {
			indent = "  └ "
		}
		line := fmt.Sprintf("%s%-20s %-7s %s", indent, inst.StateName, inst.StateType, p.Status(inst.Status))
		if !inst.StartTs.IsZero() && !inst.EndTs.IsZero() {
			line += fmt.Sprintf(" (%s)", inst.EndTs.Sub(inst.StartTs).Round(time.Millisecond))
		}
		if data := inst.ExecutionData(); data != nil && data.ErrorMessage != "" {
			line += " " + p.profile.String(data.ErrorMessage).Faint().String()
		}
		fmt.Fprintln(p.w, line)
	}
}

// Describe renders a markdown summary of sm. Terminals get it styled.
func Describe(sm *domain.StateMachine, styled bool) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", sm.Name)
	fmt.Fprintf(&sb, "Initial state: **%s**\n\n", sm.InitialStateName)

	sb.WriteString("## States\n\n| Name | Type | Config |\n|---|---|---|\n")
	for _, def := range sm.Definitions {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", def.Name, def.Type, configSummary(def.Config))
	}

	sb.WriteString("\n## Transitions\n\n| From | Type | To |\n|---|---|---|\n")
	for _, t := range sm.Transitions {
		fmt.Fprintf(&sb, "| %s | %s | %s |\n", t.From, t.Type, t.To)
	}

	md := sb.String()
	if !styled {
		return md, nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle())
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

func configSummary(cfg map[string]any) string {
	if len(cfg) == 0 {
		return ""
	}
	parts := make([]string, 0, len(cfg))
	for _, key := range []string{"task", "duration", "repeatStrategy", "repeatElementType"} {
		if v, ok := cfg[key]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", key, v))
		}
	}
	return strings.Join(parts, " ")
}
