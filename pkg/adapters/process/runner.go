// Package process runs allow-listed local commands as orchestra tasks.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/registry"
)

// EnvPrefix prefixes the environment variables carrying task arguments.
const EnvPrefix = "ORCHESTRA_ARG_"

// Runner executes registered commands. Only names in its allow-list run;
// task arguments reach the process as environment variables, never as flags.
type Runner struct {
	commands map[string]CommandConfig
	baseDir  string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithCommands populates the allow-list from a loaded config.
func WithCommands(commands map[string]CommandConfig) RunnerOption {
	return func(r *Runner) {
		for name, c := range commands {
			c.Name = name
			r.commands[name] = c
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{commands: make(map[string]CommandConfig)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name, command string, args ...string) {
	r.commands[name] = CommandConfig{Name: name, Command: command, Args: args}
}

// Names returns the allow-listed command names, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterTasks registers every allow-listed command as a task of the same name.
func (r *Runner) RegisterTasks(reg *registry.Registry) {
	for _, name := range r.Names() {
		reg.Register(name, r.Task(name))
	}
}

// Task returns a task running the named command.
func (r *Runner) Task(name string) registry.TaskFunc {
	return func(ctx context.Context, ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
		return r.Execute(ctx, name, ec, args)
	}
}

// Execute runs the named command. A JSON object on stdout becomes the task's
// outputs; any other output is returned trimmed under "stdout".
func (r *Runner) Execute(ctx context.Context, name string, ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	c, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("process not registered: %s", name)
	}

	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), environment(c, ec, args)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := strings.TrimSpace(stdout.String())
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			return out, nil
		}
	}
	return map[string]any{"stdout": trimmed}, nil
}

func environment(c CommandConfig, ec domain.ExecutionContext, args map[string]any) []string {
	env := make([]string, 0, len(c.Environment)+len(args)+3)
	for k, v := range c.Environment {
		env = append(env, k+"="+v)
	}
	if ec != nil {
		env = append(env,
			"ORCHESTRA_RUN_ID="+ec.RunID(),
			"ORCHESTRA_STATE="+ec.StateName(),
		)
		if inst := ec.Instance(); inst != nil {
			env = append(env, "ORCHESTRA_INSTANCE_ID="+inst.ID)
		}
	}
	for k, v := range args {
		env = append(env, EnvPrefix+strings.ToUpper(k)+"="+envValue(v))
	}
	return env
}

// envValue formats primitives directly and structured values as JSON.
func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprintf("%v", v)
}
