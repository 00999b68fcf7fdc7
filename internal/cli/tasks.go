package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/registry"
)

// RegisterBuiltinTasks adds the tasks available to graphs run from the CLI:
//
//	echo   returns its arguments
//	sleep  waits for args.duration
//	fail   fails with args.message
func RegisterBuiltinTasks(reg *registry.Registry) {
	reg.Register("echo", echoTask)
	reg.Register("sleep", sleepTask)
	reg.Register("fail", failTask)
}

func echoTask(_ context.Context, ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	out["instance"] = ec.Instance().ID
	return out, nil
}

func sleepTask(ctx context.Context, _ domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	raw, _ := args["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("sleep: invalid duration %q", raw)
	}
	select {
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failTask(_ context.Context, _ domain.ExecutionContext, args map[string]any) (map[string]any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		msg = "task failed"
	}
	return nil, errors.New(msg)
}
