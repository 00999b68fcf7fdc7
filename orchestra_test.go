package orchestra_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/pkg/adapters/redis"
	"github.com/aretw0/orchestra/pkg/domain"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, opts ...orchestra.Option) *orchestra.Engine {
	t.Helper()
	eng, err := orchestra.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Close(ctx)
	})
	return eng
}

func registerRelease(eng *orchestra.Engine, buildErr error) *[]string {
	var mu sync.Mutex
	var published []string
	eng.RegisterTask("build", func(_ context.Context, _ domain.ExecutionContext, args map[string]any) (map[string]any, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return map[string]any{"artifact": "app-" + args["version"].(string) + ".tar.gz"}, nil
	})
	eng.RegisterTask("publish", func(_ context.Context, _ domain.ExecutionContext, args map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		published = append(published, args["artifact"].(string))
		return nil, nil
	})
	eng.RegisterTask("cleanup", func(context.Context, domain.ExecutionContext, map[string]any) (map[string]any, error) {
		return map[string]any{"cleaned": true}, nil
	})
	return &published
}

func pausedAt(t *testing.T, eng *orchestra.Engine, runID, state string) *domain.StateExecutionInstance {
	t.Helper()
	var found *domain.StateExecutionInstance
	require.Eventually(t, func() bool {
		list, err := eng.RunInstances(context.Background(), runID)
		if err != nil {
			return false
		}
		for _, inst := range list {
			if inst.StateName == state && inst.Status == domain.StatusPaused {
				found = inst
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	return found
}

func runAsync(eng *orchestra.Engine, runID string) <-chan orchestra.RunResult {
	out := make(chan orchestra.RunResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		result, _ := eng.Run(ctx, "release", runID, nil)
		out <- result
	}()
	return out
}

func TestEngine_ApprovedRelease(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	published := registerRelease(eng, nil)

	sm, err := eng.LoadFile(ctx, "testdata/release.yaml")
	require.NoError(t, err)
	assert.Equal(t, "Release", sm.Name)

	done := runAsync(eng, "v1")
	hold := pausedAt(t, eng, "v1", "Approve")

	require.NoError(t, eng.HandleEvent(ctx, domain.ExecutionEvent{Type: domain.EventResume, InstanceID: hold.ID}))

	result := <-done
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "Publish", result.StateName)
	assert.Equal(t, []string{"app-v1.tar.gz"}, *published)

	chain, err := eng.RunInstances(ctx, "v1")
	require.NoError(t, err)
	names := make([]string, 0, len(chain))
	for _, inst := range chain {
		names = append(names, inst.StateName)
	}
	assert.Equal(t, []string{"Build", "Approve", "Publish"}, names)
}

func TestEngine_RejectedByNotification(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	published := registerRelease(eng, nil)
	_, err := eng.LoadFile(ctx, "testdata/release.yaml")
	require.NoError(t, err)

	done := runAsync(eng, "v2")
	hold := pausedAt(t, eng, "v2", "Approve")
	approvalID := hold.ExecutionData().Data["approvalId"].(string)

	require.NoError(t, eng.Notify(ctx, approvalID, domain.NotifyResponse{Status: domain.StatusFailed, ErrorMessage: "not today"}))

	result := <-done
	assert.Equal(t, domain.StatusSuccess, result.Status, "the FAILURE edge leads to a successful cleanup")
	assert.Equal(t, "Cleanup", result.StateName)
	assert.Empty(t, *published)
}

func TestEngine_TaskFailureRoutesToCleanup(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	registerRelease(eng, errors.New("compiler exploded"))
	_, err := eng.LoadFile(ctx, "testdata/release.yaml")
	require.NoError(t, err)

	result, err := eng.Run(ctx, "release", "v3", nil)
	require.NoError(t, err)
	assert.Equal(t, "Cleanup", result.StateName)

	chain, err := eng.RunInstances(ctx, "v3")
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	assert.Equal(t, domain.StatusFailed, chain[0].Status)
	assert.Equal(t, "compiler exploded", chain[0].ExecutionData().ErrorMessage)
}

func TestEngine_ExecuteGeneratesRunID(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	registerRelease(eng, nil)
	_, err := eng.LoadFile(ctx, "testdata/release.yaml")
	require.NoError(t, err)

	first, err := eng.Execute(ctx, "release", "", nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, "Build", first.StateName)

	loaded, err := eng.Instance(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RunID, loaded.RunID)
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)

	_, err := eng.Execute(ctx, "missing", "r", nil, nil)
	assert.ErrorIs(t, err, domain.ErrStateMachineNotFound)

	err = eng.Notify(ctx, "", domain.NotifyResponse{Status: domain.StatusSuccess})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = eng.LoadFile(ctx, "testdata/missing.yaml")
	assert.Error(t, err)

	broken := &domain.StateMachine{
		ID:               "broken",
		InitialStateName: "A",
		Definitions:      []domain.StateDefinition{{Name: "A", Type: domain.StateTypeTask, Config: map[string]any{"task": "x"}}},
		Transitions:      []domain.Transition{{From: "A", To: "Nowhere", Type: domain.TransitionSuccess}},
	}
	assert.ErrorIs(t, eng.Load(ctx, broken), domain.ErrDanglingTransition)
}

func TestEngine_RunHonorsContext(t *testing.T) {
	eng := newEngine(t)
	registerRelease(eng, nil)
	_, err := eng.LoadFile(context.Background(), "testdata/release.yaml")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = eng.Run(ctx, "release", "v4", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "the run stays paused at Approve")
}

// A second engine sharing the Redis backends resumes a run it never loaded.
func TestEngine_ResumeAcrossEngines(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	shared := func() []orchestra.Option {
		store := redis.NewFromClient(client)
		return []orchestra.Option{
			orchestra.WithInstanceStore(store),
			orchestra.WithStateMachineStore(store),
			orchestra.WithNotifier(redis.NewNotifier(client)),
			orchestra.WithLocker(redis.NewLocker(client, redis.DefaultPrefix), time.Second),
		}
	}

	results := make(chan orchestra.RunResult, 2)
	collect := func(_ context.Context, r orchestra.RunResult) { results <- r }

	first := newEngine(t, shared()...)
	registerRelease(first, nil)
	first.RegisterCallback("done", collect)
	_, err := first.LoadFile(ctx, "testdata/release.yaml")
	require.NoError(t, err)

	_, err = first.Execute(ctx, "release", "v5", nil, &domain.Callback{Handler: "done"})
	require.NoError(t, err)
	hold := pausedAt(t, first, "v5", "Approve")

	second := newEngine(t, shared()...)
	published := registerRelease(second, nil)
	second.RegisterCallback("done", collect)

	require.NoError(t, second.HandleEvent(ctx, domain.ExecutionEvent{Type: domain.EventResume, RunID: "v5", InstanceID: hold.ID}))

	select {
	case result := <-results:
		assert.Equal(t, domain.StatusSuccess, result.Status)
		assert.Equal(t, "Publish", result.StateName)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, []string{"app-v5.tar.gz"}, *published)
}
