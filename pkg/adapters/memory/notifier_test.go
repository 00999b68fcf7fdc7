package memory_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/orchestra"
	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/aretw0/orchestra/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryNotifier_Contract(t *testing.T) {
	tests.WaitNotifierContractTest(t, func(t *testing.T) ports.WaitNotifier {
		return memory.NewNotifier()
	})
}

func TestMemoryNotifier_ReleasesClaimedResponses(t *testing.T) {
	ctx := context.Background()
	n := memory.NewNotifier()
	fired := 0
	n.Handle("resume", func(context.Context, domain.Callback, map[string]domain.NotifyResponse) { fired++ })
	cb := domain.Callback{Handler: "resume"}

	require.NoError(t, n.Notify(ctx, "early", domain.NotifyResponse{Status: domain.StatusSuccess}))
	assert.Equal(t, 1, n.Retained(), "a response waits for its wait")

	require.NoError(t, n.WaitForAll(ctx, cb, "early", "late", "late"))
	require.NoError(t, n.WaitForAll(ctx, cb, "late"))
	require.NoError(t, n.Notify(ctx, "late", domain.NotifyResponse{Status: domain.StatusSuccess}))

	assert.Equal(t, 2, fired)
	assert.Zero(t, n.Retained())
}

func TestMemoryNotifier_KeepsSharedResponseUntilLastWait(t *testing.T) {
	ctx := context.Background()
	n := memory.NewNotifier()
	var got []map[string]domain.NotifyResponse
	n.Handle("resume", func(_ context.Context, _ domain.Callback, r map[string]domain.NotifyResponse) { got = append(got, r) })
	cb := domain.Callback{Handler: "resume"}

	require.NoError(t, n.WaitForAll(ctx, cb, "shared"))
	require.NoError(t, n.WaitForAll(ctx, cb, "shared", "other"))
	require.NoError(t, n.Notify(ctx, "shared", domain.NotifyResponse{Status: domain.StatusFailed, ErrorMessage: "boom"}))
	assert.Equal(t, 1, n.Retained())

	require.NoError(t, n.Notify(ctx, "other", domain.NotifyResponse{Status: domain.StatusSuccess}))
	require.Len(t, got, 2)
	assert.Equal(t, "boom", got[1]["shared"].ErrorMessage)
	assert.Zero(t, n.Retained())
}

func TestMemoryNotifier_UnclaimedResponsesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := memory.NewNotifier(memory.WithNotifierResponseTTL(time.Minute))
	n.SetClock(func() time.Time { return now })

	require.NoError(t, n.Notify(ctx, "stray", domain.NotifyResponse{Status: domain.StatusSuccess}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, "fresh", domain.NotifyResponse{Status: domain.StatusSuccess}))

	assert.Equal(t, 1, n.Retained())
}

func TestMemoryNotifier_EmptyAfterForkRuns(t *testing.T) {
	ctx := context.Background()
	n := memory.NewNotifier()
	eng, err := orchestra.New(orchestra.WithNotifier(n))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = eng.Close(ctx)
	})
	eng.RegisterTask("noop", func(context.Context, domain.ExecutionContext, map[string]any) (map[string]any, error) {
		return nil, nil
	})

	sm := &domain.StateMachine{
		ID:               "fanout",
		InitialStateName: "Split",
		Definitions: []domain.StateDefinition{
			{Name: "Split", Type: domain.StateTypeFork},
			{Name: "Left", Type: domain.StateTypeTask, Config: map[string]any{"task": "noop"}},
			{Name: "Right", Type: domain.StateTypeTask, Config: map[string]any{"task": "noop"}},
		},
		Transitions: []domain.Transition{
			{From: "Split", To: "Left", Type: domain.TransitionFork},
			{From: "Split", To: "Right", Type: domain.TransitionFork},
		},
	}
	require.NoError(t, eng.Load(ctx, sm))

	for i := 0; i < 10; i++ {
		result, err := eng.Run(ctx, "fanout", fmt.Sprintf("run-%d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, result.Status)
	}
	assert.Zero(t, n.Retained())
}
