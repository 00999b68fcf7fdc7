package observability_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	hooks := m.Hooks()
	ctx := context.Background()

	hooks.OnInstanceStart(ctx, &domain.InstanceEvent{StateName: "A", StateType: domain.StateTypeTask})
	hooks.OnInstanceStart(ctx, &domain.InstanceEvent{StateName: "A", StateType: domain.StateTypeTask})
	hooks.OnInstanceEnd(ctx, &domain.InstanceEvent{StateName: "A", Status: domain.StatusFailed, Duration: 250 * time.Millisecond})
	hooks.OnTransition(ctx, &domain.TransitionEvent{From: "A", To: "Cleanup", Type: domain.TransitionFailure})
	hooks.OnRunEnd(ctx, &domain.RunEvent{Status: domain.StatusSuccess})
	hooks.OnRunEnd(ctx, &domain.RunEvent{Status: domain.StatusSuccess, Branch: true})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.InstancesStarted.WithLabelValues("A", "TASK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesFinished.WithLabelValues("A", "FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("A", "Cleanup", "FAILURE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("SUCCESS", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("SUCCESS", "true")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.InstanceDuration))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestMetrics_Unregistered(t *testing.T) {
	m := observability.NewMetrics(nil)
	m.Hooks().OnRunEnd(context.Background(), &domain.RunEvent{Status: domain.StatusError})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFinished.WithLabelValues("ERROR", "false")))
}

func TestLogHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	hooks := observability.LogHooks(logger).Merge(observability.NewMetrics(nil).Hooks())

	hooks.OnRunEnd(context.Background(), &domain.RunEvent{RunID: "r1", Status: domain.StatusAborted})
	assert.Contains(t, buf.String(), "run_end")
	assert.Contains(t, buf.String(), "run_id=r1")
	assert.Contains(t, buf.String(), "status=ABORTED")
}
