package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	cb        domain.Callback
	responses map[string]domain.NotifyResponse
}

type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (r *recorder) handle(_ context.Context, cb domain.Callback, responses map[string]domain.NotifyResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{cb: cb, responses: responses})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

func (r *recorder) last() delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[len(r.deliveries)-1]
}

// WaitNotifierContractTest is a reusable test suite that verifies if an adapter
// complies with ports.WaitNotifier. newNotifier must return a fresh, isolated notifier.
func WaitNotifierContractTest(t *testing.T, newNotifier func(t *testing.T) ports.WaitNotifier) {
	t.Helper()
	ctx := context.Background()

	setup := func(t *testing.T) (ports.WaitNotifier, *recorder) {
		n := newNotifier(t)
		rec := &recorder{}
		n.Handle("resume", rec.handle)
		return n, rec
	}

	cb := domain.Callback{Handler: "resume", Params: map[string]string{"instance_id": "i-1"}}

	t.Run("WaitThenNotify", func(t *testing.T) {
		n, rec := setup(t)
		require.NoError(t, n.WaitForAll(ctx, cb, "x", "y"))

		require.NoError(t, n.Notify(ctx, "x", domain.NotifyResponse{Status: domain.StatusSuccess}))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, rec.count(), "must not fire before every id responded")

		require.NoError(t, n.Notify(ctx, "y", domain.NotifyResponse{Status: domain.StatusFailed, ErrorMessage: "y broke"}))
		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

		got := rec.last()
		assert.Equal(t, "i-1", got.cb.Params["instance_id"])
		require.Len(t, got.responses, 2)
		assert.Equal(t, domain.StatusSuccess, got.responses["x"].Status)
		assert.Equal(t, "y broke", got.responses["y"].ErrorMessage)
	})

	t.Run("NotifyBeforeWait", func(t *testing.T) {
		n, rec := setup(t)
		require.NoError(t, n.Notify(ctx, "early", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.NoError(t, n.WaitForAll(ctx, cb, "early"))

		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, domain.StatusSuccess, rec.last().responses["early"].Status)
	})

	t.Run("MixedOrder", func(t *testing.T) {
		n, rec := setup(t)
		require.NoError(t, n.Notify(ctx, "a", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.NoError(t, n.WaitForAll(ctx, cb, "a", "b"))
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 0, rec.count())

		require.NoError(t, n.Notify(ctx, "b", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.Len(t, rec.last().responses, 2)
	})

	t.Run("FiresOnce", func(t *testing.T) {
		n, rec := setup(t)
		require.NoError(t, n.WaitForAll(ctx, cb, "once"))
		require.NoError(t, n.Notify(ctx, "once", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.NoError(t, n.Notify(ctx, "once", domain.NotifyResponse{Status: domain.StatusSuccess}))

		require.Eventually(t, func() bool { return rec.count() >= 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, 1, rec.count())
	})

	t.Run("SharedCorrelation", func(t *testing.T) {
		n, rec := setup(t)
		require.NoError(t, n.WaitForAll(ctx, cb, "shared"))
		require.NoError(t, n.WaitForAll(ctx, cb, "shared", "other"))

		require.NoError(t, n.Notify(ctx, "shared", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, n.Notify(ctx, "other", domain.NotifyResponse{Status: domain.StatusSuccess}))
		require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("EmptyWait", func(t *testing.T) {
		n, _ := setup(t)
		assert.ErrorIs(t, n.WaitForAll(ctx, cb), domain.ErrInvalidRequest)
	})
}
