package ports

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunInstanceStoreContract runs a suite of tests to verify that an InstanceStore
// implementation adheres to the defined interface contract.
func RunInstanceStoreContract(t *testing.T, store InstanceStore) {
	ctx := context.Background()
	runID := "contract-run-" + time.Now().Format("20060102150405.000000000")

	newInstance := func(state string) *domain.StateExecutionInstance {
		return &domain.StateExecutionInstance{
			RunID:     runID,
			StateName: state,
			StateType: domain.StateTypeTask,
			Status:    domain.StatusNew,
			CreatedAt: time.Now(),
			StateExecutionMap: map[string]*domain.StateExecutionData{
				state: {StateName: state, Status: domain.StatusNew, Data: map[string]any{"foo": "bar"}},
			},
			ContextElements: []domain.ContextElement{{Type: domain.ElementHost, Name: "h1"}},
			Callback:        &domain.Callback{Handler: "done", Params: map[string]string{"k": "v"}},
		}
	}

	t.Run("Save and Get", func(t *testing.T) {
		saved, err := store.Save(ctx, newInstance("A"))
		require.NoError(t, err, "Save should not return error")
		require.NotEmpty(t, saved.ID, "Save should assign an ID")

		loaded, err := store.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, loaded.ID)
		assert.Equal(t, runID, loaded.RunID)
		assert.Equal(t, "A", loaded.StateName)
		assert.Equal(t, domain.StatusNew, loaded.Status)
		require.NotNil(t, loaded.ExecutionData())
		assert.Equal(t, "bar", loaded.ExecutionData().Data["foo"])
		require.Len(t, loaded.ContextElements, 1)
		assert.Equal(t, "h1", loaded.ContextElements[0].Name)
		require.NotNil(t, loaded.Callback)
		assert.Equal(t, "v", loaded.Callback.Params["k"])
	})

	t.Run("Save Rejects Persisted Instance", func(t *testing.T) {
		saved, err := store.Save(ctx, newInstance("A"))
		require.NoError(t, err)

		_, err = store.Save(ctx, saved)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+runID)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("Returned Copies Are Isolated", func(t *testing.T) {
		saved, err := store.Save(ctx, newInstance("A"))
		require.NoError(t, err)

		saved.StateName = "mutated"
		loaded, err := store.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, "A", loaded.StateName)
	})

	t.Run("Conditional Update", func(t *testing.T) {
		saved, err := store.Save(ctx, newInstance("A"))
		require.NoError(t, err)

		saved.Status = domain.StatusRunning
		require.NoError(t, store.Update(ctx, saved, domain.StatusNew))

		saved.Status = domain.StatusSuccess
		err = store.Update(ctx, saved, domain.StatusNew)
		assert.ErrorIs(t, err, domain.ErrStaleInstance)

		loaded, err := store.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusRunning, loaded.Status, "a rejected update leaves the record untouched")

		require.NoError(t, store.Update(ctx, saved))
		loaded, err = store.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusSuccess, loaded.Status)
	})

	t.Run("Update Non-Existent", func(t *testing.T) {
		inst := newInstance("A")
		inst.ID = "missing-" + runID
		err := store.Update(ctx, inst)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	})

	t.Run("Concurrent Conditional Update", func(t *testing.T) {
		saved, err := store.Save(ctx, newInstance("A"))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				inst := saved.Copy()
				inst.Status = domain.StatusRunning
				if err := store.Update(ctx, inst, domain.StatusNew); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load(), "exactly one writer may move the instance out of NEW")
	})

	t.Run("List By Run", func(t *testing.T) {
		listRun := runID + "-list"
		var ids []string
		for _, state := range []string{"A", "B", "C"} {
			inst := newInstance(state)
			inst.RunID = listRun
			saved, err := store.Save(ctx, inst)
			require.NoError(t, err)
			ids = append(ids, saved.ID)
			time.Sleep(2 * time.Millisecond)
		}

		list, err := store.ListByRun(ctx, listRun)
		require.NoError(t, err)
		require.Len(t, list, 3)
		for i, inst := range list {
			assert.Equal(t, ids[i], inst.ID)
		}

		empty, err := store.ListByRun(ctx, "no-such-run")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

// RunStateMachineStoreContract verifies a StateMachineStore implementation.
func RunStateMachineStoreContract(t *testing.T, store StateMachineStore) {
	ctx := context.Background()

	t.Run("Save and Get", func(t *testing.T) {
		sm := &domain.StateMachine{
			ID:               "contract-sm",
			Name:             "Contract",
			InitialStateName: "A",
			Definitions: []domain.StateDefinition{
				{Name: "A", Type: domain.StateTypeTask, Config: map[string]any{"task": "echo"}},
				{Name: "B", Type: domain.StateTypeWait, Config: map[string]any{"duration": "1s"}},
			},
			Transitions: []domain.Transition{{From: "A", To: "B", Type: domain.TransitionSuccess}},
		}
		require.NoError(t, store.SaveStateMachine(ctx, sm))

		loaded, err := store.GetStateMachine(ctx, "contract-sm")
		require.NoError(t, err)
		assert.Equal(t, "Contract", loaded.Name)
		assert.Equal(t, "A", loaded.InitialStateName)
		require.Len(t, loaded.Definitions, 2)
		assert.Equal(t, "echo", loaded.Definitions[0].Config["task"])
		assert.Equal(t, sm.Transitions, loaded.Transitions)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		sm := &domain.StateMachine{ID: "contract-sm-2", Name: "v1", InitialStateName: "A"}
		require.NoError(t, store.SaveStateMachine(ctx, sm))
		sm.Name = "v2"
		require.NoError(t, store.SaveStateMachine(ctx, sm))

		loaded, err := store.GetStateMachine(ctx, "contract-sm-2")
		require.NoError(t, err)
		assert.Equal(t, "v2", loaded.Name)
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.GetStateMachine(ctx, "non-existent-sm")
		assert.ErrorIs(t, err, domain.ErrStateMachineNotFound)
	})
}
