package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/orchestra/internal/runtime"
	"github.com/aretw0/orchestra/pkg/adapters/expression"
	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/aretw0/orchestra/pkg/states"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_LinearSuccess(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	a := &scripted{name: "A", typ: domain.StateTypeTask, exec: func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		return &domain.ExecutionResponse{
			Status:             domain.StatusSuccess,
			StateExecutionData: &domain.StateExecutionData{Data: map[string]any{"out": "hello"}},
		}, nil
	}}
	b := &scripted{name: "B", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		v, err := ec.RenderExpression("${A.out} from ${workflow.stateName}")
		if err != nil {
			return nil, err
		}
		rec.add(v)
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}}

	sm := graph("linear", "A", []domain.Transition{
		edge("A", "B", domain.TransitionSuccess),
		edge("B", "C", domain.TransitionSuccess),
	}, a, b, succeed("C"))

	first := h.run(sm, "run-linear")
	assert.Equal(t, "A", first.StateName)
	assert.Equal(t, domain.StatusNew, first.Status)

	result := h.await()
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "C", result.StateName)
	assert.Equal(t, []string{"hello from B"}, rec.list())
	h.expectNoResult(50 * time.Millisecond)

	list := h.instances("run-linear")
	require.Len(t, list, 3)
	for i, name := range []string{"A", "B", "C"} {
		assert.Equal(t, name, list[i].StateName)
		assert.Equal(t, domain.StatusSuccess, list[i].Status)
		assert.False(t, list[i].EndTs.IsZero())
	}
	assert.Equal(t, list[0].ID, list[1].PrevInstanceID)
	assert.Equal(t, list[1].ID, list[2].PrevInstanceID)
	require.Eventually(t, func() bool {
		a, err := h.store.Get(context.Background(), list[0].ID)
		return err == nil && a.NextInstanceID == list[1].ID
	}, time.Second, 5*time.Millisecond)

	// Data of earlier states travels with the run.
	require.Contains(t, list[2].StateExecutionMap, "A")
	assert.Equal(t, "hello", list[2].StateExecutionMap["A"].Data["out"])
}

func TestExecutor_FailureWithoutEdgeEndsRun(t *testing.T) {
	h := newHarness(t)
	sm := graph("fail", "A", []domain.Transition{edge("A", "B", domain.TransitionSuccess)}, fail("A", "boom"), succeed("B"))

	h.run(sm, "run-fail")
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, "A", result.StateName)
	assert.Equal(t, "boom", result.ErrorMessage)
	h.expectNoResult(50 * time.Millisecond)

	list := h.instances("run-fail")
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusFailed, list[0].Status)
	assert.Equal(t, "boom", list[0].ExecutionData().ErrorMessage)
}

func TestExecutor_FailedBranchSignalsParentOnce(t *testing.T) {
	h := newHarness(t)
	sm := graph("fork-fail", "F", []domain.Transition{
		edge("F", "X", domain.TransitionFork),
		edge("F", "Y", domain.TransitionFork),
		edge("X", "After", domain.TransitionSuccess),
	}, states.NewForkState("F"), fail("X", "x broke"), succeed("Y"), succeed("After"))

	h.run(sm, "run-fork-fail")
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	h.expectNoResult(50 * time.Millisecond)

	list := h.instances("run-fork-fail")
	assert.Empty(t, byState(list, "After"))
	for _, name := range []string{"X", "Y"} {
		branch := byState(list, name)
		require.Len(t, branch, 1)
		require.NotEmpty(t, branch[0].NotifyID)
		assert.Equal(t, 1, h.sent.count(branch[0].NotifyID), "branch %s", name)
	}
}

func TestExecutor_FailureEdge(t *testing.T) {
	h := newHarness(t)
	sm := graph("failure-edge", "A", []domain.Transition{
		edge("A", "B", domain.TransitionSuccess),
		edge("A", "Cleanup", domain.TransitionFailure),
	}, fail("A", "boom"), succeed("B"), succeed("Cleanup"))

	h.run(sm, "run-failure-edge")
	result := h.await()
	assert.Equal(t, "Cleanup", result.StateName)
	assert.Equal(t, domain.StatusSuccess, result.Status)

	list := h.instances("run-failure-edge")
	require.Len(t, list, 2)
	assert.Equal(t, domain.StatusFailed, list[0].Status)
	assert.Empty(t, byState(list, "B"))
}

func TestExecutor_PanicBecomesFailure(t *testing.T) {
	h := newHarness(t)
	boom := &scripted{name: "A", typ: domain.StateTypeTask, exec: func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		panic("kaboom")
	}}
	sm := graph("panic", "A", nil, boom)

	h.run(sm, "run-panic")
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "kaboom")
}

func TestExecutor_ErrorReturnBecomesFailure(t *testing.T) {
	h := newHarness(t)
	broken := &scripted{name: "A", typ: domain.StateTypeTask, exec: func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		return nil, errors.New("disk full")
	}}
	h.run(graph("err", "A", nil, broken), "run-err")

	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "disk full")
}

func TestExecutor_NonFinalSyncStatusFails(t *testing.T) {
	h := newHarness(t)
	odd := &scripted{name: "A", typ: domain.StateTypeTask, exec: respond(domain.StatusRunning, "")}
	h.run(graph("nonfinal", "A", nil, odd), "run-nonfinal")

	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "non-final")
}

func TestExecutor_RejectsPersistedInstance(t *testing.T) {
	h := newHarness(t)
	sm := graph("once", "A", nil, succeed("A"))

	inst := &domain.StateExecutionInstance{ID: "already-there", RunID: "run-once", StateName: "A"}
	_, err := h.exec.ExecuteInstance(context.Background(), sm, inst)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, h.instances("run-once"))

	_, err = h.exec.Execute(context.Background(), sm, "", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.exec.Execute(context.Background(), nil, "run-nil", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.exec.ExecuteInstance(context.Background(), sm, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, h.instances("run-nil"))
}

func TestExecutor_ClockStampsInstances(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := newHarness(t, runtime.WithClock(func() time.Time { return fixed }))
	sm := graph("clock", "A", []domain.Transition{edge("A", "B", domain.TransitionSuccess)}, succeed("A"), succeed("B"))

	h.run(sm, "run-clock")
	h.await()

	for _, inst := range h.instances("run-clock") {
		assert.True(t, inst.CreatedAt.Equal(fixed), "%s created %s", inst.StateName, inst.CreatedAt)
		assert.True(t, inst.StartTs.Equal(fixed), "%s started %s", inst.StateName, inst.StartTs)
		assert.True(t, inst.EndTs.Equal(fixed), "%s ended %s", inst.StateName, inst.EndTs)
	}
}

func TestExecutor_InvalidGraphIsRejected(t *testing.T) {
	h := newHarness(t)
	sm := graph("invalid", "A", []domain.Transition{edge("A", "Missing", domain.TransitionSuccess)}, succeed("A"))

	_, err := h.exec.Execute(context.Background(), sm, "run-invalid", nil, nil)
	assert.ErrorIs(t, err, domain.ErrDanglingTransition)
	assert.Empty(t, h.instances("run-invalid"))
}

func TestExecutor_ForkWaitsForEveryBranch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sm := graph("fork", "F", []domain.Transition{
		edge("F", "X", domain.TransitionFork),
		edge("F", "Y", domain.TransitionFork),
		edge("F", "Z", domain.TransitionFork),
	}, states.NewForkState("F"), awaitBranch("X"), awaitBranch("Y"), awaitBranch("Z"))

	h.run(sm, "run-fork")
	fork := h.instanceIn("run-fork", "F", domain.StatusRunning)
	for _, name := range []string{"X", "Y", "Z"} {
		branch := h.instanceIn("run-fork", name, domain.StatusRunning)
		assert.Equal(t, fork.ID, branch.ParentInstanceID)
		assert.NotEmpty(t, branch.NotifyID)
		assert.Nil(t, branch.Callback, "branches never invoke the run callback")
	}

	require.NoError(t, h.notifier.Notify(ctx, "branch-X", domain.NotifyResponse{Status: domain.StatusSuccess}))
	require.NoError(t, h.notifier.Notify(ctx, "branch-Z", domain.NotifyResponse{Status: domain.StatusFailed, ErrorMessage: "z broke"}))
	h.instanceIn("run-fork", "Z", domain.StatusFailed)
	h.expectNoResult(100 * time.Millisecond)

	require.NoError(t, h.notifier.Notify(ctx, "branch-Y", domain.NotifyResponse{Status: domain.StatusSuccess}))
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, "F", result.StateName)
	assert.Contains(t, result.ErrorMessage, "z broke")
	h.expectNoResult(50 * time.Millisecond)

	list := h.instances("run-fork")
	require.Len(t, list, 4)
	for _, inst := range list {
		assert.True(t, inst.Status.IsFinal(), "%s is %s", inst.StateName, inst.Status)
	}
}

func TestExecutor_ForkSuccessContinues(t *testing.T) {
	h := newHarness(t)
	sm := graph("fork-ok", "F", []domain.Transition{
		edge("F", "X", domain.TransitionFork),
		edge("F", "Y", domain.TransitionFork),
		edge("F", "Done", domain.TransitionSuccess),
	}, states.NewForkState("F"), succeed("X"), succeed("Y"), succeed("Done"))

	h.run(sm, "run-fork-ok")
	result := h.await()
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "Done", result.StateName)
	assert.Len(t, h.instances("run-fork-ok"), 4)
}

func TestExecutor_SerialRepeat(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}

	body := &scripted{name: "Body", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		v, err := ec.RenderExpression("${standard.name}")
		if err != nil {
			return nil, err
		}
		rec.add(v)
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}}
	repeat := states.NewRepeatState("R", states.RepeatConfig{
		RepeatStrategy: states.RepeatSerial,
		RepeatElements: []domain.ContextElement{{Name: "a"}, {Name: "b"}, {Name: "c"}},
	})
	sm := graph("serial", "R", []domain.Transition{edge("R", "Body", domain.TransitionRepeat)}, repeat, body)

	h.run(sm, "run-serial")
	result := h.await()
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Equal(t, "R", result.StateName)
	assert.Equal(t, []string{"a", "b", "c"}, rec.list())

	bodies := byState(h.instances("run-serial"), "Body")
	require.Len(t, bodies, 3)
	for i, inst := range bodies {
		require.NotNil(t, inst.ContextElement)
		assert.Equal(t, []string{"a", "b", "c"}[i], inst.ContextElement.Name)
		assert.Equal(t, domain.ElementStandard, inst.ContextElement.Type)
	}
}

func TestExecutor_ParallelRepeatFailure(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	seen := map[string]bool{}

	body := &scripted{name: "Body", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		el, ok := ec.ContextElement(domain.ElementHost)
		if !ok {
			return nil, errors.New("no host element")
		}
		mu.Lock()
		seen[el.Name] = true
		mu.Unlock()
		if el.Name == "b" {
			return &domain.ExecutionResponse{Status: domain.StatusFailed, ErrorMessage: "host b unreachable"}, nil
		}
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}}
	repeat := states.NewRepeatState("R", states.RepeatConfig{
		RepeatElementType: domain.ElementHost,
		RepeatElements:    []domain.ContextElement{{Name: "a"}, {Name: "b"}, {Name: "c"}},
	})
	sm := graph("parallel", "R", []domain.Transition{edge("R", "Body", domain.TransitionRepeat)}, repeat, body)

	h.run(sm, "run-parallel")
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "host b unreachable")

	mu.Lock()
	assert.Len(t, seen, 3, "every element runs before the join")
	mu.Unlock()
	bodies := byState(h.instances("run-parallel"), "Body")
	require.Len(t, bodies, 3)
	for _, inst := range bodies {
		assert.True(t, inst.Status.IsFinal())
	}
}

func TestExecutor_RepeatWithoutElementsFails(t *testing.T) {
	h := newHarness(t)
	repeat := states.NewRepeatState("R", states.RepeatConfig{RepeatElementExpression: "${workflow.missing}"})
	sm := graph("empty-repeat", "R", []domain.Transition{edge("R", "Body", domain.TransitionRepeat)}, repeat, succeed("Body"))

	h.run(sm, "run-empty-repeat")
	result := h.await()
	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Contains(t, result.ErrorMessage, "no elements")
	assert.Empty(t, byState(h.instances("run-empty-repeat"), "Body"))
}

// saveFailingStore refuses to persist instances of one state.
type saveFailingStore struct {
	ports.InstanceStore
	state string
}

func (s *saveFailingStore) Save(ctx context.Context, inst *domain.StateExecutionInstance) (*domain.StateExecutionInstance, error) {
	if inst.StateName == s.state {
		return nil, fmt.Errorf("store unavailable for %s", s.state)
	}
	return s.InstanceStore.Save(ctx, inst)
}

func TestExecutor_DoubleFaultEndsWithError(t *testing.T) {
	h := newHarnessWithStore(t, &saveFailingStore{InstanceStore: memory.NewStore(), state: "Cleanup"})
	sm := graph("double-fault", "A", []domain.Transition{
		edge("A", "Cleanup", domain.TransitionFailure),
	}, fail("A", "boom"), succeed("Cleanup"))

	h.run(sm, "run-double-fault")
	result := h.await()
	assert.Equal(t, domain.StatusError, result.Status)
	assert.Equal(t, "A", result.StateName)
	assert.Contains(t, result.ErrorMessage, "store unavailable")
	h.expectNoResult(100 * time.Millisecond)

	list := h.instances("run-double-fault")
	require.Len(t, list, 1)
	assert.Equal(t, domain.StatusError, list[0].Status)
}

func TestExecutor_AsyncWithoutCorrelationIsError(t *testing.T) {
	h := newHarness(t)
	bad := &scripted{name: "A", typ: domain.StateTypeTask, exec: func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		return &domain.ExecutionResponse{Async: true, Status: domain.StatusRunning}, nil
	}}
	sm := graph("async-bad", "A", []domain.Transition{edge("A", "Cleanup", domain.TransitionFailure)}, bad, succeed("Cleanup"))

	h.run(sm, "run-async-bad")
	result := h.await()
	assert.Equal(t, domain.StatusError, result.Status)
	assert.Equal(t, "A", result.StateName)
	assert.Empty(t, byState(h.instances("run-async-bad"), "Cleanup"), "ERROR skips failure routing")
}

func TestExecutor_UnresolvedTokenIsScopedToState(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{}
	deploy := &scripted{name: "Deploy", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		v, err := ec.RenderExpression("${unknownToken}")
		if err != nil {
			return nil, err
		}
		rec.add(v)
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}}

	h.run(graph("normalize", "Deploy", nil, deploy), "run-normalize")
	assert.Equal(t, domain.StatusSuccess, h.await().Status)
	assert.Equal(t, []string{"${Deploy.unknownToken}"}, rec.list())
}

func TestExecutor_SeedElementsAndNotifyElements(t *testing.T) {
	h := newHarness(t)
	a := &scripted{name: "A", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		host, ok := ec.ContextElement(domain.ElementHost)
		if !ok {
			return nil, errors.New("missing host")
		}
		ec.PushContextElement(domain.ContextElement{Type: domain.ElementService, Name: "api"})
		return &domain.ExecutionResponse{
			Status:         domain.StatusSuccess,
			NotifyElements: []domain.ContextElement{{Type: domain.ElementParam, Name: "built-on-" + host.Name}},
		}, nil
	}}
	b := &scripted{name: "B", typ: domain.StateTypeTask, exec: func(_ context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		if _, ok := ec.ContextElement(domain.ElementService); !ok {
			return nil, errors.New("pushed element lost")
		}
		return &domain.ExecutionResponse{Status: domain.StatusSuccess}, nil
	}}
	sm := graph("elements", "A", []domain.Transition{edge("A", "B", domain.TransitionSuccess)}, a, b)

	_, err := h.exec.Execute(context.Background(), sm, "run-elements",
		[]domain.ContextElement{{Type: domain.ElementHost, Name: "h1"}}, &domain.Callback{Handler: "done"})
	require.NoError(t, err)

	result := h.await()
	assert.Equal(t, domain.StatusSuccess, result.Status)
	require.Len(t, result.Elements, 1)
	assert.Equal(t, "built-on-h1", result.Elements[0].Name)
}

func TestExecutor_UnknownCallbackStillEndsRun(t *testing.T) {
	ends := make(chan *domain.RunEvent, 1)
	h := newHarness(t, runtime.WithLifecycleHooks(domain.LifecycleHooks{
		OnRunEnd: func(_ context.Context, ev *domain.RunEvent) { ends <- ev },
	}))
	sm := graph("no-callback", "A", nil, succeed("A"))

	_, err := h.exec.Execute(context.Background(), sm, "run-no-callback", nil, &domain.Callback{Handler: "nobody"})
	require.NoError(t, err)

	select {
	case ev := <-ends:
		assert.Equal(t, domain.StatusSuccess, ev.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not end")
	}
}

func TestExecutor_ResumeIgnoresFinishedInstance(t *testing.T) {
	h := newHarness(t)
	sm := graph("resume-final", "A", nil, succeed("A"))
	first := h.run(sm, "run-resume-final")
	require.Equal(t, domain.StatusSuccess, h.await().Status)

	err := h.exec.Resume(context.Background(), "run-resume-final", first.ID, map[string]domain.NotifyResponse{
		"late": {Status: domain.StatusFailed},
	})
	require.NoError(t, err)
	h.expectNoResult(50 * time.Millisecond)

	inst, err := h.store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, inst.Status)

	err = h.exec.Resume(context.Background(), "other-run", first.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestExecutor_ReloadsGraphFromStore(t *testing.T) {
	machines := memory.NewStore()
	factory := states.NewFactory()
	h := newHarness(t, runtime.WithStateMachineStore(machines, factory))

	sm := &domain.StateMachine{
		ID:               "persisted",
		InitialStateName: "Hold",
		Definitions:      []domain.StateDefinition{{Name: "Hold", Type: domain.StateTypePause}},
	}
	require.NoError(t, factory.Load(sm))
	first := h.run(sm, "run-persisted")
	h.instanceIn("run-persisted", "Hold", domain.StatusPaused)

	stored, err := machines.GetStateMachine(context.Background(), "persisted")
	require.NoError(t, err)
	assert.Equal(t, "Hold", stored.InitialStateName)

	// A second executor over the same stores has never seen the graph.
	other := runtime.NewExecutor(h.store, h.notifier, h.pool, expression.NewEvaluator(), runtime.WithStateMachineStore(machines, factory))
	other.Callbacks().Register("done", func(_ context.Context, r runtime.RunResult) { h.results <- r })
	require.NoError(t, other.HandleEvent(context.Background(), domain.ExecutionEvent{Type: domain.EventResume, InstanceID: first.ID}))

	result := h.await()
	assert.Equal(t, domain.StatusSuccess, result.Status)
}
