package runtime_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/orchestra/internal/runtime"
	"github.com/aretw0/orchestra/pkg/adapters/expression"
	"github.com/aretw0/orchestra/pkg/adapters/memory"
	"github.com/aretw0/orchestra/pkg/domain"
	"github.com/aretw0/orchestra/pkg/ports"
	"github.com/aretw0/orchestra/pkg/worker"
	"github.com/stretchr/testify/require"
)

// scripted is a state whose behavior is supplied by the test.
type scripted struct {
	name  string
	typ   domain.StateType
	exec  func(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error)
	async func(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error)
}

func (s *scripted) Name() string           { return s.name }
func (s *scripted) Type() domain.StateType { return s.typ }

func (s *scripted) Execute(ctx context.Context, ec domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	return s.exec(ctx, ec)
}

func (s *scripted) HandleAsyncResponse(ctx context.Context, ec domain.ExecutionContext, responses map[string]domain.NotifyResponse) (*domain.ExecutionResponse, error) {
	if s.async != nil {
		return s.async(ctx, ec, responses)
	}
	status, msgs := domain.AggregateStatus(responses)
	resp := &domain.ExecutionResponse{Status: status}
	if len(msgs) > 0 {
		resp.ErrorMessage = msgs[0]
	}
	return resp, nil
}

func respond(status domain.ExecutionStatus, msg string) func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
	return func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		return &domain.ExecutionResponse{Status: status, ErrorMessage: msg}, nil
	}
}

func succeed(name string) *scripted {
	return &scripted{name: name, typ: domain.StateTypeTask, exec: respond(domain.StatusSuccess, "")}
}

func fail(name, msg string) *scripted {
	return &scripted{name: name, typ: domain.StateTypeTask, exec: respond(domain.StatusFailed, msg)}
}

// awaitBranch waits on the correlation id "branch-<state>", which the test notifies.
func awaitBranch(name string) *scripted {
	return &scripted{name: name, typ: domain.StateTypeTask, exec: func(context.Context, domain.ExecutionContext) (*domain.ExecutionResponse, error) {
		return &domain.ExecutionResponse{Async: true, Status: domain.StatusRunning, CorrelationIDs: []string{"branch-" + name}}, nil
	}}
}

func graph(id, initial string, transitions []domain.Transition, states ...domain.State) *domain.StateMachine {
	sm := &domain.StateMachine{ID: id, Name: id, InitialStateName: initial, Transitions: transitions}
	sm.Load(states...)
	return sm
}

func edge(from, to string, t domain.TransitionType) domain.Transition {
	return domain.Transition{From: from, To: to, Type: t}
}

// countingNotifier counts the notifications the executor sends per correlation id.
type countingNotifier struct {
	ports.WaitNotifier
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingNotifier) Notify(ctx context.Context, correlationID string, resp domain.NotifyResponse) error {
	c.mu.Lock()
	c.counts[correlationID]++
	c.mu.Unlock()
	return c.WaitNotifier.Notify(ctx, correlationID, resp)
}

func (c *countingNotifier) count(correlationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[correlationID]
}

type harness struct {
	t        *testing.T
	store    ports.InstanceStore
	notifier *memory.Notifier
	sent     *countingNotifier
	pool     *worker.Pool
	exec     *runtime.Executor
	results  chan runtime.RunResult
}

func newHarness(t *testing.T, opts ...runtime.Option) *harness {
	return newHarnessWithStore(t, memory.NewStore(), opts...)
}

func newHarnessWithStore(t *testing.T, store ports.InstanceStore, opts ...runtime.Option) *harness {
	t.Helper()
	notifier := memory.NewNotifier()
	sent := &countingNotifier{WaitNotifier: notifier, counts: make(map[string]int)}
	pool := worker.NewPool(worker.WithPoolConcurrency(4))
	exec := runtime.NewExecutor(store, sent, pool, expression.NewEvaluator(), opts...)

	h := &harness{
		t:        t,
		store:    store,
		notifier: notifier,
		sent:     sent,
		pool:     pool,
		exec:     exec,
		results:  make(chan runtime.RunResult, 16),
	}
	exec.Callbacks().Register("done", func(_ context.Context, r runtime.RunResult) {
		h.results <- r
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return h
}

func (h *harness) run(sm *domain.StateMachine, runID string) *domain.StateExecutionInstance {
	h.t.Helper()
	inst, err := h.exec.Execute(context.Background(), sm, runID, nil, &domain.Callback{Handler: "done"})
	require.NoError(h.t, err)
	return inst
}

func (h *harness) await() runtime.RunResult {
	h.t.Helper()
	select {
	case r := <-h.results:
		return r
	case <-time.After(3 * time.Second):
		h.t.Fatal("run did not end")
	}
	return runtime.RunResult{}
}

func (h *harness) expectNoResult(d time.Duration) {
	h.t.Helper()
	select {
	case r := <-h.results:
		h.t.Fatalf("unexpected run end: %+v", r)
	case <-time.After(d):
	}
}

func (h *harness) instances(runID string) []*domain.StateExecutionInstance {
	h.t.Helper()
	list, err := h.store.ListByRun(context.Background(), runID)
	require.NoError(h.t, err)
	return list
}

func (h *harness) instanceIn(runID, state string, status domain.ExecutionStatus) *domain.StateExecutionInstance {
	h.t.Helper()
	var found *domain.StateExecutionInstance
	require.Eventually(h.t, func() bool {
		for _, inst := range h.instances(runID) {
			if inst.StateName == state && inst.Status == status {
				found = inst
				return true
			}
		}
		return false
	}, 3*time.Second, 5*time.Millisecond, "no %s instance of %s", status, state)
	return found
}

func byState(list []*domain.StateExecutionInstance, state string) []*domain.StateExecutionInstance {
	var out []*domain.StateExecutionInstance
	for _, inst := range list {
		if inst.StateName == state {
			out = append(out, inst)
		}
	}
	return out
}

// recorder collects values from concurrently running states.
type recorder struct {
	mu     sync.Mutex
	values []string
}

func (r *recorder) add(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.values...)
}
