/*
Package orchestra is a persistable state-machine workflow engine.

A workflow is a graph of named states joined by typed transitions (SUCCESS,
FAILURE, ABORT, REPEAT, FORK, CONDITIONAL). Each step of a run is recorded as
an execution instance, so a run can be paused, resumed, retried or picked up
by another process sharing the same stores.

# States

  - TASK runs a registered Go function synchronously.
  - WAIT parks the instance until a delay elapses or a correlation id is notified.
  - PAUSE holds the run until a RESUME event or an approval notification.
  - FORK starts every FORK target in parallel and joins on their outcomes.
  - REPEAT runs its REPEAT target once per context element, serially or in parallel.

# Usage

	eng, err := orchestra.New()
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	eng.RegisterTask("build", func(ctx context.Context, ec domain.ExecutionContext, args map[string]any) (map[string]any, error) {
		return map[string]any{"artifact": "app.tar.gz"}, nil
	})

	if _, err := eng.LoadFile(ctx, "release.yaml"); err != nil {
		log.Fatal(err)
	}
	result, err := eng.Run(ctx, "release", "", nil)

Strings in task arguments are expressions: ${Build.artifact} reads the data
recorded by the Build state, ${workflow.runId} the run id and ${host.name} the
innermost HOST element.

# Backends

Everything defaults to memory. Durable deployments pass the Redis or diskv
adapters from pkg/adapters through WithInstanceStore, WithStateMachineStore,
WithNotifier and WithLocker.
*/
package orchestra
