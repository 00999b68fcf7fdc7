/*
Package ports defines the driven ports (interfaces) of the orchestra executor.

These interfaces decouple the executor from storage, signalling, scheduling
and expression backends, so the same core runs in memory, on disk or on Redis.

# Key Interfaces

  - InstanceStore: persists StateExecutionInstances with conditional updates.
  - StateMachineStore: persists graph definitions.
  - WaitNotifier: correlation-id based wait/notify with AND-join semantics.
  - WorkerPool: runs executor work off the caller's goroutine.
  - ExpressionEvaluator, ExpressionProcessor: the expression backend.
  - DistributedLocker: serializes work on one instance across replicas.
*/
package ports
