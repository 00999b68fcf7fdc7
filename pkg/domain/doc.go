/*
Package domain contains the core models of the orchestra workflow engine.

It defines the state graph, the persistent execution records and the
responses states hand back to the executor. The package is kept free of
I/O and persistence concerns, following Hexagonal Architecture principles.

# Key Entities

  - StateMachine: a validated graph of States joined by typed Transitions.
  - State: the behavior attached to a graph vertex (fork, repeat, task...).
  - StateExecutionInstance: one durable attempt at running one state in one run.
  - ExecutionResponse: what a State returns, synchronously or asynchronously.
  - ContextElement: a scoped value (service, host, repeat item) visible to expressions.
*/
package domain
