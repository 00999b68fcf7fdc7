/*
Package states provides the closed set of State variants the executor runs.

  - ForkState: starts one branch per FORK edge and joins them (AND).
  - RepeatState: runs a body state once per element, serially or in parallel.
  - TaskState: calls a Go function from the task registry.
  - WaitState: succeeds after a fixed delay.
  - PauseState: holds the run until it is resumed, approved or aborted.

Factory builds variants from persisted StateDefinitions.
*/
package states
