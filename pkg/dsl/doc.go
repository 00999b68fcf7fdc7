/*
Package dsl provides a Go DSL for building orchestra state machines in code.

It is an alternative to YAML or JSON definitions when graphs are generated
dynamically or assembled in tests, with the compiler checking state and
config names.

Example usage:

	b := dsl.New("release").Named("Release")

	b.Task("Build", "build", map[string]any{"version": "${workflow.runId}"}).
		Then("Approve").
		OnFailure("Cleanup")

	b.Pause("Approve").
		Then("Publish").
		OnFailure("Cleanup")

	b.Task("Publish", "publish", map[string]any{"artifact": "${Build.artifact}"})
	b.Task("Cleanup", "cleanup", nil)

	sm, err := b.Build()
	// ... pass sm to Engine.Load
*/
package dsl
