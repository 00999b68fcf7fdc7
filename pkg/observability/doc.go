/*
Package observability turns executor lifecycle hooks into Prometheus metrics
and structured log lines.

Metrics and logs are both plain domain.LifecycleHooks, so they compose with
each other and with user hooks through LifecycleHooks.Merge.
*/
package observability
