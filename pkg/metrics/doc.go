/*
Package metrics exposes the daemon's Prometheus metrics and health endpoints.

All metrics are registered with the default registry at package init and
served by Handler:

	terrapool_agents{pool,status}                  gauge
	terrapool_attempts_total{pool,template,result} counter
	terrapool_teardown_failures_total              counter
	terrapool_command_duration_seconds{command}    histogram
	terrapool_command_timeouts_total               counter
	terrapool_reconciliation_duration_seconds      histogram
	terrapool_retention_terminations_total{pool,kind} counter
	terrapool_api_requests_total{method,status}    counter
	terrapool_api_request_duration_seconds{method} histogram

Command metrics are recorded by the runner package around every terraform
invocation. Attempt counters and agent gauges are maintained by a Collector,
which follows the event broker and periodically reads agent counts:

	c := metrics.NewCollector(broker, registry)
	c.Start()
	defer c.Stop()

# Health

UpdateComponent records the state of a named component. /health turns
unhealthy as soon as any component reports a failure; /ready additionally
requires storage, scheduler and api to have registered as healthy.
*/
package metrics
