/*
Package api serves the terrapool HTTP API.

The server is a plain net/http mux with method and path patterns:

	GET    /health                        liveness and component health
	GET    /ready                         readiness, pings storage first
	GET    /metrics                       Prometheus metrics
	POST   /v1/pools/{pool}/provision     {label, excess} -> planned agents
	GET    /v1/agents[?pool=]             registered agents
	GET    /v1/agents/{name}              one agent
	DELETE /v1/agents/{name}              destroy and remove an agent
	POST   /v1/agents/{name}/connect      {secret} completes the handshake
	POST   /v1/agents/{name}/activity     {busy, completed} heartbeat
	GET    /v1/credentials                stored credentials, no secrets
	POST   /v1/credentials                add or replace a credential
	DELETE /v1/credentials/{id}           remove a credential

Provision requests return 202 as soon as the attempts are started; the agents
come online later through the connect handshake. A connect call carries the
secret that was handed to terraform as terrapool_agent_secret and is rejected with 401
when it does not match the agent name.

Errors are returned as {"error": "..."} with 404 for unknown pools, agents or
credentials, 409 for agents that are still provisioning and 400 for malformed
requests. Every /v1 request is counted and timed in
terrapool_api_requests_total and terrapool_api_request_duration_seconds.
*/
package api
