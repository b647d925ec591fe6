/*
Package reconciler keeps provisioned agents in line with their retention
policy.

Every cycle (30 seconds by default) the reconciler walks the registry:

  - An online agent that has not reported activity for three heartbeat
    windows is marked offline.
  - An agent whose template retention is Once is terminated after its first
    completed job, as soon as it is no longer busy.
  - An agent whose retention is Idle is terminated once it has been online
    and not busy for at least the idle timeout. A negative timeout keeps the
    agent forever.

Agents that are still provisioning, launching or already terminating are left
alone. Terminations run in the background; a given agent is terminated at
most once at a time, and Stop waits for running terminations to finish.
*/
package reconciler
