/*
Package types defines the data model shared by the terrapool packages.

Pools and templates come from configuration and are read-only once loaded:

	Pool
	├── Name, TimeoutMinutes, AgentTimeoutMinutes
	└── Templates []*Template
	    ├── Labels / AllowUnlabeled    (matched against a labels.Expression)
	    ├── Config                     (inline text or a directory to copy)
	    ├── Installation               (terraform executable)
	    ├── Executors, InstanceCap, IdleTimeoutMinutes
	    └── Credentials                (bound to terraform variables)

Agent is the record kept in the registry for every reserved, provisioned or
connected agent. Its status moves through:

	provisioning → launching → online ⇄ offline → terminating

An agent's pool and template are also encoded in its name (see pkg/naming),
so the capacity used by a template is always derived from the registry
rather than counted separately.

# Retention

Template.Retention picks the termination policy. A template with a single
executor and an idle timeout of zero keeps its agents for exactly one job
(RetentionOnce); every other template terminates agents that stayed idle for
IdleTimeoutMinutes (RetentionIdle). A negative idle timeout keeps agents
forever.
*/
package types
