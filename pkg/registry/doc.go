// Package registry keeps the authoritative list of agents.
//
// Every agent the daemon knows about has a persisted types.Agent record, from
// the moment its name is reserved until it is terminated. Reserved names
// count toward instance caps, so a capacity decision never relies on agents
// that only exist as running terraform processes. Provisioned agents also
// have a live *provision.Agent handle used to terminate them.
//
// Recover reloads the records after a restart.
package registry
