/*
Package storage persists the terrapool daemon state in BoltDB.

Two buckets live in <data-dir>/terrapool.db:

	agents       agent name → JSON types.Agent
	credentials  credential id → JSON CredentialRecord

Agent records let a restarted daemon find the workspaces of agents it
provisioned earlier (see registry.Recover). Credential records carry the
password or secret text sealed with the daemon master key; sealing and
opening happen in pkg/security.

BoltDB takes an exclusive file lock, so only one daemon may open a data
directory at a time. Writes are serialized by BoltDB itself.
*/
package storage
