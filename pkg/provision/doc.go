/*
Package provision drives terraform to create and destroy agents.

A provisioning attempt is a saga with one compensating action:

	pending → initializing → fetching → applying ─┬→ succeeded
	                                               └→ destroying → failed

  - init and get failures delete the workspace and return; nothing was
    created yet, so no destroy runs.
  - Any apply failure, including a timeout, runs apply -destroy before the
    error is returned. The result is an *ApplyFailedError whose Err is the
    apply failure and whose Teardown is the destroy failure, if any.
  - Every failure after the workspace exists deletes it exactly once.

On success the returned Agent owns the workspace. Agent.Terminate runs the
destroy and deletes the workspace whatever the destroy outcome.

The variables file handed to apply and destroy carries the connection
secret and the bound credentials. It exists only while one of those two
commands runs.
*/
package provision
