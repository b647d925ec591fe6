/*
Package workspace manages the per-agent terraform working directories.

Every provisioning attempt gets its own directory:

	<root>/terrapool-workspaces/<agent-name>/
	├── terraform1234.tf      (inline configuration) or a copied tree
	├── terrapool.tfstate     (written by terraform)
	└── terrapool.tfvars      (present only while apply or destroy runs)

The variables file carries the agent secret and any bound credentials, so it
is written by WriteVariables immediately before a terraform command and
deleted by the returned release func right after:

	release, err := ws.WriteVariables()
	if err != nil {
		return err
	}
	defer release()

Close removes the whole directory and is safe to call more than once.
*/
package workspace
