/*
Package client is a small HTTP client for the terrapool API, used by the
terrapool CLI.

	c, err := client.NewClient("127.0.0.1:8420")
	if err != nil {
		return err
	}
	agents, err := c.Provision("aws", "linux && docker", 2)

Every call has its own timeout. TerminateAgent waits for terraform destroy
and so allows up to 30 minutes. Non-2xx responses are returned as *APIError
carrying the server's error message; IsNotFound checks for a 404.
*/
package client
