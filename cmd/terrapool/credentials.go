package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/types"
)

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manage credentials exposed to terraform",
}

var credentialsAddCmd = &cobra.Command{
	Use:   "add ID",
	Short: "Add or replace a credential",
	Long: `Add or replace a credential. The secret part (password or secret) is
read from standard input when not given as a flag.

Examples:
  terrapool credentials add aws --kind username-password --username AKIA... < secret.txt
  terrapool credentials add token --kind secret --secret "$TOKEN"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		description, _ := cmd.Flags().GetString("description")
		username, _ := cmd.Flags().GetString("username")
		password, _ := cmd.Flags().GetString("password")
		secret, _ := cmd.Flags().GetString("secret")

		cred := &types.Credential{
			ID:          args[0],
			Kind:        types.CredentialKind(kind),
			Description: description,
			Username:    username,
		}
		switch cred.Kind {
		case types.CredentialUsernamePassword:
			if password == "" {
				password = readSecret()
			}
			cred.Password = password
		case types.CredentialSecret:
			if secret == "" {
				secret = readSecret()
			}
			cred.Secret = secret
		default:
			return fmt.Errorf("unsupported credential kind %q", kind)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.AddCredential(cred); err != nil {
			return fmt.Errorf("failed to add credential: %w", err)
		}
		fmt.Printf("✓ Credential %s stored\n", cred.ID)
		return nil
	},
}

var credentialsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		creds, err := c.ListCredentials()
		if err != nil {
			return fmt.Errorf("failed to list credentials: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tUSERNAME\tDESCRIPTION")
		for _, cr := range creds {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cr.ID, cr.Kind, cr.Username, cr.Description)
		}
		return w.Flush()
	},
}

var credentialsRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a credential",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.RemoveCredential(args[0]); err != nil {
			return fmt.Errorf("failed to remove credential: %w", err)
		}
		fmt.Printf("✓ Credential %s removed\n", args[0])
		return nil
	},
}

// readSecret reads one line from standard input
func readSecret() string {
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func init() {
	credentialsAddCmd.Flags().String("kind", string(types.CredentialSecret), "Credential kind (username-password, secret)")
	credentialsAddCmd.Flags().String("description", "", "Description")
	credentialsAddCmd.Flags().String("username", "", "Username for username-password credentials")
	credentialsAddCmd.Flags().String("password", "", "Password for username-password credentials")
	credentialsAddCmd.Flags().String("secret", "", "Secret for secret credentials")

	credentialsCmd.AddCommand(credentialsAddCmd)
	credentialsCmd.AddCommand(credentialsListCmd)
	credentialsCmd.AddCommand(credentialsRemoveCmd)
	rootCmd.AddCommand(credentialsCmd)
}
