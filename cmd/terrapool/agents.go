package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/client"
	"github.com/cuemby/terrapool/pkg/config"
	"github.com/cuemby/terrapool/pkg/security"
)

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("server")
	return client.NewClient(addr)
}

var provisionCmd = &cobra.Command{
	Use:   "provision POOL",
	Short: "Request capacity from a pool",
	Long: `Request enough agents from POOL to cover EXCESS executors for jobs
matching LABEL. The command returns once the attempts are started.

Examples:
  # Two executors for linux jobs
  terrapool provision aws --label 'linux && !arm64' --excess 2

  # One agent for unlabeled jobs
  terrapool provision aws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		excess, _ := cmd.Flags().GetInt("excess")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		planned, err := c.Provision(args[0], label, excess)
		if err != nil {
			return fmt.Errorf("failed to provision: %w", err)
		}
		if len(planned) == 0 {
			fmt.Println("No template can provision for this request")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tTEMPLATE\tEXECUTORS")
		for _, p := range planned {
			fmt.Fprintf(w, "%s\t%s\t%d\n", p.Name, p.Template, p.Executors)
		}
		return w.Flush()
	},
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage provisioned agents",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, _ := cmd.Flags().GetString("pool")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		agents, err := c.ListAgents(pool)
		if err != nil {
			return fmt.Errorf("failed to list agents: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tPOOL\tTEMPLATE\tSTATUS\tBUSY\tJOBS\tAGE")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
				a.Name, a.Pool, a.Template, a.Status, a.Busy, a.JobsCompleted,
				time.Since(a.CreatedAt).Round(time.Second))
		}
		return w.Flush()
	},
}

var agentsTerminateCmd = &cobra.Command{
	Use:   "terminate NAME",
	Short: "Destroy an agent and its resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("Terminating %s...\n", args[0])
		if err := c.TerminateAgent(args[0]); err != nil {
			return fmt.Errorf("failed to terminate agent: %w", err)
		}
		fmt.Println("✓ Agent terminated")
		return nil
	},
}

var agentsConnectCmd = &cobra.Command{
	Use:   "connect NAME",
	Short: "Complete the connection handshake of an agent",
	Long: `Complete the connection handshake of an agent, marking it online.

The secret is the one terraform received as terrapool_agent_secret. Without
--secret it is derived from the local master key, which requires access to
the server configuration.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			keys, err := loadKeys(cfg)
			if err != nil {
				return err
			}
			secret = security.NewAgentSecrets(keys.AgentSecret).AgentSecret(name)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Connect(name, secret); err != nil {
			return fmt.Errorf("failed to connect agent: %w", err)
		}
		fmt.Printf("✓ Agent %s is online\n", name)
		return nil
	},
}

var agentsActivityCmd = &cobra.Command{
	Use:   "activity NAME",
	Short: "Report agent activity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		busy, _ := cmd.Flags().GetBool("busy")
		completed, _ := cmd.Flags().GetBool("completed")

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		return c.ReportActivity(args[0], busy, completed)
	},
}

func init() {
	provisionCmd.Flags().String("label", "", "Label expression of the jobs to serve")
	provisionCmd.Flags().Int("excess", 1, "Number of executors needed")

	agentsListCmd.Flags().String("pool", "", "Only list agents of this pool")
	agentsConnectCmd.Flags().String("secret", "", "Agent connection secret")
	agentsConnectCmd.Flags().StringP("config", "c", "/etc/terrapool/terrapool.yaml", "Configuration file used to derive the secret")
	agentsActivityCmd.Flags().Bool("busy", false, "The agent is running a job")
	agentsActivityCmd.Flags().Bool("completed", false, "A job finished since the last report")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsTerminateCmd)
	agentsCmd.AddCommand(agentsConnectCmd)
	agentsCmd.AddCommand(agentsActivityCmd)

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(agentsCmd)
}
