package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "terrapool",
	Short: "Terrapool - on-demand build agents provisioned with Terraform",
	Long: `Terrapool provisions build agents on demand by running Terraform
configurations from pools of templates, and destroys them again when
their retention policy says they are no longer needed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		initLogging(level, jsonOutput)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Terrapool version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Terrapool version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON even on a terminal")
	rootCmd.PersistentFlags().String("server", "127.0.0.1:8420", "Terrapool server address")

	rootCmd.AddCommand(versionCmd)
}

// initLogging logs to the console when stderr is a terminal and as JSON
// otherwise
func initLogging(level string, jsonOutput bool) {
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		jsonOutput = true
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(level),
		JSONOutput: jsonOutput,
		Output:     os.Stderr,
	})
}
