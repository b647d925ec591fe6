package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/config"
	"github.com/cuemby/terrapool/pkg/runner"
	"github.com/cuemby/terrapool/pkg/types"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		fmt.Printf("✓ %s is valid\n", path)
		for _, p := range cfg.RuntimePools() {
			fmt.Printf("  Pool %s: %d template(s)\n", p.Name, len(p.Templates))
			for _, t := range p.Templates {
				retention := t.Retention()
				fmt.Printf("    %s  labels=%q executors=%d cap=%d retention=%s",
					t.Name, t.Labels, t.ExecutorCount(), t.InstanceCap, retention.Kind)
				if retention.Kind == types.RetentionIdle {
					fmt.Printf("(%dm)", retention.IdleMinutes)
				}
				fmt.Println()
			}
		}
		return nil
	},
}

var installationsCmd = &cobra.Command{
	Use:   "installations",
	Short: "Inspect terraform installations",
}

var installationsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that every configured terraform installation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		failed := 0
		for _, ic := range cfg.Installations {
			inst, _ := cfg.InstallationSet().Installation(ic.Name)
			exe, err := inst.Executable()
			if err == nil {
				_, err = runner.Run(runner.New(exe), runner.Command{
					Args:      []string{"version"},
					StripANSI: true,
				}, runner.BoundedWait("version", 30*time.Second))
			}
			if err != nil {
				failed++
				fmt.Printf("✗ %s: %v\n", ic.Name, err)
				continue
			}
			fmt.Printf("✓ %s: %s\n", ic.Name, exe)
		}

		if failed > 0 {
			return fmt.Errorf("%d installation(s) failed", failed)
		}
		return nil
	},
}

func init() {
	configValidateCmd.Flags().StringP("config", "c", "/etc/terrapool/terrapool.yaml", "Configuration file")
	installationsCheckCmd.Flags().StringP("config", "c", "/etc/terrapool/terrapool.yaml", "Configuration file")

	configCmd.AddCommand(configValidateCmd)
	installationsCmd.AddCommand(installationsCheckCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(installationsCmd)
}
