package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/terrapool/pkg/naming"
)

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "Generate and parse agent names",
}

var namesGenerateCmd = &cobra.Command{
	Use:   "generate POOL TEMPLATE",
	Short: "Generate a new agent name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !naming.IsValidPoolName(args[0]) {
			return fmt.Errorf("invalid pool name %q", args[0])
		}
		if !naming.IsValidTemplateName(args[1]) {
			return fmt.Errorf("invalid template name %q", args[1])
		}
		fmt.Println(naming.Generate(args[0], args[1]))
		return nil
	},
}

var namesParseCmd = &cobra.Command{
	Use:   "parse NAME",
	Short: "Split an agent name into pool, template and id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, ok := naming.Parse(args[0])
		if !ok {
			return fmt.Errorf("%q is not a terrapool agent name", args[0])
		}
		fmt.Printf("Pool:     %s\n", id.Pool)
		fmt.Printf("Template: %s\n", id.Template)
		fmt.Printf("UUID:     %s\n", id.UUID)
		return nil
	},
}

func init() {
	namesCmd.AddCommand(namesGenerateCmd)
	namesCmd.AddCommand(namesParseCmd)
	rootCmd.AddCommand(namesCmd)
}
