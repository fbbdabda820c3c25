package commands

import (
	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/spf13/cobra"
)

func newFunctionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "function",
		Short: "Manage backend functions",
	}

	cmd.AddCommand(newFunctionAddCommand())

	return cmd
}

func newFunctionAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <type>",
		Short: "Add a backend function",
		Long: `Add a backend function to the project.

The function is scaffolded under functions/<name> and registered in
mu.toml and mu.state.json. Supported types: icp.`,
		Example: `  # Add an ICP canister named backend
  mu function add backend icp`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fnType, err := project.ParseFunctionType(args[1])
			if err != nil {
				return err
			}

			return withOrchestrator(cmd.Context(), func(o *orchestrator.Orchestrator, s *session) error {
				fn, err := o.AddFunction(cmd.Context(), args[0], fnType)
				if err != nil {
					return err
				}
				s.printer.Bannerf("Added function %s (%s)", fn.Name(), fn.Config.Type)
				return nil
			})
		},
	}

	return cmd
}
