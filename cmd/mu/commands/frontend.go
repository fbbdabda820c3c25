package commands

import (
	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/spf13/cobra"
)

func newFrontendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frontend",
		Short: "Manage frontends",
	}

	cmd.AddCommand(newFrontendAddCommand())

	return cmd
}

func newFrontendAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name> <template>",
		Short: "Add a frontend",
		Long: `Add a frontend to the project.

The frontend is scaffolded under frontends/<name> from the given template
and its dependencies are installed.`,
		Example: `  # Add a plain Vite frontend
  mu frontend add web vanilla`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			template, err := project.ParseFrontendTemplate(args[1])
			if err != nil {
				return err
			}

			return withOrchestrator(cmd.Context(), func(o *orchestrator.Orchestrator, s *session) error {
				fe, err := o.AddFrontend(cmd.Context(), args[0], template)
				if err != nil {
					return err
				}
				s.printer.Bannerf("Added frontend %s (%s)", fe.Name(), fe.Config.Template)
				return nil
			})
		},
	}

	return cmd
}
