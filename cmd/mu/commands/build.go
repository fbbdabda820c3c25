package commands

import (
	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBuildCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every function",
		Long: `Build every function in declaration order.

Each function is compiled to WebAssembly and its interface description is
extracted. The project state is saved only when every function builds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(o *orchestrator.Orchestrator, s *session) error {
				log.Debug().Int("functions", len(o.Project().Functions)).Msg("Building project")
				if err := o.Build(cmd.Context()); err != nil {
					return err
				}
				s.printer.Banner("Build complete")
				return nil
			})
		},
	}

	return cmd
}
