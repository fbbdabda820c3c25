package commands

import (
	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy every function to the local node",
		Long: `Deploy every function in declaration order.

The local node is started if it is not already reachable. Canister IDs and
JavaScript bindings are recorded in mu.state.json. A node started by this
command is stopped when it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(o *orchestrator.Orchestrator, s *session) error {
				log.Debug().Int("functions", len(o.Project().Functions)).Msg("Deploying project")
				if err := o.Deploy(cmd.Context()); err != nil {
					return err
				}
				for _, fn := range o.Project().Functions {
					if icp := fn.State.Backend.ICP; icp != nil && icp.CanisterID != nil {
						log.Info().Str("unit", fn.Name()).Str("canister_id", *icp.CanisterID).Msg("Deployed")
					}
				}
				s.printer.Banner("Deploy complete")
				return nil
			})
		},
	}

	return cmd
}
