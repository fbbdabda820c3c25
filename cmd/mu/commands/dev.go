package commands

import (
	"context"
	"fmt"

	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newDevCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the development loop",
		Long: `Build and deploy every function, start every frontend dev server and
watch function sources for changes.

A change under functions/<name> rebuilds and redeploys that function only.
Frontend i listens on frontend.base_port + i. Press Ctrl+C to stop; every
child process is terminated on exit.`,
		Example: `  # Start the dev loop
  mu dev

  # Expose metrics while developing
  MU_METRICS_ENABLED=true mu dev`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(o *orchestrator.Orchestrator, s *session) error {
				log.Info().
					Str("session_id", o.SessionID()).
					Int("functions", len(o.Project().Functions)).
					Int("frontends", len(o.Project().Frontends)).
					Int("base_port", s.settings.Frontend.BasePort).
					Msg("Starting dev loop")

				if err := o.Dev(cmd.Context()); err != nil {
					return err
				}
				// The command context is cancelled by now.
				failed := s.failedOperations(context.Background(), o.SessionID())
				s.printer.Banner(devExitBanner(failed))
				return nil
			})
		},
	}

	return cmd
}

// devExitBanner is the line printed when the dev loop ends.
func devExitBanner(failed int) string {
	switch failed {
	case 0:
		return "Dev loop stopped"
	case 1:
		return "Dev loop stopped (1 failed operation)"
	default:
		return fmt.Sprintf("Dev loop stopped (%d failed operations)", failed)
	}
}
