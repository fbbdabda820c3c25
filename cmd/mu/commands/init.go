package commands

import (
	"os"
	"path/filepath"

	"github.com/mu-project/mu-cli/pkg/console"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [name]",
		Short: "Initialize a new project",
		Long: `Initialize a new mu project in the project directory.

This writes an empty mu.toml and mu.state.json. The project name defaults
to the directory name. An existing project is overwritten.`,
		Example: `  # Initialize a project named after the current directory
  mu init

  # Initialize a project with an explicit name
  mu init my-app`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := resolveDir()
			if err != nil {
				return err
			}

			name := filepath.Base(dir)
			if len(args) == 1 {
				name = args[0]
			}

			if project.Exists(dir) {
				log.Warn().Str("dir", dir).Msg("Overwriting existing project")
			}

			log.Debug().Str("dir", dir).Str("name", name).Msg("Initializing project")

			p, err := project.Init(dir, name)
			if err != nil {
				return err
			}

			console.New(os.Stdout).Bannerf("Initialized project %s", p.Metadata.Name)
			return nil
		},
	}

	return cmd
}
