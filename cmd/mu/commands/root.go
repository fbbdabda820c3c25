package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	projectDir string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mu",
		Short: "mu - build, deploy and develop canister projects",
		Long: `mu manages a project made of backend functions and frontends.

Functions are compiled to WebAssembly, deployed to a local node and
exposed to frontends through generated JavaScript bindings. In dev mode
every function is rebuilt and redeployed whenever its sources change.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (default .mu/settings.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&projectDir, "dir", ".", "project directory")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newFunctionCommand())
	rootCmd.AddCommand(newFrontendCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
