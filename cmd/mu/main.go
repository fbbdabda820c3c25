package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mu-project/mu-cli/cmd/mu/commands"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("Received interrupt signal, shutting down...")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		if engine.IsMissingProject(err) {
			fmt.Fprintln(os.Stderr, project.NoProjectMessage)
		} else {
			fmt.Fprintf(os.Stderr, "mu: %v\n", err)
		}
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger used before settings are loaded.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	if v, ok := os.LookupEnv("MU_LOG_LEVEL"); ok {
		level = telemetry.ParseLevel(v)
	}
	zerolog.SetGlobalLevel(level)
}
