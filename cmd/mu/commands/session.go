package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mu-project/mu-cli/pkg/config"
	"github.com/mu-project/mu-cli/pkg/console"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/orchestrator"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/stores"
	"github.com/mu-project/mu-cli/pkg/telemetry"
)

// session bundles everything a project command needs.
type session struct {
	dir       string
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	history   *stores.HistoryStore
	printer   *console.Printer
	logger    *telemetry.Logger
}

// resolveDir returns the absolute project directory from --dir.
func resolveDir() (string, error) {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return dir, nil
}

// openSession loads settings, sets up telemetry and opens the history store.
func openSession(ctx context.Context) (*session, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}

	settings, err := config.Load(dir, configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	s := &session{
		dir:       dir,
		settings:  settings,
		telemetry: tel,
		printer:   console.New(os.Stdout),
		logger:    tel.Logger.NewComponentLogger("cli"),
	}

	if settings.History.Enabled {
		// History is optional; commands keep working without it.
		store, err := openHistory(ctx, settings.HistoryPath(dir))
		if err != nil {
			s.logger.WithError(err).Warn("Operation history unavailable")
		} else {
			s.history = store
		}
	}

	return s, nil
}

// openHistory opens the store at path and checks it answers before handing it out.
func openHistory(ctx context.Context, path string) (*stores.HistoryStore, error) {
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("history store unhealthy: %w", err)
	}
	return store, nil
}

// failedOperations counts the operations that failed in sessionID.
// It reports zero when history is disabled or unreadable.
func (s *session) failedOperations(ctx context.Context, sessionID string) int {
	if s.history == nil {
		return 0
	}
	n, err := s.history.CountOperations(ctx, sessionID, engine.OperationFailed)
	if err != nil {
		s.logger.WithSession(sessionID).WithError(err).Debug("Failed to count failed operations")
		return 0
	}
	return n
}

// newOrchestrator loads the project and wires an orchestrator to this session.
func (s *session) newOrchestrator() (*orchestrator.Orchestrator, error) {
	p, err := project.Require(s.dir)
	if err != nil {
		return nil, err
	}

	opts := orchestrator.Options{
		Settings:  s.settings,
		Telemetry: s.telemetry,
		Reporter:  s.printer,
	}
	if s.history != nil {
		opts.History = s.history
	}
	return orchestrator.New(p, opts), nil
}

// close releases the history store and flushes telemetry.
func (s *session) close() error {
	var errs []error
	if s.history != nil {
		errs = append(errs, s.history.Close())
	}
	errs = append(errs, s.telemetry.Shutdown(context.Background()))
	return errors.Join(errs...)
}

// withOrchestrator runs fn against the project in --dir and tears everything down afterwards.
func withOrchestrator(ctx context.Context, fn func(*orchestrator.Orchestrator, *session) error) error {
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.close(); cerr != nil {
			s.logger.WithError(cerr).Debug("Failed to close session")
		}
	}()

	orch, err := s.newOrchestrator()
	if err != nil {
		return err
	}
	defer orch.Close()

	return fn(orch, s)
}
