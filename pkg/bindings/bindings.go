// Package bindings turns a Candid interface description into client-side source.
package bindings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/rs/zerolog"
)

// Target is a binding output language.
type Target string

const (
	TargetJS Target = "js"
	TargetTS Target = "ts"
)

// Generator compiles an interface description into client bindings.
type Generator interface {
	Generate(ctx context.Context, did string) (string, error)
}

// DidcGenerator generates bindings by running `didc bind`.
type DidcGenerator struct {
	runner  process.Runner
	command string
	target  Target
	logger  zerolog.Logger
}

// Option configures a DidcGenerator.
type Option func(*DidcGenerator)

// WithCommand overrides the didc executable.
func WithCommand(command string) Option {
	return func(g *DidcGenerator) {
		g.command = command
	}
}

// WithTarget selects the output language.
func WithTarget(target Target) Option {
	return func(g *DidcGenerator) {
		g.target = target
	}
}

// NewDidcGenerator creates a generator that runs didc through runner.
func NewDidcGenerator(runner process.Runner, logger zerolog.Logger, opts ...Option) *DidcGenerator {
	g := &DidcGenerator{
		runner:  runner,
		command: "didc",
		target:  TargetJS,
		logger:  logger.With().Str("component", "bindings").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate checks and compiles did. A parse or type-check failure is a bindings error.
func (g *DidcGenerator) Generate(ctx context.Context, did string) (string, error) {
	if strings.TrimSpace(did) == "" {
		return "", engine.NewBindingsError("interface description is empty", nil).
			WithCode(engine.ErrCodeValidation)
	}

	dir, err := os.MkdirTemp("", "mu-bindings-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "service.did")
	if err := os.WriteFile(input, []byte(did), 0o644); err != nil {
		return "", fmt.Errorf("failed to write interface description: %w", err)
	}

	res, err := g.runner.Run(ctx, process.Command{
		Name: g.command,
		Args: []string{"bind", input, "--target", string(g.target)},
	})
	if err != nil {
		return "", engine.NewBindingsError("failed to generate client bindings", err)
	}

	out := string(res.Stdout)
	if strings.TrimSpace(out) == "" {
		return "", engine.NewBindingsError(fmt.Sprintf("%s produced no %s bindings", g.command, g.target), nil)
	}

	g.logger.Debug().
		Str("target", string(g.target)).
		Int("bytes", len(out)).
		Msg("Bindings generated")

	return out, nil
}
