// Package process runs and supervises the external tools mu drives: compilers,
// extractors, the deployment CLI, the local execution node and frontend dev servers.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/rs/zerolog"
)

// Command describes one external invocation.
type Command struct {
	// Name is the executable to run.
	Name string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string

	// Stdout, if set, receives a copy of standard output as it is produced.
	Stdout io.Writer

	// Stderr, if set, receives a copy of standard error as it is produced.
	Stderr io.Writer
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a successful run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// Runner runs a command to completion.
// A non-zero exit status is reported as an engine subprocess error.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner implements Runner using os/exec.
type ExecRunner struct {
	logger zerolog.Logger
}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner(logger zerolog.Logger) *ExecRunner {
	return &ExecRunner{
		logger: logger.With().Str("component", "runner").Logger(),
	}
}

// Run executes cmd and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = teeWriter(&stdout, cmd.Stdout)
	c.Stderr = teeWriter(&stderr, cmd.Stderr)

	r.logger.Debug().
		Str("command", cmd.String()).
		Str("dir", cmd.Dir).
		Msg("Running command")

	start := time.Now()
	err := c.Run()
	duration := time.Since(start)

	if err != nil {
		return nil, exitError(cmd, err, stderr.String())
	}

	r.logger.Debug().
		Str("command", cmd.Name).
		Dur("duration", duration).
		Msg("Command finished")

	return &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}, nil
}

func teeWriter(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

// exitError maps an exec failure to a classified subprocess error.
func exitError(cmd Command, err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e := engine.NewSubprocessError(fmt.Sprintf("%s exited with status %d", cmd.Name, exitErr.ExitCode()), err).
			WithCode(engine.ErrCodeExitStatus).
			WithDetail("exit_code", exitErr.ExitCode()).
			WithDetail("command", cmd.String())
		if s := strings.TrimSpace(stderr); s != "" {
			e.WithDetail("stderr", s)
		}
		return e
	}

	return engine.NewSubprocessError(fmt.Sprintf("failed to start %s", cmd.Name), err).
		WithCode(engine.ErrCodeStartFailed).
		WithDetail("command", cmd.String())
}

// ExitCode extracts the exit status recorded on a subprocess error, or -1.
func ExitCode(err error) int {
	var e *engine.EngineError
	if errors.As(err, &e) && e.Details != nil {
		if code, ok := e.Details["exit_code"].(int); ok {
			return code
		}
	}
	return -1
}
