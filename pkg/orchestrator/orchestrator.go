package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mu-project/mu-cli/pkg/backend"
	"github.com/mu-project/mu-cli/pkg/bindings"
	"github.com/mu-project/mu-cli/pkg/config"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/scaffold"
	"github.com/mu-project/mu-cli/pkg/telemetry"
)

// ShutdownTimeout bounds how long children get to exit after SIGTERM.
const ShutdownTimeout = 5 * time.Second

// Options configures an Orchestrator. Zero values select the real toolchain.
type Options struct {
	Settings  *config.Settings
	Telemetry *telemetry.Telemetry

	// History receives one record per operation. Nil disables recording.
	History engine.HistoryRecorder

	Runner    process.Runner
	Renderer  scaffold.Renderer
	Bindings  bindings.Generator
	Inspector backend.ArtifactInspector
	Watch     backend.WatchFunc
	Reporter  backend.Reporter

	// Node replaces the supervised local node, mainly in tests.
	Node backend.NodeEnsurer

	// Logger defaults to the telemetry logger.
	Logger *telemetry.Logger
	Stdout io.Writer
	Stderr io.Writer
}

// Orchestrator drives the lifecycle of every unit of one project.
type Orchestrator struct {
	project    *project.Project
	settings   *config.Settings
	tel        *telemetry.Telemetry
	history    engine.HistoryRecorder
	supervisor *process.Supervisor
	deps       backend.Deps
	sessionID  string
	log        *telemetry.Logger

	mu    sync.Mutex
	state State
}

// New creates an orchestrator for p. It owns the supervisor of every child
// process it starts; call Close to terminate them.
func New(p *project.Project, opts Options) *Orchestrator {
	if opts.Settings == nil {
		opts.Settings = config.Default()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Disabled()
	}
	if opts.Logger == nil {
		opts.Logger = opts.Telemetry.Logger
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	zl := opts.Logger.Zerolog()
	if opts.Runner == nil {
		opts.Runner = process.NewExecRunner(zl)
	}
	if opts.Bindings == nil {
		opts.Bindings = bindings.NewDidcGenerator(opts.Runner, zl,
			bindings.WithCommand(opts.Settings.Toolchain.Didc))
	}

	s := opts.Settings
	sessionID := uuid.NewString()
	log := opts.Logger.NewComponentLogger("orchestrator").WithSession(sessionID)

	readiness := process.Readiness{
		Interval: s.Readiness.Interval,
		Timeout:  s.Readiness.Timeout,
		OnAttempt: func(attempt int, err error) {
			log.Debugf("Port not ready yet (attempt %d): %v", attempt, err)
		},
	}

	sup := process.NewSupervisor(zl)

	node := opts.Node
	if node == nil {
		node = &meteredNode{
			node: process.NewNodeSupervisor(sup, process.Command{
				Name:   s.Node.Command,
				Args:   s.Node.Args,
				Dir:    p.Dir,
				Stdout: opts.Stdout,
				Stderr: opts.Stderr,
			}, process.LocalAddr(s.Node.Port), readiness, zl),
			metrics: opts.Telemetry.Metrics,
		}
	}

	return &Orchestrator{
		project:    p,
		settings:   s,
		tel:        opts.Telemetry,
		history:    opts.History,
		supervisor: sup,
		sessionID:  sessionID,
		log:        log,
		state:      StateIdle,
		deps: backend.Deps{
			Toolchain: backend.Toolchain{
				Cargo:           s.Toolchain.Cargo,
				CandidExtractor: s.Toolchain.CandidExtractor,
				DFX:             s.Toolchain.DFX,
				NPM:             s.Toolchain.NPM,
				WasmTarget:      s.Toolchain.Target,
			},
			Runner:     opts.Runner,
			Supervisor: sup,
			Node:       node,
			Readiness:  readiness,
			Renderer:   opts.Renderer,
			Bindings:   opts.Bindings,
			Inspector:  opts.Inspector,
			Watch:      opts.Watch,
			Reporter:   opts.Reporter,
			Logger:     opts.Logger.WithSession(sessionID),
			Stdout:     opts.Stdout,
			Stderr:     opts.Stderr,
		},
	}
}

// Project returns the project being orchestrated.
func (o *Orchestrator) Project() *project.Project {
	return o.project
}

// SessionID identifies this orchestrator run in logs and history.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Close terminates every supervised child process.
func (o *Orchestrator) Close() {
	o.supervisor.Shutdown(ShutdownTimeout)
	o.tel.Metrics.SetSupervisedProcesses(o.supervisor.Count())
}

// AddFunction creates the unit directory, runs the backend's init and
// registers the function in both config and state.
func (o *Orchestrator) AddFunction(ctx context.Context, name string, fnType project.FunctionType) (*project.Function, error) {
	fn, err := o.project.AddFunction(name, fnType)
	if err != nil {
		return nil, err
	}

	if err := o.addUnit(ctx, fn.Name(), o.project.FunctionRoot(fn), func(ctx context.Context) error {
		b, err := backend.ForFunction(o.project, fn, o.deps)
		if err != nil {
			return err
		}
		return b.Init(ctx)
	}); err != nil {
		o.project.RemoveFunction(fn.Name())
		return nil, err
	}

	return fn, nil
}

// AddFrontend scaffolds a frontend from its template and registers it.
func (o *Orchestrator) AddFrontend(ctx context.Context, name string, template project.FrontendTemplate) (*project.Frontend, error) {
	fe, err := o.project.AddFrontend(name, template)
	if err != nil {
		return nil, err
	}

	if err := o.addUnit(ctx, fe.Name(), o.project.FrontendRoot(fe), func(ctx context.Context) error {
		return backend.ForFrontend(o.project, fe, o.deps).Create(ctx)
	}); err != nil {
		o.project.RemoveFrontend(fe.Name())
		return nil, err
	}

	return fe, nil
}

func (o *Orchestrator) addUnit(ctx context.Context, unit, root string, create func(context.Context) error) error {
	if err := o.instrument(ctx, unit, engine.OperationInit, create); err != nil {
		return err
	}
	if err := o.project.Save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	o.log.WithUnit(unit).WithField("root", root).Info("Unit added")
	return nil
}

// Build builds every function in declaration order and persists the result.
// The first failure aborts the run and nothing is persisted.
func (o *Orchestrator) Build(ctx context.Context) error {
	return o.eachFunction(ctx, engine.OperationBuild, func(ctx context.Context, b backend.FunctionBackend) error {
		return b.Build(ctx)
	})
}

// Deploy deploys every function in declaration order and persists the result.
func (o *Orchestrator) Deploy(ctx context.Context) error {
	return o.eachFunction(ctx, engine.OperationDeploy, func(ctx context.Context, b backend.FunctionBackend) error {
		return b.Deploy(ctx)
	})
}

func (o *Orchestrator) eachFunction(ctx context.Context, kind engine.OperationKind, op func(context.Context, backend.FunctionBackend) error) error {
	for _, fn := range o.project.Functions {
		b, err := backend.ForFunction(o.project, fn, o.deps)
		if err != nil {
			return err
		}
		if err := o.instrument(ctx, fn.Name(), kind, func(ctx context.Context) error {
			return op(ctx, b)
		}); err != nil {
			return err
		}
	}

	if err := o.project.Save(); err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// instrument runs fn inside a span, then records metrics and history.
func (o *Orchestrator) instrument(ctx context.Context, unit string, kind engine.OperationKind, fn func(context.Context) error) error {
	op := o.tel.StartOperation(ctx, unit, string(kind))
	ctx = o.log.WithUnit(unit).WithContext(op.Ctx)
	err := fn(ctx)
	op.End(err)

	o.record(ctx, &engine.OperationRecord{
		SessionID: o.sessionID,
		Unit:      unit,
		Kind:      kind,
		Status:    statusOf(err),
		StartedAt: op.Timer().Start(),
		Duration:  op.Timer().Duration(),
		Error:     errorText(err),
	})
	return err
}

func (o *Orchestrator) record(ctx context.Context, rec *engine.OperationRecord) {
	if o.history == nil {
		return
	}
	// History is best effort; a cancelled session still records its last operation.
	if err := o.history.RecordOperation(context.WithoutCancel(ctx), rec); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to record operation")
	}
}

func statusOf(err error) engine.OperationStatus {
	if err != nil {
		return engine.OperationFailed
	}
	return engine.OperationSucceeded
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// meteredNode records how long the shared node took to become reachable.
type meteredNode struct {
	node    *process.NodeSupervisor
	metrics *telemetry.Metrics
}

func (m *meteredNode) Ensure(ctx context.Context) error {
	if m.node.Started() {
		return m.node.Ensure(ctx)
	}
	start := time.Now()
	err := m.node.Ensure(ctx)
	status := "ready"
	if err != nil {
		status = "failed"
	}
	m.metrics.RecordReadinessWait("node", status, time.Since(start))
	return err
}
