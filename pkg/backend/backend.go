// Package backend implements the per-kind lifecycle of mu units.
//
// A FunctionBackend is constructed on demand for one function and mutates only
// that function's derived state. ICP is the only implemented function kind;
// Solana functions fail with engine.ErrUnsupportedBackend. Frontends are handled
// by the JavaScript backend, which only implements the vanilla template.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/mu-project/mu-cli/pkg/bindings"
	"github.com/mu-project/mu-cli/pkg/console"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/scaffold"
	"github.com/mu-project/mu-cli/pkg/telemetry"
	"github.com/mu-project/mu-cli/pkg/watcher"
)

// FunctionBackend is the capability contract of a function kind.
type FunctionBackend interface {
	// Init renders the unit scaffold and backend manifest into the unit root.
	Init(ctx context.Context) error

	// Build compiles the unit and records the derived interface facts.
	// Nothing is recorded unless every step succeeds.
	Build(ctx context.Context) error

	// Deploy publishes the unit to the shared local node and records its instance id.
	Deploy(ctx context.Context) error

	// Dev builds and deploys the unit, then returns an unarmed notifier on its root.
	Dev(ctx context.Context) (engine.ChangeNotifier, error)
}

// FrontendBackend is the capability contract of a frontend kind.
type FrontendBackend interface {
	// Create renders the frontend scaffold into the unit root.
	Create(ctx context.Context) error

	// Dev starts the dev server on port and waits until the port accepts connections.
	Dev(ctx context.Context, port int) error
}

// NodeEnsurer starts the shared local node at most once and waits for it.
// *process.NodeSupervisor implements it.
type NodeEnsurer interface {
	Ensure(ctx context.Context) error
}

// Reporter prints user-facing progress.
type Reporter interface {
	Banner(message string)
}

// WatchFunc constructs a change notifier for a unit root.
type WatchFunc func(unit, root string) (engine.ChangeNotifier, error)

// Toolchain names the external executables and targets used by backends.
type Toolchain struct {
	Cargo           string
	CandidExtractor string
	DFX             string
	NPM             string
	WasmTarget      string
}

// DefaultToolchain returns the executables found on PATH under their usual names.
func DefaultToolchain() Toolchain {
	return Toolchain{
		Cargo:           "cargo",
		CandidExtractor: "candid-extractor",
		DFX:             "dfx",
		NPM:             "npm",
		WasmTarget:      "wasm32-unknown-unknown",
	}
}

// Deps are the collaborators shared by every backend of one orchestrator run.
type Deps struct {
	Toolchain  Toolchain
	Runner     process.Runner
	Supervisor *process.Supervisor
	Node       NodeEnsurer
	Readiness  process.Readiness
	Renderer   scaffold.Renderer
	Bindings   bindings.Generator
	Inspector  ArtifactInspector
	Watch      WatchFunc
	Reporter   Reporter
	Logger     *telemetry.Logger

	// Stdout and Stderr receive the output of child processes.
	Stdout io.Writer
	Stderr io.Writer
}

// withDefaults fills the optional collaborators that have a sensible default.
func (d Deps) withDefaults() Deps {
	if d.Toolchain == (Toolchain{}) {
		d.Toolchain = DefaultToolchain()
	}
	if d.Logger == nil {
		d.Logger = telemetry.Nop()
	}
	zl := d.Logger.Zerolog()
	if d.Runner == nil {
		d.Runner = process.NewExecRunner(zl)
	}
	if d.Renderer == nil {
		d.Renderer = scaffold.New(zl)
	}
	if d.Bindings == nil {
		d.Bindings = bindings.NewDidcGenerator(d.Runner, zl)
	}
	if d.Inspector == nil {
		d.Inspector = NewWasmInspector(zl)
	}
	if d.Watch == nil {
		logger := zl
		d.Watch = func(unit, root string) (engine.ChangeNotifier, error) {
			return watcher.New(unit, root, watcher.WithLogger(logger))
		}
	}
	if d.Reporter == nil {
		d.Reporter = console.Discard()
	}
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	return d
}

// ForFunction returns the backend for fn's kind.
func ForFunction(p *project.Project, fn *project.Function, deps Deps) (FunctionBackend, error) {
	deps = deps.withDefaults()
	root := p.FunctionRoot(fn)

	switch fn.Config.Type {
	case project.FunctionTypeICP:
		if fn.State.Backend.ICP == nil {
			fn.State.Backend.ICP = &project.ICPState{}
		}
		return newICPFunction(fn, root, deps), nil
	case project.FunctionTypeSolana:
		return &unsupportedFunction{name: fn.Name(), kind: string(fn.Config.Type)}, nil
	default:
		return nil, engine.NewUnsupportedError(fmt.Sprintf("function type %q has no backend", fn.Config.Type)).
			WithUnit(fn.Name())
	}
}

// ForFrontend returns the backend for fe.
func ForFrontend(p *project.Project, fe *project.Frontend, deps Deps) FrontendBackend {
	return newJSFrontend(fe, p.FrontendRoot(fe), deps.withDefaults())
}

// unsupportedFunction is the backend of a declared but unimplemented function kind.
type unsupportedFunction struct {
	name string
	kind string
}

func (u *unsupportedFunction) err(op string) error {
	return engine.NewUnsupportedError(fmt.Sprintf("%s functions are not supported yet", u.kind)).
		WithUnit(u.name).
		WithOperation(op)
}

func (u *unsupportedFunction) Init(context.Context) error {
	return u.err("init")
}

func (u *unsupportedFunction) Build(context.Context) error {
	return u.err("build")
}

func (u *unsupportedFunction) Deploy(context.Context) error {
	return u.err("deploy")
}

func (u *unsupportedFunction) Dev(context.Context) (engine.ChangeNotifier, error) {
	return nil, u.err("dev")
}
