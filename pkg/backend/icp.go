package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/scaffold"
	"github.com/mu-project/mu-cli/pkg/telemetry"
)

// icpFunction is the Internet Computer backend of one function.
type icpFunction struct {
	fn     *project.Function
	root   string
	deps   Deps
	logger *telemetry.Logger
}

func newICPFunction(fn *project.Function, root string, deps Deps) *icpFunction {
	return &icpFunction{
		fn:     fn,
		root:   root,
		deps:   deps,
		logger: deps.Logger.NewComponentLogger("icp").WithUnit(fn.Name()),
	}
}

// WasmPath returns the release artifact cargo produces for a function.
// Cargo replaces dashes in crate names with underscores.
func WasmPath(root, name, target string) string {
	artifact := strings.ReplaceAll(name, "-", "_") + ".wasm"
	return filepath.Join(root, "target", target, "release", artifact)
}

// DIDPath returns the interface-description sidecar of a function.
func DIDPath(root, name string) string {
	return filepath.Join(root, name+".did")
}

func (b *icpFunction) Init(_ context.Context) error {
	if _, err := b.deps.Renderer.Render(scaffold.TemplateICPFunction, b.root, scaffold.Values{"Name": b.fn.Name()}); err != nil {
		return fmt.Errorf("failed to render function scaffold: %w", err)
	}
	if err := WriteManifest(b.root, b.fn.Name()); err != nil {
		return err
	}
	b.logger.WithField("root", b.root).Info("Function initialized")
	return nil
}

func (b *icpFunction) Build(ctx context.Context) error {
	tc := b.deps.Toolchain
	name := b.fn.Name()

	b.deps.Reporter.Banner("Building ICP project")
	if _, err := b.run(ctx, process.Command{
		Name:   tc.Cargo,
		Args:   []string{"build", "--release", "--target", tc.WasmTarget},
		Stdout: b.deps.Stdout,
	}); err != nil {
		return b.fail("build", "failed to build ICP project", err)
	}

	wasm := WasmPath(b.root, name, tc.WasmTarget)
	artifact, err := b.deps.Inspector.Inspect(ctx, wasm)
	if err != nil {
		return b.fail("build", "compiled module is unusable", err)
	}

	b.deps.Reporter.Banner("Extracting candid file")
	rel, err := filepath.Rel(b.root, wasm)
	if err != nil {
		rel = wasm
	}
	res, err := b.run(ctx, process.Command{
		Name: tc.CandidExtractor,
		Args: []string{filepath.ToSlash(rel)},
	})
	if err != nil {
		return b.fail("build", "failed to extract candid file", err)
	}
	did := string(res.Stdout)

	if err := os.WriteFile(DIDPath(b.root, name), res.Stdout, 0o644); err != nil {
		return fmt.Errorf("failed to write %s.did: %w", name, err)
	}

	b.deps.Reporter.Banner("Generating JavaScript bindings")
	js, err := b.deps.Bindings.Generate(ctx, did)
	if err != nil {
		return b.fail("build", "failed to generate JavaScript bindings", err)
	}

	state := b.fn.State.Backend.ICP
	state.DID = &did
	state.JSBindings = &js

	b.logger.Infof("Function built (%d bytes, %d queries, %d updates)",
		artifact.Size, len(artifact.Queries), len(artifact.Updates))
	return nil
}

func (b *icpFunction) Deploy(ctx context.Context) error {
	if b.deps.Node == nil {
		return errors.New("no local node configured")
	}
	if err := b.deps.Node.Ensure(ctx); err != nil {
		return b.fail("deploy", "local node is unavailable", err)
	}

	b.deps.Reporter.Banner("Deploying ICP project...")
	if _, err := b.run(ctx, process.Command{
		Name:   b.deps.Toolchain.DFX,
		Args:   []string{"deploy"},
		Stdout: b.deps.Stdout,
	}); err != nil {
		return b.fail("deploy", "failed to deploy ICP project", err)
	}

	id, err := ReadCanisterID(b.root, b.fn.Name())
	if err != nil {
		return err
	}
	b.fn.State.Backend.ICP.CanisterID = &id

	b.logger.WithField("canister_id", id).Info("Function deployed")
	return nil
}

func (b *icpFunction) Dev(ctx context.Context) (engine.ChangeNotifier, error) {
	if err := b.Build(ctx); err != nil {
		return nil, err
	}
	if err := b.Deploy(ctx); err != nil {
		return nil, err
	}
	n, err := b.deps.Watch(b.fn.Name(), b.root)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", b.root, err)
	}
	return n, nil
}

func (b *icpFunction) run(ctx context.Context, cmd process.Command) (*process.Result, error) {
	cmd.Dir = b.root
	cmd.Stderr = b.deps.Stderr
	return b.deps.Runner.Run(ctx, cmd)
}

// fail adds unit and operation context to err, keeping its error class.
func (b *icpFunction) fail(op, msg string, err error) error {
	var e *engine.EngineError
	if !errors.As(err, &e) {
		return engine.NewSubprocessError(msg, err).WithUnit(b.fn.Name()).WithOperation(op)
	}
	if e.Unit == "" {
		e.WithUnit(b.fn.Name())
	}
	if e.Operation == "" {
		e.WithOperation(op)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
