package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/process"
	"github.com/mu-project/mu-cli/pkg/project"
	"github.com/mu-project/mu-cli/pkg/scaffold"
	"github.com/mu-project/mu-cli/pkg/telemetry"
)

// jsFrontend serves a JavaScript frontend with the package-manager dev server.
type jsFrontend struct {
	fe     *project.Frontend
	root   string
	deps   Deps
	logger *telemetry.Logger
}

func newJSFrontend(fe *project.Frontend, root string, deps Deps) *jsFrontend {
	return &jsFrontend{
		fe:     fe,
		root:   root,
		deps:   deps,
		logger: deps.Logger.NewComponentLogger("js").WithUnit(fe.Name()),
	}
}

// templateFor maps a frontend template to its scaffold, if one exists.
func templateFor(t project.FrontendTemplate) (string, bool) {
	switch t {
	case project.FrontendTemplateVanilla:
		return scaffold.TemplateJSVanilla, true
	default:
		return "", false
	}
}

func (b *jsFrontend) Create(_ context.Context) error {
	tmpl, ok := templateFor(b.fe.Config.Template)
	if !ok {
		return engine.NewUnsupportedError(fmt.Sprintf("frontend template %q is not supported yet", b.fe.Config.Template)).
			WithUnit(b.fe.Name()).
			WithOperation("create")
	}
	if _, err := b.deps.Renderer.Render(tmpl, b.root, scaffold.Values{"Name": b.fe.Name()}); err != nil {
		return fmt.Errorf("failed to render frontend scaffold: %w", err)
	}
	b.logger.WithField("root", b.root).WithField("template", tmpl).Info("Frontend created")
	return nil
}

func (b *jsFrontend) Dev(ctx context.Context, port int) error {
	if _, err := os.Stat(filepath.Join(b.root, "node_modules")); errors.Is(err, fs.ErrNotExist) {
		b.deps.Reporter.Banner(fmt.Sprintf("Installing dependencies for %s", b.fe.Name()))
		if _, err := b.deps.Runner.Run(ctx, process.Command{
			Name:   b.deps.Toolchain.NPM,
			Args:   []string{"install"},
			Dir:    b.root,
			Stdout: b.deps.Stdout,
			Stderr: b.deps.Stderr,
		}); err != nil {
			return fmt.Errorf("failed to install dependencies of %s: %w", b.fe.Name(), err)
		}
	}

	if b.deps.Supervisor == nil {
		return errors.New("no process supervisor configured")
	}

	b.deps.Reporter.Banner(fmt.Sprintf("Starting %s on port %d", b.fe.Name(), port))
	if _, err := b.deps.Supervisor.Start(b.fe.Name(), process.Command{
		Name:   b.deps.Toolchain.NPM,
		Args:   []string{"run", "dev", "--", "--port", strconv.Itoa(port), "--strictPort"},
		Dir:    b.root,
		Stdout: b.deps.Stdout,
		Stderr: b.deps.Stderr,
	}); err != nil {
		return err
	}

	addr := process.LocalAddr(port)
	if err := b.deps.Readiness.Wait(ctx, addr); err != nil {
		return fmt.Errorf("frontend %s did not become ready on %s: %w", b.fe.Name(), addr, err)
	}

	b.logger.WithField("addr", addr).Info("Frontend ready")
	return nil
}
