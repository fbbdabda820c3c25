// Package scaffold renders the embedded unit templates into a destination tree.
//
// A template is a directory under templates/. Files ending in .tmpl are executed
// with text/template and the sprig function map, then written without the suffix;
// every other file is copied verbatim. Path segments are templated too, and a
// leading underscore becomes a dot so dotfiles survive embedding.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/rs/zerolog"
)

//go:embed all:templates
var templatesFS embed.FS

const (
	// TemplateICPFunction is the scaffold for an ICP function.
	TemplateICPFunction = "icp/function"

	// TemplateJSVanilla is the scaffold for a vanilla JavaScript frontend.
	TemplateJSVanilla = "js/vanilla"

	templateSuffix = ".tmpl"
)

// Values is the data available to templates as {{ .Key }}.
type Values map[string]interface{}

// Renderer writes a named template into a destination directory.
type Renderer interface {
	Render(name, dest string, values Values) ([]string, error)
}

// FSRenderer renders templates from an fs.FS rooted at the template directory.
type FSRenderer struct {
	fsys   fs.FS
	logger zerolog.Logger
}

// New returns a renderer over the embedded templates.
func New(logger zerolog.Logger) *FSRenderer {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(fmt.Sprintf("embedded templates: %v", err))
	}
	return NewFS(sub, logger)
}

// NewFS returns a renderer over fsys.
func NewFS(fsys fs.FS, logger zerolog.Logger) *FSRenderer {
	return &FSRenderer{
		fsys:   fsys,
		logger: logger.With().Str("component", "scaffold").Logger(),
	}
}

// Templates lists the available template names as <backend>/<kind>.
func (r *FSRenderer) Templates() ([]string, error) {
	backends, err := fs.ReadDir(r.fsys, ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, b := range backends {
		if !b.IsDir() {
			continue
		}
		kinds, err := fs.ReadDir(r.fsys, b.Name())
		if err != nil {
			return nil, err
		}
		for _, k := range kinds {
			if k.IsDir() {
				names = append(names, b.Name()+"/"+k.Name())
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Render writes template name into dest and returns the written paths relative to dest.
func (r *FSRenderer) Render(name, dest string, values Values) ([]string, error) {
	if _, err := fs.Stat(r.fsys, name); err != nil {
		return nil, engine.NewUnsupportedError(fmt.Sprintf("template %q is not available", name)).
			WithCode(engine.ErrCodeNotFound)
	}

	var written []string
	err := fs.WalkDir(r.fsys, name, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel := strings.TrimPrefix(p, name+"/")
		target, err := r.targetPath(rel, values)
		if err != nil {
			return err
		}

		data, err := fs.ReadFile(r.fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", p, err)
		}

		if strings.HasSuffix(rel, templateSuffix) {
			data, err = execute(p, string(data), values)
			if err != nil {
				return err
			}
		}

		out := filepath.Join(dest, filepath.FromSlash(target))
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", out, err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		written = append(written, target)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("template", name).
		Str("dest", dest).
		Int("files", len(written)).
		Msg("Template rendered")

	return written, nil
}

// targetPath renders each path segment, strips the template suffix and restores dotfiles.
func (r *FSRenderer) targetPath(rel string, values Values) (string, error) {
	segments := strings.Split(strings.TrimSuffix(rel, templateSuffix), "/")
	for i, seg := range segments {
		if strings.Contains(seg, "{{") {
			out, err := execute(rel, seg, values)
			if err != nil {
				return "", err
			}
			seg = string(out)
		}
		if strings.HasPrefix(seg, "_") {
			seg = "." + seg[1:]
		}
		segments[i] = seg
	}
	return path.Join(segments...), nil
}

func execute(name, text string, values Values) ([]byte, error) {
	tmpl, err := template.New(name).
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]interface{}(values)); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
