package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mu-project/mu-cli/pkg/engine"
)

const (
	// ConfigFile holds the declarative project description.
	ConfigFile = "mu.toml"

	// StateFile holds the facts derived by build and deploy.
	StateFile = "mu.state.json"

	// FunctionsDir is the parent directory of every function root.
	FunctionsDir = "functions"

	// FrontendsDir is the parent directory of every frontend root.
	FrontendsDir = "frontends"

	// DefaultVersion is the version of a freshly initialized project.
	DefaultVersion = "0.1.0"

	// DefaultDescription is the description of a freshly initialized project.
	DefaultDescription = "A new Mu project"
)

// NoProjectMessage is shown when a command needs a project and none exists.
const NoProjectMessage = "No project found. Run `mu init` first."

// Project is the runtime aggregate of metadata, functions and frontends.
//
// A Project is not safe for concurrent mutation; the orchestrator loop is its only writer.
type Project struct {
	// Dir is the project root. It is not persisted.
	Dir string

	Metadata  Metadata
	Functions []*Function
	Frontends []*Frontend
}

// New returns an empty project rooted at dir with default metadata.
func New(dir, name string) *Project {
	return &Project{
		Dir: dir,
		Metadata: Metadata{
			Name:        name,
			Version:     DefaultVersion,
			Description: DefaultDescription,
		},
		Functions: make([]*Function, 0),
		Frontends: make([]*Frontend, 0),
	}
}

// Init creates a new project in dir and persists it.
// An existing project in dir is overwritten.
func Init(dir, name string) (*Project, error) {
	p := New(dir, name)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := p.Save(); err != nil {
		return nil, err
	}
	return p, nil
}

// Exists reports whether dir contains either project file.
func Exists(dir string) bool {
	for _, name := range []string{ConfigFile, StateFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// Require loads the project in dir and reports a missing project as an error.
func Require(dir string) (*Project, error) {
	p, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, engine.NewMissingProjectError(NoProjectMessage)
	}
	return p, nil
}

// FunctionRoot returns the directory of function f.
func (p *Project) FunctionRoot(f *Function) string {
	return filepath.Join(p.Dir, FunctionsDir, f.Name())
}

// FrontendRoot returns the directory of frontend f.
func (p *Project) FrontendRoot(f *Frontend) string {
	return filepath.Join(p.Dir, FrontendsDir, f.Name())
}

// Function returns the function with the given name.
func (p *Project) Function(name string) (*Function, bool) {
	for _, f := range p.Functions {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// Frontend returns the frontend with the given name.
func (p *Project) Frontend(name string) (*Frontend, bool) {
	for _, f := range p.Frontends {
		if f.Name() == name {
			return f, true
		}
	}
	return nil, false
}

// AddFunction appends a function with empty derived state.
func (p *Project) AddFunction(name string, fnType FunctionType) (*Function, error) {
	if _, ok := p.Function(name); ok {
		return nil, engine.NewInvalidError(fmt.Sprintf("function %q already exists", name), nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithUnit(name)
	}

	fn := NewFunction(name, fnType)
	if err := validateStruct(fn.Config); err != nil {
		return nil, err
	}
	p.Functions = append(p.Functions, fn)
	return fn, nil
}

// AddFrontend appends a frontend.
func (p *Project) AddFrontend(name string, template FrontendTemplate) (*Frontend, error) {
	if _, ok := p.Frontend(name); ok {
		return nil, engine.NewInvalidError(fmt.Sprintf("frontend %q already exists", name), nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithUnit(name)
	}

	fe := &Frontend{Config: FrontendConfig{Name: name, Template: template}}
	if err := validateStruct(fe.Config); err != nil {
		return nil, err
	}
	p.Frontends = append(p.Frontends, fe)
	return fe, nil
}

// RemoveFunction drops the named function from config and state together.
// It reports whether the function existed.
func (p *Project) RemoveFunction(name string) bool {
	for i, f := range p.Functions {
		if f.Name() == name {
			p.Functions = append(p.Functions[:i], p.Functions[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFrontend drops the named frontend.
func (p *Project) RemoveFrontend(name string) bool {
	for i, f := range p.Frontends {
		if f.Name() == name {
			p.Frontends = append(p.Frontends[:i], p.Frontends[i+1:]...)
			return true
		}
	}
	return false
}

// Config returns the declarative half of the project.
func (p *Project) Config() Config {
	cfg := Config{
		Metadata:  p.Metadata,
		Functions: make([]FunctionConfig, len(p.Functions)),
		Frontends: make([]FrontendConfig, len(p.Frontends)),
	}
	for i, f := range p.Functions {
		cfg.Functions[i] = f.Config
	}
	for i, f := range p.Frontends {
		cfg.Frontends[i] = f.Config
	}
	return cfg
}

// State returns the derived half of the project.
func (p *Project) State() State {
	st := State{Functions: make([]FunctionState, len(p.Functions))}
	for i, f := range p.Functions {
		st.Functions[i] = f.State
	}
	return st
}

// assemble pairs configs with states by position and verifies each pair by name and type.
func assemble(dir string, cfg Config, st State) (*Project, error) {
	if len(cfg.Functions) != len(st.Functions) {
		return nil, engine.NewCorruptionError(
			fmt.Sprintf("%s lists %d functions but %s lists %d", ConfigFile, len(cfg.Functions), StateFile, len(st.Functions)), nil).
			WithCode(engine.ErrCodeLengthMismatch).
			WithOperation("load")
	}

	p := &Project{
		Dir:       dir,
		Metadata:  cfg.Metadata,
		Functions: make([]*Function, 0, len(cfg.Functions)),
		Frontends: make([]*Frontend, 0, len(cfg.Frontends)),
	}

	for i, fc := range cfg.Functions {
		fs := st.Functions[i]
		if fc.Name != fs.Name {
			return nil, engine.NewCorruptionError(
				fmt.Sprintf("function %d is %q in %s but %q in %s", i, fc.Name, ConfigFile, fs.Name, StateFile), nil).
				WithCode(engine.ErrCodeNameMismatch).
				WithUnit(fc.Name).
				WithOperation("load")
		}
		if fc.Type != fs.Backend.Type {
			return nil, engine.NewCorruptionError(
				fmt.Sprintf("function %q is %s in %s but %s in %s", fc.Name, fc.Type, ConfigFile, fs.Backend.Type, StateFile), nil).
				WithCode(engine.ErrCodeTypeMismatch).
				WithUnit(fc.Name).
				WithOperation("load")
		}
		p.Functions = append(p.Functions, &Function{Config: fc, State: fs})
	}

	for _, fc := range cfg.Frontends {
		p.Frontends = append(p.Frontends, &Frontend{Config: fc})
	}

	return p, nil
}
