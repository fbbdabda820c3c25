package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/pelletier/go-toml/v2"
)

// Load reads the project in dir.
//
// If either file is absent Load returns a nil project and a nil error so the
// caller can tell the user to run `mu init`. A config and state that disagree
// structurally yield an engine.ErrStructuralMismatch error.
func Load(dir string) (*Project, error) {
	cfgData, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
	}

	stData, err := os.ReadFile(filepath.Join(dir, StateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", StateFile, err)
	}

	var cfg Config
	if err := toml.Unmarshal(cfgData, &cfg); err != nil {
		return nil, engine.NewInvalidError(fmt.Sprintf("failed to parse %s", ConfigFile), err).
			WithOperation("load")
	}

	var st State
	if err := json.Unmarshal(stData, &st); err != nil {
		return nil, engine.NewCorruptionError(fmt.Sprintf("failed to parse %s", StateFile), err).
			WithOperation("load")
	}

	p, err := assemble(dir, cfg, st)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Save writes the config file and then the state file, each atomically.
func (p *Project) Save() error {
	cfgData, err := toml.Marshal(p.Config())
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ConfigFile, err)
	}

	stData, err := json.MarshalIndent(p.State(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", StateFile, err)
	}

	if err := writeFileAtomic(filepath.Join(p.Dir, ConfigFile), cfgData); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(p.Dir, StateFile), append(stData, '\n'))
}

// writeFileAtomic replaces path with data so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
