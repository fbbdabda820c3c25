package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/tidwall/gjson"
)

const (
	// ManifestFile is the dfx project manifest in every ICP function root.
	ManifestFile = "dfx.json"

	// CanisterIDsFile is written by `dfx deploy`, relative to the function root.
	CanisterIDsFile = ".dfx/local/canister_ids.json"

	// LocalNetwork is the only network mu deploys to.
	LocalNetwork = "local"

	manifestVersion = 1
)

// Manifest is the dfx.json of one ICP function.
type Manifest struct {
	Canisters     map[string]Canister `json:"canisters"`
	Defaults      ManifestDefaults    `json:"defaults"`
	OutputEnvFile string              `json:"output_env_file"`
	Version       int                 `json:"version"`
}

// Canister is one deployable artifact of a manifest.
type Canister struct {
	Candid  string `json:"candid"`
	Package string `json:"package"`
	Type    string `json:"type"`
}

// ManifestDefaults holds the manifest-wide build defaults.
type ManifestDefaults struct {
	Build BuildDefaults `json:"build"`
}

// BuildDefaults are dfx build defaults.
type BuildDefaults struct {
	Args     string `json:"args"`
	Packtool string `json:"packtool"`
}

// NewManifest returns the manifest naming exactly one Rust canister called name.
func NewManifest(name string) Manifest {
	return Manifest{
		Canisters: map[string]Canister{
			name: {
				Candid:  name + ".did",
				Package: name,
				Type:    "rust",
			},
		},
		OutputEnvFile: ".env",
		Version:       manifestVersion,
	}
}

// WriteManifest writes the manifest for name into root.
func WriteManifest(root, name string) error {
	data, err := json.MarshalIndent(NewManifest(name), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ManifestFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, ManifestFile), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ManifestFile, err)
	}
	return nil
}

// ReadCanisterID returns the local canister id of name from the id-mapping file under root.
func ReadCanisterID(root, name string) (string, error) {
	path := filepath.Join(root, filepath.FromSlash(CanisterIDsFile))
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", engine.NewSubprocessError(fmt.Sprintf("deploy did not produce %s", CanisterIDsFile), err).
			WithCode(engine.ErrCodeMissingCanisterID).
			WithUnit(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	if !gjson.ValidBytes(data) {
		return "", engine.NewSubprocessError(fmt.Sprintf("%s is not valid JSON", CanisterIDsFile), nil).
			WithCode(engine.ErrCodeMissingCanisterID).
			WithUnit(name)
	}

	id := gjson.GetBytes(data, gjson.Escape(name)+"."+LocalNetwork)
	if !id.Exists() || id.Type != gjson.String || id.Str == "" {
		return "", engine.NewSubprocessError(fmt.Sprintf("%s has no %s id for %q", CanisterIDsFile, LocalNetwork, name), nil).
			WithCode(engine.ErrCodeMissingCanisterID).
			WithUnit(name)
	}
	return id.Str, nil
}
