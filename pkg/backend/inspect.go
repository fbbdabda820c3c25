package backend

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
)

// Exported function name prefixes the IC uses for canister entry points.
const (
	queryPrefix  = "canister_query "
	updatePrefix = "canister_update "
)

// Artifact describes a compiled module.
type Artifact struct {
	Path    string
	Size    int
	Exports []string

	// Queries and Updates are the canister methods, without their entry-point prefix.
	Queries []string
	Updates []string
}

// ArtifactInspector validates a compiled module before its interface is extracted.
type ArtifactInspector interface {
	Inspect(ctx context.Context, path string) (*Artifact, error)
}

// WasmInspector decodes modules with the wazero compiler without instantiating them.
type WasmInspector struct {
	logger zerolog.Logger
}

// NewWasmInspector creates a new WasmInspector.
func NewWasmInspector(logger zerolog.Logger) *WasmInspector {
	return &WasmInspector{
		logger: logger.With().Str("component", "inspector").Logger(),
	}
}

// Inspect compiles the module at path and lists its exports.
func (w *WasmInspector) Inspect(ctx context.Context, path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewSubprocessError(fmt.Sprintf("compiled module %s not found", path), err).
			WithCode(engine.ErrCodeInvalidArtifact)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, data)
	if err != nil {
		return nil, engine.NewInvalidError(fmt.Sprintf("%s is not a valid WebAssembly module", path), err).
			WithCode(engine.ErrCodeInvalidArtifact)
	}
	defer compiled.Close(ctx)

	art := &Artifact{Path: path, Size: len(data)}
	for name := range compiled.ExportedFunctions() {
		art.Exports = append(art.Exports, name)
		switch {
		case strings.HasPrefix(name, queryPrefix):
			art.Queries = append(art.Queries, strings.TrimPrefix(name, queryPrefix))
		case strings.HasPrefix(name, updatePrefix):
			art.Updates = append(art.Updates, strings.TrimPrefix(name, updatePrefix))
		}
	}
	sort.Strings(art.Exports)
	sort.Strings(art.Queries)
	sort.Strings(art.Updates)

	w.logger.Debug().
		Str("path", path).
		Int("size", art.Size).
		Strs("queries", art.Queries).
		Strs("updates", art.Updates).
		Msg("Module inspected")

	return art, nil
}
