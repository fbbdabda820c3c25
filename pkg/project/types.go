package project

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mu-project/mu-cli/pkg/engine"
)

// FunctionType is the backend kind of a function.
type FunctionType string

const (
	// FunctionTypeICP targets the Internet Computer.
	FunctionTypeICP FunctionType = "icp"

	// FunctionTypeSolana is reserved; it has no backend implementation.
	FunctionTypeSolana FunctionType = "solana"
)

// FunctionTypes lists every known function type.
var FunctionTypes = []FunctionType{FunctionTypeICP, FunctionTypeSolana}

// ParseFunctionType parses a case-insensitive function type name.
func ParseFunctionType(s string) (FunctionType, error) {
	for _, t := range FunctionTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", engine.NewInvalidError(fmt.Sprintf("unknown function type %q (expected one of %s)", s, joinTypes(FunctionTypes)), nil).
		WithCode(engine.ErrCodeValidation)
}

// FrontendTemplate is the scaffold a frontend was created from.
type FrontendTemplate string

const (
	FrontendTemplateVanilla FrontendTemplate = "vanilla"
	FrontendTemplateReact   FrontendTemplate = "react"
	FrontendTemplateVue     FrontendTemplate = "vue"
)

// FrontendTemplates lists every known frontend template.
var FrontendTemplates = []FrontendTemplate{FrontendTemplateVanilla, FrontendTemplateReact, FrontendTemplateVue}

// ParseFrontendTemplate parses a case-insensitive template name.
func ParseFrontendTemplate(s string) (FrontendTemplate, error) {
	for _, t := range FrontendTemplates {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", engine.NewInvalidError(fmt.Sprintf("unknown frontend template %q (expected one of %s)", s, joinTypes(FrontendTemplates)), nil).
		WithCode(engine.ErrCodeValidation)
}

func joinTypes[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// Metadata describes the project itself.
type Metadata struct {
	Name        string `toml:"name" validate:"required"`
	Version     string `toml:"version" validate:"required"`
	Description string `toml:"description"`
}

// FunctionConfig is the declarative part of a function, persisted in mu.toml.
type FunctionConfig struct {
	Name string       `toml:"name" validate:"required,unitname"`
	Type FunctionType `toml:"fn_type" validate:"required,oneof=icp solana"`
}

// FrontendConfig is the declarative part of a frontend, persisted in mu.toml.
type FrontendConfig struct {
	Name     string           `toml:"name" validate:"required,unitname"`
	Template FrontendTemplate `toml:"template" validate:"required,oneof=vanilla react vue"`
}

// Config is the on-disk shape of mu.toml.
type Config struct {
	Functions []FunctionConfig `toml:"functions,omitempty" validate:"dive"`
	Frontends []FrontendConfig `toml:"frontends,omitempty" validate:"dive"`
	Metadata  Metadata         `toml:"metadata"`
}

// State is the on-disk shape of mu.state.json.
type State struct {
	Functions []FunctionState `json:"functions"`
}

// FunctionState holds the facts derived by building and deploying a function.
type FunctionState struct {
	Name    string       `json:"name"`
	Backend BackendState `json:"backend_state"`
}

// NewFunctionState returns an empty state for a function of the given type.
func NewFunctionState(name string, fnType FunctionType) FunctionState {
	st := FunctionState{
		Name:    name,
		Backend: BackendState{Type: fnType},
	}
	switch fnType {
	case FunctionTypeICP:
		st.Backend.ICP = &ICPState{}
	case FunctionTypeSolana:
		st.Backend.Solana = &SolanaState{}
	}
	return st
}

// BackendState is a tagged union of backend-specific facts, keyed by Type.
type BackendState struct {
	Type   FunctionType
	ICP    *ICPState
	Solana *SolanaState
}

// ICPState holds the facts derived for an ICP function. All fields start unset.
type ICPState struct {
	// DID is the Candid interface description extracted from the compiled module.
	DID *string `json:"did"`

	// CanisterID is the locally assigned canister id.
	CanisterID *string `json:"canister_id"`

	// JSBindings is the generated JavaScript client for DID.
	JSBindings *string `json:"js_bindings"`
}

// SolanaState is a placeholder for the unimplemented Solana backend.
type SolanaState struct {
	Name string `json:"name"`
}

// MarshalJSON flattens the variant next to its "type" tag.
func (b BackendState) MarshalJSON() ([]byte, error) {
	switch b.Type {
	case FunctionTypeICP:
		icp := b.ICP
		if icp == nil {
			icp = &ICPState{}
		}
		return json.Marshal(struct {
			Type FunctionType `json:"type"`
			*ICPState
		}{b.Type, icp})
	case FunctionTypeSolana:
		sol := b.Solana
		if sol == nil {
			sol = &SolanaState{}
		}
		return json.Marshal(struct {
			Type FunctionType `json:"type"`
			*SolanaState
		}{b.Type, sol})
	default:
		return nil, fmt.Errorf("unknown backend state type %q", b.Type)
	}
}

// UnmarshalJSON reads the "type" tag and decodes the matching variant.
func (b *BackendState) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type FunctionType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	*b = BackendState{Type: tag.Type}
	switch tag.Type {
	case FunctionTypeICP:
		b.ICP = &ICPState{}
		return json.Unmarshal(data, b.ICP)
	case FunctionTypeSolana:
		b.Solana = &SolanaState{}
		return json.Unmarshal(data, b.Solana)
	default:
		return fmt.Errorf("unknown backend state type %q", tag.Type)
	}
}

// Function pairs a function's config with its derived state.
type Function struct {
	Config FunctionConfig
	State  FunctionState
}

// NewFunction creates a function with empty derived state.
func NewFunction(name string, fnType FunctionType) *Function {
	return &Function{
		Config: FunctionConfig{Name: name, Type: fnType},
		State:  NewFunctionState(name, fnType),
	}
}

// Name returns the function name.
func (f *Function) Name() string {
	return f.Config.Name
}

// Frontend is a web client unit. It has no derived state.
type Frontend struct {
	Config FrontendConfig
}

// Name returns the frontend name.
func (f *Frontend) Name() string {
	return f.Config.Name
}
