package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mu-project/mu-cli/pkg/engine"
	"github.com/mu-project/mu-cli/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the per-project directory holding orchestrator files.
	Dir = ".mu"

	// SettingsFile is the settings file name inside Dir.
	SettingsFile = "settings.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MU_"
)

// Settings tunes how mu drives the external toolchain. Every field has a
// default, so a project without a settings file works unchanged.
type Settings struct {
	Node      NodeSettings      `yaml:"node"`
	Readiness ReadinessSettings `yaml:"readiness"`
	Toolchain ToolchainSettings `yaml:"toolchain"`
	Frontend  FrontendSettings  `yaml:"frontend"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
	History   HistorySettings   `yaml:"history"`
}

// NodeSettings describes the shared local execution node.
type NodeSettings struct {
	// Command starts the node in the foreground.
	Command string   `yaml:"command" validate:"required"`
	Args    []string `yaml:"args"`

	// Port is polled on localhost until the node accepts connections.
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

// ReadinessSettings controls port polling.
type ReadinessSettings struct {
	Interval time.Duration `yaml:"interval" validate:"gt=0"`

	// Timeout of zero waits forever.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ToolchainSettings names the external programs mu invokes.
type ToolchainSettings struct {
	Cargo           string `yaml:"cargo" validate:"required"`
	CandidExtractor string `yaml:"candid_extractor" validate:"required"`
	DFX             string `yaml:"dfx" validate:"required"`
	Didc            string `yaml:"didc" validate:"required"`
	NPM             string `yaml:"npm" validate:"required"`
	Target          string `yaml:"target" validate:"required"`
}

// FrontendSettings controls frontend dev servers.
type FrontendSettings struct {
	// BasePort is the port of the first frontend; the i-th frontend gets BasePort+i.
	BasePort int `yaml:"base_port" validate:"min=1,max=65535"`
}

// HistorySettings controls the operation history database.
type HistorySettings struct {
	Enabled bool `yaml:"enabled"`

	// Path is relative to the project directory unless absolute.
	Path string `yaml:"path" validate:"required_if=Enabled true"`
}

// Default returns the built-in settings.
func Default() *Settings {
	return &Settings{
		Node: NodeSettings{
			Command: "dfx",
			Args:    []string{"start"},
			Port:    4943,
		},
		Readiness: ReadinessSettings{
			Interval: time.Second,
		},
		Toolchain: ToolchainSettings{
			Cargo:           "cargo",
			CandidExtractor: "candid-extractor",
			DFX:             "dfx",
			Didc:            "didc",
			NPM:             "npm",
			Target:          "wasm32-unknown-unknown",
		},
		Frontend: FrontendSettings{
			BasePort: 5173,
		},
		Telemetry: *telemetry.DefaultConfig(),
		History: HistorySettings{
			Enabled: true,
			Path:    filepath.Join(Dir, "history.db"),
		},
	}
}

// DefaultPath returns the settings file location for a project directory.
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, Dir, SettingsFile)
}

// Load reads settings for the project in projectDir. An empty path means the
// default location, which may be absent; an explicit path must exist.
// Environment overrides are applied last.
func Load(projectDir, path string) (*Settings, error) {
	return load(projectDir, path, os.LookupEnv)
}

func load(projectDir, path string, lookup func(string) (string, bool)) (*Settings, error) {
	s := Default()

	optional := path == ""
	if optional {
		path = DefaultPath(projectDir)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, engine.NewInvalidError(fmt.Sprintf("failed to parse %s", path), err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := applyEnv(s, lookup); err != nil {
		return nil, err
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section, including telemetry.
func (s *Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
			return engine.NewInvalidError("invalid settings: "+strings.Join(msgs, "; "), err).
				WithCode(engine.ErrCodeValidation)
		}
		return err
	}
	if err := s.Telemetry.Validate(); err != nil {
		return engine.NewInvalidError("invalid telemetry settings", err).WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// HistoryPath resolves the history database path against projectDir.
func (s *Settings) HistoryPath(projectDir string) string {
	if filepath.IsAbs(s.History.Path) {
		return s.History.Path
	}
	return filepath.Join(projectDir, s.History.Path)
}

// envBinding maps one MU_* variable onto a settings field.
type envBinding struct {
	name string
	set  func(s *Settings, v string) error
}

func stringVar(field func(*Settings) *string) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		*field(s) = v
		return nil
	}
}

func intVar(field func(*Settings) *int) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(s) = n
		return nil
	}
}

func boolVar(field func(*Settings) *bool) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(s) = b
		return nil
	}
}

func durationVar(field func(*Settings) *time.Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(s) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"NODE_COMMAND", stringVar(func(s *Settings) *string { return &s.Node.Command })},
	{"NODE_PORT", intVar(func(s *Settings) *int { return &s.Node.Port })},
	{"READINESS_INTERVAL", durationVar(func(s *Settings) *time.Duration { return &s.Readiness.Interval })},
	{"READINESS_TIMEOUT", durationVar(func(s *Settings) *time.Duration { return &s.Readiness.Timeout })},
	{"CARGO", stringVar(func(s *Settings) *string { return &s.Toolchain.Cargo })},
	{"CANDID_EXTRACTOR", stringVar(func(s *Settings) *string { return &s.Toolchain.CandidExtractor })},
	{"DFX", stringVar(func(s *Settings) *string { return &s.Toolchain.DFX })},
	{"DIDC", stringVar(func(s *Settings) *string { return &s.Toolchain.Didc })},
	{"NPM", stringVar(func(s *Settings) *string { return &s.Toolchain.NPM })},
	{"WASM_TARGET", stringVar(func(s *Settings) *string { return &s.Toolchain.Target })},
	{"FRONTEND_BASE_PORT", intVar(func(s *Settings) *int { return &s.Frontend.BasePort })},
	{"LOG_LEVEL", stringVar(func(s *Settings) *string { return &s.Telemetry.Logging.Level })},
	{"LOG_FORMAT", stringVar(func(s *Settings) *string { return &s.Telemetry.Logging.Format })},
	{"TRACE_EXPORTER", stringVar(func(s *Settings) *string { return &s.Telemetry.Tracing.Exporter })},
	{"TRACE_ENDPOINT", stringVar(func(s *Settings) *string { return &s.Telemetry.Tracing.Endpoint })},
	{"METRICS_ENABLED", boolVar(func(s *Settings) *bool { return &s.Telemetry.Metrics.Enabled })},
	{"METRICS_ADDRESS", stringVar(func(s *Settings) *string { return &s.Telemetry.Metrics.ListenAddress })},
	{"HISTORY_ENABLED", boolVar(func(s *Settings) *bool { return &s.History.Enabled })},
	{"HISTORY_PATH", stringVar(func(s *Settings) *string { return &s.History.Path })},
}

func applyEnv(s *Settings, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(s, v); err != nil {
			return engine.NewInvalidError(fmt.Sprintf("invalid %s%s=%q", EnvPrefix, b.name, v), err).
				WithCode(engine.ErrCodeValidation)
		}
	}
	return nil
}
