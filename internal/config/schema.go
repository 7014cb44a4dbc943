// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for luaclaw.
package config

import (
	"github.com/luaclaw/luaclaw/internal/gateway"
	"github.com/luaclaw/luaclaw/internal/observability"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Workspace controls the directory the sandbox is rooted at.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Provider selects and configures the LLM backend.
	Provider ProviderConfig `yaml:"provider"`

	// Sandbox controls what Lua scripts are allowed to do.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Streaming enables incremental rendering of LLM responses.
	Streaming bool `yaml:"streaming"`

	// Macros maps @name shortcuts to replacement input text.
	Macros map[string]string `yaml:"macros,omitempty"`

	// Session configures the SQLite transcript recorder.
	Session SessionConfig `yaml:"session"`

	// Gateway configures the optional HTTP sidecar.
	Gateway GatewayConfig `yaml:"gateway"`

	// Scripts lists Lua scripts to run on a cron schedule.
	Scripts []ScriptConfig `yaml:"scripts,omitempty"`

	// Tracing configures the OTLP trace exporter.
	Tracing observability.TracingConfig `yaml:"tracing"`

	// Log controls slog output.
	Log LogConfig `yaml:"log"`
}

// WorkspaceConfig locates the sandbox root.
type WorkspaceConfig struct {
	// Root is the directory scripts may read (and, with allow_writes,
	// write). Empty means the current working directory.
	Root string `yaml:"root"`
}

// Provider kinds accepted by ProviderConfig.Kind.
const (
	ProviderStub   = "stub"
	ProviderOpenAI = "openai"
)

// ProviderConfig selects the LLM backend.
type ProviderConfig struct {
	// Kind is "openai" or "stub". The stub needs no credentials and
	// answers offline; useful for trying the loop out.
	Kind string `yaml:"kind"`

	// APIKey authenticates against the OpenAI-compatible endpoint.
	APIKey string `yaml:"api_key,omitempty"`

	// BaseURL overrides the endpoint. Empty means api.openai.com.
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the model identifier sent with each request.
	Model string `yaml:"model,omitempty"`

	// MaxTokens caps the completion size. Zero lets the server decide.
	MaxTokens int `yaml:"max_tokens,omitempty"`
}

// SandboxConfig controls script capabilities.
type SandboxConfig struct {
	// AllowWrites enables write_file/patch_file/run_command. When true,
	// LLM-requested scripts are queued for approval instead of running
	// immediately.
	AllowWrites bool `yaml:"allow_writes"`
}

// SessionConfig controls transcript persistence.
type SessionConfig struct {
	// Enabled turns recording on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file. Empty means
	// <workspace>/.luaclaw/session.db. Relative paths resolve against
	// the workspace root.
	Path string `yaml:"path,omitempty"`
}

// GatewayConfig wraps the sidecar settings with an enable switch.
type GatewayConfig struct {
	Enabled bool `yaml:"enabled"`

	gateway.Config `yaml:",inline"`
}

// ScriptConfig describes one scheduled Lua script.
type ScriptConfig struct {
	// Name identifies the job in logs and must be unique.
	Name string `yaml:"name"`

	// Schedule is a 5-field cron expression. Empty means every 5 minutes.
	Schedule string `yaml:"schedule,omitempty"`

	// Source is the Lua script body.
	Source string `yaml:"source"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// Default returns the configuration used when fields are absent.
func Default() *Config {
	return &Config{
		Version:   "1",
		Provider:  ProviderConfig{Kind: ProviderStub},
		Streaming: true,
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}
