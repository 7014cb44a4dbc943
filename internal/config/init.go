package config

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"gopkg.in/yaml.v3"
)

// ErrInitAborted is returned when the user quits the init form.
var ErrInitAborted = errors.New("config: init aborted")

// InitForm interactively collects a starter configuration. The result
// passes Validate; Encode turns it into a YAML file.
func InitForm() (*Config, error) {
	cfg := Default()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Options(
					huh.NewOption("OpenAI-compatible API", ProviderOpenAI),
					huh.NewOption("Offline stub (no network)", ProviderStub),
				).
				Value(&cfg.Provider.Kind),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("api_key is required")
					}
					return nil
				}).
				Value(&cfg.Provider.APIKey),
			huh.NewInput().
				Title("Model").
				Placeholder("gpt-4o").
				Validate(func(s string) error {
					if s == "" {
						return errors.New("model is required")
					}
					return nil
				}).
				Value(&cfg.Provider.Model),
			huh.NewInput().
				Title("Base URL (blank for api.openai.com)").
				Value(&cfg.Provider.BaseURL),
		).WithHideFunc(func() bool { return cfg.Provider.Kind != ProviderOpenAI }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Allow scripts to write files and run commands?").
				Description("Write-capable LLM scripts are queued for approval.").
				Value(&cfg.Sandbox.AllowWrites),
			huh.NewConfirm().
				Title("Stream LLM responses?").
				Value(&cfg.Streaming),
			huh.NewConfirm().
				Title("Record the session to SQLite?").
				Value(&cfg.Session.Enabled),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Expose the HTTP gateway (healthz, metrics, context feed)?").
				Value(&cfg.Gateway.Enabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway bind address").
				Placeholder("127.0.0.1:8420").
				Value(&cfg.Gateway.Bind),
		).WithHideFunc(func() bool { return !cfg.Gateway.Enabled }),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil, ErrInitAborted
		}
		return nil, fmt.Errorf("config: init form: %w", err)
	}

	return cfg, nil
}

// Encode renders a Config as YAML.
func Encode(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: encoding: %w", err)
	}
	return out, nil
}
