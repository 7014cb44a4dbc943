package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode"
)

// Validate checks the structural validity of a Config. All problems are
// collected and returned joined so a broken file reports everything at once.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	errs = append(errs, validateProvider(cfg.Provider)...)
	errs = append(errs, validateMacros(cfg.Macros)...)
	errs = append(errs, validateGateway(cfg.Gateway)...)
	errs = append(errs, validateScripts(cfg.Scripts)...)

	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("config: tracing.sample_rate %v out of range [0, 1]", cfg.Tracing.SampleRate))
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not debug, info, warn, or error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not text or json", cfg.Log.Format))
	}

	return errors.Join(errs...)
}

func validateProvider(p ProviderConfig) []error {
	var errs []error
	switch p.Kind {
	case ProviderStub:
	case ProviderOpenAI:
		if p.APIKey == "" {
			errs = append(errs, errors.New("config: provider.api_key is required for kind \"openai\""))
		}
		if p.Model == "" {
			errs = append(errs, errors.New("config: provider.model is required for kind \"openai\""))
		}
	case "":
		errs = append(errs, errors.New("config: provider.kind is required"))
	default:
		errs = append(errs, fmt.Errorf("config: unknown provider.kind %q (supported: stub, openai)", p.Kind))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("config: provider.max_tokens must not be negative, got %d", p.MaxTokens))
	}
	return errs
}

// validateMacros rejects names the input dispatcher could never match:
// @name is read up to the first whitespace rune.
func validateMacros(macros map[string]string) []error {
	var errs []error
	for name := range macros {
		if name == "" {
			errs = append(errs, errors.New("config: macros: empty name"))
			continue
		}
		if strings.ContainsFunc(name, unicode.IsSpace) {
			errs = append(errs, fmt.Errorf("config: macros: name %q contains whitespace", name))
		}
	}
	return errs
}

func validateGateway(g GatewayConfig) []error {
	if !g.Enabled {
		return nil
	}
	var errs []error

	if g.Bind != "" {
		if _, _, err := net.SplitHostPort(g.Bind); err != nil {
			errs = append(errs, fmt.Errorf("config: gateway.bind %q is not host:port: %w", g.Bind, err))
		}
	}

	// Basic auth is both halves or neither.
	if (g.Auth.BasicUser == "") != (g.Auth.BasicPass == "") {
		errs = append(errs, errors.New("config: gateway.auth: basic_user and basic_pass must be set together"))
	}

	return errs
}

func validateScripts(scripts []ScriptConfig) []error {
	var errs []error
	seen := make(map[string]struct{}, len(scripts))
	for i, s := range scripts {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("config: scripts[%d]: name is required", i))
		} else if _, dup := seen[s.Name]; dup {
			errs = append(errs, fmt.Errorf("config: scripts[%d]: duplicate name %q", i, s.Name))
		} else {
			seen[s.Name] = struct{}{}
		}
		if strings.TrimSpace(s.Source) == "" {
			errs = append(errs, fmt.Errorf("config: scripts[%d]: source is required", i))
		}
		if s.Schedule != "" && len(strings.Fields(s.Schedule)) != 5 {
			errs = append(errs, fmt.Errorf("config: scripts[%d]: schedule %q is not a 5-field cron expression", i, s.Schedule))
		}
	}
	return errs
}
