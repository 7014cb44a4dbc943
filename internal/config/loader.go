package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// envPattern recognizes ${VAR} and ${VAR:-fallback} placeholders. The
// fallback may contain any character except an unescaped closing brace.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads the YAML file at path and decodes it on top of Default(), so
// keys the file omits keep their defaults. Environment placeholders are
// substituted before decoding; a ${VAR} with no value and no fallback
// fails the load rather than slipping through as a literal.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return cfg, nil
}

// expandEnv substitutes every placeholder in one pass and reports all
// unresolved names together, so a file with several missing variables
// surfaces them in a single run.
func expandEnv(raw []byte) ([]byte, error) {
	var unresolved []error

	expanded := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(groups[1])); ok {
			return []byte(value)
		}
		if fallback := groups[2]; fallback != nil {
			return fallback
		}
		unresolved = append(unresolved, fmt.Errorf("unresolved variable: %s", groups[1]))
		return match
	})

	return expanded, errors.Join(unresolved...)
}
