// Package main is the entry point for the luaclaw CLI.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/luaclaw/luaclaw/internal/config"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "luaclaw",
		Short:         "An LLM coding agent whose only tool is a sandboxed Lua interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), startCmd(), configCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("luaclaw %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}

	check := &cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK (provider: %s)\n", cfg.Provider.Kind)
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Interactively create a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "luaclaw.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg, err := config.InitForm()
			if err != nil {
				if errors.Is(err, config.ErrInitAborted) {
					return nil
				}
				return err
			}
			out, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, out, 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	show := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				path = resolved
			}
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			if cfg.Provider.APIKey != "" {
				cfg.Provider.APIKey = "[REDACTED]"
			}
			if cfg.Gateway.Auth.BearerToken != "" {
				cfg.Gateway.Auth.BearerToken = "[REDACTED]"
			}
			if cfg.Gateway.Auth.BasicPass != "" {
				cfg.Gateway.Auth.BasicPass = "[REDACTED]"
			}
			out, err := config.Encode(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}

	cmd.AddCommand(check, initCmd, show)
	return cmd
}

// loadConfig reads and validates a config file.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/luaclaw/luaclaw.yaml → ./luaclaw.yaml
func resolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "luaclaw", "luaclaw.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "luaclaw", "luaclaw.yaml"))
	}

	candidates = append(candidates, "luaclaw.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}
