package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/luaclaw/luaclaw/internal/agent"
	"github.com/luaclaw/luaclaw/internal/config"
	"github.com/luaclaw/luaclaw/internal/cron"
	"github.com/luaclaw/luaclaw/internal/gateway"
	"github.com/luaclaw/luaclaw/internal/observability"
	"github.com/luaclaw/luaclaw/internal/provider"
	"github.com/luaclaw/luaclaw/internal/provider/openai"
	"github.com/luaclaw/luaclaw/internal/quote"
	"github.com/luaclaw/luaclaw/internal/sandbox"
	"github.com/luaclaw/luaclaw/internal/session"
	"github.com/luaclaw/luaclaw/internal/workspace"
)

const shutdownGrace = 5 * time.Second

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the interactive agent loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			if cfgPath == "" {
				resolved, err := resolveConfigPath()
				if err != nil {
					return err
				}
				cfgPath = resolved
			}

			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := config.Resolve(cfg); err != nil {
				return err
			}
			return runLoop(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	return cmd
}

// runLoop wires the full agent: sandbox, provider, recorder, gateway,
// scheduler, and the REPL itself.
func runLoop(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := buildLogger(cfg.Log)
	metrics := observability.NewMetrics()

	tracing, err := observability.NewTracerSetup(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	ws, err := workspace.New(cfg.Workspace.Root)
	if err != nil {
		return err
	}
	quotes := quote.NewClient()

	// The gateway hub doubles as the set_context sink; without the
	// gateway, context updates stay inside the sandbox.
	var (
		hub  *gateway.Hub
		sink func(string)
	)
	if cfg.Gateway.Enabled {
		hub = gateway.NewHub(metrics, logger)
		sink = hub.Publish
	}

	buildExecutor := func(allowWrites bool) (*sandbox.Executor, error) {
		return sandbox.New(sandbox.Config{
			Workspace:   ws,
			AllowWrites: allowWrites,
			Quotes:      quotes,
			ContextSink: sink,
			Logger:      logger,
		})
	}
	executor, err := buildExecutor(cfg.Sandbox.AllowWrites)
	if err != nil {
		return err
	}
	defer executor.Close()

	llm, err := buildProvider(cfg.Provider, logger)
	if err != nil {
		return err
	}

	var recorder agent.Recorder
	if cfg.Session.Enabled {
		store, err := session.Open(cfg.Session.Path, cfg.Sandbox.AllowWrites)
		if err != nil {
			return err
		}
		defer store.Close()
		logger.Info("session recording enabled", "session_id", store.SessionID(), "path", cfg.Session.Path)
		recorder = store
	}

	loop, err := agent.New(agent.Config{
		Provider:        llm,
		Executor:        executor,
		AllowWrites:     cfg.Sandbox.AllowWrites,
		Streaming:       cfg.Streaming,
		Macros:          cfg.Macros,
		RebuildExecutor: buildExecutor,
		Recorder:        recorder,
		Metrics:         metrics,
		Tracer:          tracing.Tracer(),
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	if cfg.Gateway.Enabled {
		gw, err := gateway.New(cfg.Gateway.Config, hub, metrics, logger)
		if err != nil {
			return err
		}
		if err := gw.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := gw.Stop(shutdownCtx); err != nil {
				logger.Warn("gateway shutdown failed", "error", err)
			}
		}()
	}

	if len(cfg.Scripts) > 0 {
		sched := cron.NewScheduler(logger)
		for _, s := range cfg.Scripts {
			job := &cron.ScriptJob{
				JobName:      s.Name,
				ScheduleExpr: s.Schedule,
				Source:       s.Source,
				Submitter:    loop,
				Logger:       logger,
			}
			if err := sched.RegisterJob(job); err != nil {
				return err
			}
		}
		if err := sched.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := sched.Stop(shutdownCtx); err != nil {
				logger.Warn("scheduler shutdown failed", "error", err)
			}
		}()
	}

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildProvider(cfg config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Kind {
	case config.ProviderStub:
		return provider.NewStub(), nil
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
