package cmd

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

	"github.com/nextlevelbuilder/botparty/internal/agent"
	"github.com/nextlevelbuilder/botparty/internal/channels"
	"github.com/nextlevelbuilder/botparty/internal/channels/discord"
	"github.com/nextlevelbuilder/botparty/internal/channels/slack"
	"github.com/nextlevelbuilder/botparty/internal/channels/telegram"
	"github.com/nextlevelbuilder/botparty/internal/config"
	"github.com/nextlevelbuilder/botparty/internal/logging"
	"github.com/nextlevelbuilder/botparty/internal/store"
	"github.com/nextlevelbuilder/botparty/internal/store/sqlite"
	"github.com/nextlevelbuilder/botparty/internal/tracing"
)

type runOptions struct {
	watch bool
	only  []string
}

func runCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFleet(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "restart the fleet when the config or secrets file changes")
	cmd.Flags().StringSliceVar(&opts.only, "only", nil, "run only these agent keys")
	return cmd
}

func newLoader() *channels.InstanceLoader {
	loader := channels.NewInstanceLoader()
	loader.RegisterFactory(config.PlatformSlack, slack.Factory)
	loader.RegisterFactory(config.PlatformDiscord, discord.Factory)
	loader.RegisterFactory(config.PlatformTelegram, telegram.Factory)
	return loader
}

func loadConfig(only []string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(), resolveSecretsPath())
	if err != nil {
		return nil, err
	}
	if len(only) > 0 {
		keep := make(map[string]config.AgentSettings, len(only))
		for _, key := range only {
			spec, ok := cfg.Agents[key]
			if !ok {
				return nil, fmt.Errorf("agent %q not found in %s", key, resolveConfigPath())
			}
			keep[key] = spec
		}
		cfg.Agents = keep
	}
	return cfg, nil
}

func runFleet(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	base := logging.Setup(os.Stdout, verbose)

	cfg, err := loadConfig(opts.only)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	var ids store.SessionIDStore
	if cfg.Sessions.Storage != "" {
		db, err := sqlite.Open(cfg.Sessions.Storage)
		if err != nil {
			slog.Error("failed to open session store", "path", cfg.Sessions.Storage, "error", err)
			return err
		}
		defer db.Close()
		ids = db
		slog.Info("session ids persisted", "path", cfg.Sessions.Storage)
	}

	loggers := logging.NewAgentLoggers(base, cfg.Logging, logging.Level(verbose))
	defer loggers.Close()

	loader := newLoader()
	if !opts.watch {
		return runGeneration(ctx, cfg, loader, loggers, ids)
	}

	reload := make(chan struct{}, 1)
	go func() {
		err := config.Watch(ctx, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		}, resolveConfigPath(), resolveSecretsPath())
		if err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	for {
		genCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- runGeneration(genCtx, cfg, loader, loggers, ids) }()

		var next *config.Config
	wait:
		for {
			select {
			case err := <-done:
				cancel()
				return err
			case <-reload:
				fresh, err := loadConfig(opts.only)
				if err != nil {
					slog.Warn("config reload failed, keeping current fleet", "error", err)
					continue
				}
				if fresh.Hash() == cfg.Hash() {
					slog.Debug("config unchanged, skipping reload")
					continue
				}
				next = fresh
				break wait
			}
		}

		slog.Info("config changed, restarting fleet")
		cancel()
		if err := <-done; err != nil && !errors.Is(err, agent.ErrShutdownTimeout) {
			slog.Warn("previous fleet stopped with error", "error", err)
		}
		cfg = next
	}
}

func runGeneration(ctx context.Context, cfg *config.Config, loader *channels.InstanceLoader,
	loggers *logging.AgentLoggers, ids store.SessionIDStore) error {

	sup := agent.NewSupervisor(agent.SupervisorConfig{
		Config:   cfg,
		Loader:   loader,
		Loggers:  loggers.For,
		Sessions: ids,
	})
	if errs := sup.Build(); len(errs) > 0 {
		slog.Warn("some agents were skipped", "count", len(errs))
	}

	slog.Info("botparty started", "agents", len(sup.Agents()), "version", Version)
	err := sup.Run(ctx)
	switch {
	case errors.Is(err, agent.ErrShutdownTimeout):
		slog.Warn("shutdown grace period elapsed, exiting anyway", "grace", cfg.ShutdownGrace())
		return nil
	case err != nil:
		slog.Error("botparty stopped", "error", err)
		return err
	}
	slog.Info("botparty stopped")
	return nil
}
