package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AstroMined/settings-extension-sub002/internal/authority"
	"github.com/AstroMined/settings-extension-sub002/internal/bus"
	"github.com/AstroMined/settings-extension-sub002/internal/config"
	"github.com/AstroMined/settings-extension-sub002/internal/logging"
	"github.com/AstroMined/settings-extension-sub002/internal/queue"
	"github.com/AstroMined/settings-extension-sub002/internal/registry"
	"github.com/AstroMined/settings-extension-sub002/internal/schema"
	"github.com/AstroMined/settings-extension-sub002/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authority daemon",
	Long: `Run the authority daemon.

The authority seeds schema defaults on first run, owns the durable store,
answers requests from connected contexts and relays committed changes to
every live context.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context, cfg config.Config) error {
	logger, err := logging.Init(logging.Config{
		Enabled:  cfg.LoggingEnabled,
		Level:    cfg.LoggingLevel,
		Dir:      cfg.LoggingDir,
		MaxFiles: cfg.LoggingMaxFiles,
		PID:      os.Getpid(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Shutdown()

	sch, err := loadSchema(cfg)
	if err != nil {
		return err
	}

	st, err := sqlite.New(cfg.StorePath, sqlite.Options{
		QuotaBytes:    cfg.QuotaBytes,
		MaxValueBytes: cfg.MaxValueBytes,
		PollInterval:  cfg.PollInterval(),
	})
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(st, queue.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BackoffBase(),
		MaxDelay:    cfg.BackoffMax(),
	}, logger)
	defer q.Close()

	hub := bus.New(logger)
	reg, err := registry.New(registry.Options{
		Queue:          q,
		Schema:         sch,
		Store:          st,
		DebounceWindow: cfg.DebounceWindow(),
		Publisher:      hub,
		Logger:         logger,
		OnFlushResult: func(err error) {
			if err != nil {
				logger.Error("settings save failed", "error", err)
			}
		},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := authority.Seed(ctx, q, sch, logger); err != nil {
		return err
	}
	if err := reg.Initialize(ctx); err != nil {
		return err
	}
	defer reg.Dispose()

	auth := authority.New(reg, hub, logger)
	addr, err := auth.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}
	logger.Info("authority listening", "addr", addr, "store", cfg.StorePath)

	errCh := make(chan error, 1)
	go func() { errCh <- auth.Serve() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Commit whatever is still pending before the queue goes away.
	if err := reg.FlushNow(shutdownCtx); err != nil {
		logger.Error("final flush failed", "error", err)
	}
	return auth.Shutdown(shutdownCtx)
}

func loadSchema(cfg config.Config) (*schema.Schema, error) {
	if cfg.SchemaPath == "" {
		return schema.Default()
	}
	data, err := os.ReadFile(cfg.SchemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return schema.Load(data)
}
