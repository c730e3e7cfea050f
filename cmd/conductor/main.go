// Command conductor runs the durable workflow engine as a daemon: it loads
// configuration, opens the database pool, starts the cron-driven scheduler,
// and blocks until asked to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"conductor/internal/engine"
	"conductor/internal/runtimeconfig"
	"conductor/internal/telemetry"
)

func main() {
	var configPath = flag.String("config", "", "Path to a YAML config file (optional, env vars still take precedence)")
	flag.Parse()

	var opts []runtimeconfig.Option
	if *configPath != "" {
		opts = append(opts, runtimeconfig.WithConfigPath(*configPath))
	}

	cfg, err := runtimeconfig.Load(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(telemetry.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting conductor",
		"port", cfg.Port,
		"scheduler_enabled", cfg.SchedulerEnabled,
		"llm_api_key", telemetry.SanitizeAPIKey(cfg.LLMAPIKey))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, cfg, engine.Options{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init engine: %v\n", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	if cfg.SchedulerEnabled {
		go func() { errCh <- eng.Run(ctx) }()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	case <-quit:
		logger.Info("shutting down")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
		os.Exit(1)
	}
}
