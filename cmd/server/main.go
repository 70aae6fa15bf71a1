// Quantum Tasks - AI agent hub with wallet-based billing
package main

import (
	"context"
	"os"

	"github.com/thecyberlearn/quantum-tasks/internal/config"
	"github.com/thecyberlearn/quantum-tasks/internal/logging"
	"github.com/thecyberlearn/quantum-tasks/internal/server"
	"github.com/thecyberlearn/quantum-tasks/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting quantum-tasks",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"currency", cfg.Currency,
	)

	ctx := context.Background()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
		if err != nil {
			logger.Warn("failed to initialize tracing", "error", err)
		} else {
			srv.SetTraceShutdown(shutdown)
		}
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
