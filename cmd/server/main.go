// Command server runs the chat API configured only through ARASSIST_
// environment variables (and an optional .env file).
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/server"
)

func main() {
	cfg, logger, err := cliutils.LoadConfig("", "")
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := cliutils.BootstrapRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer rt.Close()
	rt.WatchAgents(ctx)

	api := &server.APIServer{
		Engine:      rt.Engine,
		Store:       rt.Store,
		Agents:      rt.Registry,
		Discoverer:  rt.Client,
		Gatherer:    rt.Prometheus,
		Logger:      logger.Named("api"),
		TurnTimeout: cfg.Server.TurnTimeout,
	}
	logger.Info("starting agentic API server",
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", cfg.LLM.Model),
	)
	if err := api.ServeContext(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", zap.Error(err))
	}
}
