// Command arassist runs the accounts-receivable assistant: an HTTP/SSE API,
// one-shot questions, an interactive terminal chat and thread maintenance.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/config"
)

var (
	flagConfig   string
	flagLogLevel string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "arassist",
		Short:         "Accounts-receivable assistant over remote agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ./arassist.yaml if present)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Override log.level")

	root.AddCommand(newServeCmd(), newAskCmd(), newChatCmd(), newAgentsCmd(), newThreadsCmd())
	return root
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	return cliutils.LoadConfig(flagConfig, flagLogLevel)
}

// withRuntime loads configuration, builds the runtime and tears it down
// after fn returns.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *cliutils.Runtime) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	return runWith(cmd.Context(), cfg, logger, fn)
}

func runWith(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(ctx context.Context, rt *cliutils.Runtime) error) error {
	rt, err := cliutils.BootstrapRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()
	return fn(ctx, rt)
}
