package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/tui"
)

func newChatCmd() *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			// Log lines would corrupt the alternate screen; telemetry.file
			// still records graph events.
			logger := zap.NewNop()
			return runWith(cmd.Context(), cfg, logger, func(ctx context.Context, rt *cliutils.Runtime) error {
				rt.WatchAgents(ctx)
				return tui.Run(ctx, rt.Engine, tui.Options{ThreadID: threadID, Model: rt.Config.LLM.Model})
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Continue an existing thread")
	return cmd
}
