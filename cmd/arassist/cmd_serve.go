package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/server"
)

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				rt.WatchAgents(ctx)
				api := &server.APIServer{
					Engine:      rt.Engine,
					Store:       rt.Store,
					Agents:      rt.Registry,
					Discoverer:  rt.Client,
					Gatherer:    rt.Prometheus,
					Logger:      rt.Logger.Named("api"),
					TurnTimeout: rt.Config.Server.TurnTimeout,
				}
				rt.Logger.Info("starting arassist",
					zap.String("addr", addr),
					zap.String("provider", rt.Config.LLM.Provider),
					zap.String("model", rt.Config.LLM.Model),
					zap.String("store", rt.Config.Store.Backend),
					zap.Strings("agents", rt.Registry.Names()),
				)
				err := api.ServeContext(ctx, addr)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default server.addr)")
	return cmd
}
