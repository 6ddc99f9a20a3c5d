package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lexcodex/arassist/agents"
	"github.com/lexcodex/arassist/cmd/internal/cliutils"
)

func newAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the remote agent catalogue",
	}
	cmd.AddCommand(newAgentsListCmd(), newAgentsDiscoverCmd())
	return cmd
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			registry := agents.NewRegistry(cfg.Agents.Manifest, logger)
			if err := registry.Load(); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tLABEL\tURL\tDESCRIPTION")
			for _, spec := range registry.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", spec.Name, agents.DisplayName(spec.Name), spec.URL, spec.Description)
			}
			return tw.Flush()
		},
	}
}

func newAgentsDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover [agent...]",
		Short: "Fetch the capabilities each agent publishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				names := args
				if len(names) == 0 {
					names = rt.Registry.Names()
				}
				out := cmd.OutOrStdout()
				for _, name := range names {
					caps, err := rt.Client.Discover(ctx, name)
					if err != nil {
						fmt.Fprintf(out, "%s: unavailable (%v)\n", name, err)
						continue
					}
					fmt.Fprintf(out, "%s: %s\n", name, caps.Summary())
				}
				return nil
			})
		},
	}
}
