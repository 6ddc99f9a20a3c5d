package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/framework"
	"github.com/lexcodex/arassist/orchestrator"
	"github.com/lexcodex/arassist/persistence"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and recover conversation threads",
	}
	cmd.AddCommand(newThreadsListCmd(), newThreadsShowCmd(), newThreadsCheckpointsCmd(), newThreadsResumeCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				lister, ok := rt.Store.(persistence.ThreadLister)
				if !ok {
					return fmt.Errorf("store backend %q cannot list threads", rt.Config.Store.Backend)
				}
				ids, err := lister.Threads(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newThreadsShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a thread's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				messages, err := rt.Store.GetState(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(messages)
				}
				if len(messages) == 0 {
					fmt.Fprintln(out, "(empty thread)")
					return nil
				}
				for _, msg := range messages {
					fmt.Fprintf(out, "#%d %s [%s]\n%s\n\n", msg.Seq, msg.Role, msg.Timestamp.Format(time.RFC3339), msg.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")
	return cmd
}

func newThreadsCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <thread-id>",
		Short: "List a thread's turn checkpoints, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				if rt.Checkpoints == nil {
					return errors.New("checkpoints are disabled (set checkpoints.enabled)")
				}
				history, err := rt.Checkpoints.History(args[0])
				if err != nil {
					return err
				}
				return printCheckpoints(cmd.OutOrStdout(), history)
			})
		},
	}
}

func newThreadsResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Finish the thread's interrupted turn from its latest checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				answer, err := rt.Engine.ResumeTurn(ctx, args[0])
				switch {
				case errors.Is(err, orchestrator.ErrTurnCompleted):
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to resume: the latest turn completed")
					return nil
				case err != nil:
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return nil
			})
		},
	}
}

func printCheckpoints(w io.Writer, history []*framework.GraphCheckpoint) error {
	if len(history) == 0 {
		fmt.Fprintln(w, "no checkpoints")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECKPOINT\tTURN\tCREATED\tNODE\tSTEP")
	for _, cp := range history {
		step := "-"
		if cp.State != nil {
			step = fmt.Sprintf("%d/%d", cp.State.Cursor, len(cp.State.Plan))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			cp.CheckpointID, cp.TurnID, cp.CreatedAt.Format(time.RFC3339), cp.CurrentNodeID, step)
	}
	return tw.Flush()
}
