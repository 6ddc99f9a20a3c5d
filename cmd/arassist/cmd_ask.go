package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lexcodex/arassist/cmd/internal/cliutils"
	"github.com/lexcodex/arassist/orchestrator"
)

func newAskCmd() *cobra.Command {
	var threadID string
	var stream bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if threadID == "" {
				threadID = "ask-" + uuid.NewString()[:8]
			}
			return withRuntime(cmd, func(ctx context.Context, rt *cliutils.Runtime) error {
				out := cmd.OutOrStdout()
				if !stream {
					answer, err := rt.Engine.ProcessTurn(ctx, question, threadID)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, answer)
					return nil
				}
				events, err := rt.Engine.StreamTurn(ctx, question, threadID)
				if err != nil {
					return err
				}
				return printStream(out, cmd.ErrOrStderr(), events)
			})
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "Conversation thread (default a new one)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Print progress and tokens as they arrive")
	return cmd
}

// printStream writes tokens to out and progress to progress. It returns the
// error carried by an error event.
func printStream(out, progress io.Writer, events <-chan orchestrator.Event) error {
	var failure error
	for ev := range events {
		switch ev.Type {
		case orchestrator.EventStatus:
			fmt.Fprintf(progress, "… %s\n", ev.Message)
		case orchestrator.EventPlan:
			for i, task := range ev.Tasks {
				fmt.Fprintf(progress, "  %d. %s\n", i+1, task)
			}
		case orchestrator.EventProgress:
			fmt.Fprintf(progress, "[%d/%d] %s: %s\n", ev.Step, ev.Total, ev.Agent, ev.Task)
		case orchestrator.EventToken:
			fmt.Fprint(out, ev.Content)
		case orchestrator.EventComplete:
			fmt.Fprintln(out)
		case orchestrator.EventError:
			failure = errors.New(ev.Message)
		}
	}
	return failure
}
