package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RenatoCabral2022/xrecorder/internal/output"
)

const idlePoll = 250 * time.Millisecond

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Grant screen capture and start recording",
		Long:  "Request and approve a screen capture grant, then start recording.\nUse --wait to stay in the foreground (Ctrl+C to stop), or use 'xrecorder stop' later.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			formatter := output.NewFormatter(os.Stdout)

			g, err := deps.Client.RequestGrant(ctx)
			if err != nil {
				return fmt.Errorf("requesting grant: %w", err)
			}
			formatter.GrantRequested(g.Token)

			if _, err := deps.Client.ResolveGrant(ctx, g.Token, true); err != nil {
				return fmt.Errorf("approving grant: %w", err)
			}

			ev, err := deps.Client.Start(ctx, g.Token, nil)
			if err != nil {
				return err
			}
			if ev.Ignored {
				formatter.Warning("A recording was already in progress; nothing was started")
				return nil
			}
			formatter.RecordingStarted(ev.SessionID, ev.OutputID, wait)
			if !wait {
				return nil
			}
			return waitAndStop(ctx, deps, formatter)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Stay in the foreground and stop on Ctrl+C")

	return cmd
}

func NewStartCmd(deps *Dependencies) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording with an approved grant",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			ev, err := deps.Client.Start(cmd.Context(), token, nil)
			if err != nil {
				return err
			}
			if ev.Ignored {
				formatter.Warning("A recording was already in progress; nothing was started")
				return nil
			}
			formatter.RecordingStarted(ev.SessionID, ev.OutputID, false)
			return nil
		},
	}

	cmd.Flags().StringVarP(&token, "grant", "g", "", "Consent token of an approved grant")
	_ = cmd.MarkFlagRequired("grant")

	return cmd
}

func NewStopCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the current recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := output.NewFormatter(os.Stdout)
			ev, err := deps.Client.Stop(cmd.Context())
			if err != nil {
				return err
			}
			if !ev.Stopping {
				formatter.Info("No recording in progress")
				return nil
			}
			formatter.Success("Stopping; the file is finalized in the background")
			return nil
		},
	}
}

// waitAndStop blocks until interrupted, stops the session and waits for the
// daemon to report idle again.
func waitAndStop(ctx context.Context, deps *Dependencies, formatter *output.Formatter) error {
	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	started := time.Now()
	ticker := time.NewTicker(idlePoll)
	defer ticker.Stop()

	// The session may also end on its own, e.g. when the grant is revoked.
	for interrupted := false; !interrupted; {
		select {
		case <-sigCtx.Done():
			interrupted = true
		case <-ticker.C:
			s, err := deps.Client.Session(ctx)
			if err != nil {
				return err
			}
			if s.State == "idle" {
				formatter.RecordingStopped(time.Since(started))
				if s.Label != "" {
					formatter.Info(s.Label)
				}
				return nil
			}
		}
	}

	if _, err := deps.Client.Stop(ctx); err != nil {
		return err
	}
	for {
		s, err := deps.Client.Session(ctx)
		if err != nil {
			return err
		}
		if s.State == "idle" {
			formatter.RecordingStopped(time.Since(started))
			if s.LastError != "" {
				formatter.Warning(s.LastError)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
