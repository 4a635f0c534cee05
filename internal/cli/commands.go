package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/povchingiz/google-meet-recording/internal/app"
	"github.com/povchingiz/google-meet-recording/internal/client"
	"github.com/povchingiz/google-meet-recording/internal/config"
)

func newServeCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recording API",
		Long:  `Run the recording API. Configuration comes from MEETREC_* environment variables and the optional MEETREC_CONFIG_FILE.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if listen != "" {
				cfg.ListenAddr = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides MEETREC_LISTEN_ADDR")
	return cmd
}

func newStartCommand(opts *rootOptions) *cobra.Command {
	var (
		duration int
		noUpload bool
		folder   string
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start <meeting-url>",
		Short: "Queue a recording for a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.StartRequest{MeetingURL: args[0]}
			if cmd.Flags().Changed("duration") {
				req.DurationMinutes = &duration
			}
			if noUpload {
				upload := false
				req.UploadToDrive = &upload
			}
			if cmd.Flags().Changed("folder") {
				req.FolderName = &folder
			}

			c := opts.client()
			resp, err := c.StartRecording(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !wait {
				if done, err := writeStructured(cmd.OutOrStdout(), opts.output, resp); done {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, okStyle.Render("✓ ")+resp.Message)
				fmt.Fprintf(out, "  %s %s\n", labelStyle.Render("session_id"), idStyle.Render(resp.SessionID))
				fmt.Fprintf(out, "  %s %s\n", labelStyle.Render("status    "), renderStatus(resp.Status))
				fmt.Fprintf(out, "  %s %d\n", labelStyle.Render("minutes   "), resp.DurationMinutes)
				return nil
			}
			return followSession(cmd, opts, c, resp.SessionID, interval)
		},
	}
	cmd.Flags().IntVarP(&duration, "duration", "d", 30, "Recording length in minutes")
	cmd.Flags().BoolVar(&noUpload, "no-upload", false, "Keep the recording local instead of uploading it")
	cmd.Flags().StringVar(&folder, "folder", "Meeting Recordings", "Destination folder for the upload")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the session finishes")
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Polling interval with --wait")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := opts.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if done, err := writeStructured(cmd.OutOrStdout(), opts.output, st); done {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func newListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions in creation order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := opts.client().List(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := writeStructured(cmd.OutOrStdout(), opts.output, sessions); done {
				return err
			}
			printSessions(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session and its local recording",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Delete(cmd.Context(), args[0]); err != nil {
				if client.IsNotFound(err) {
					return fmt.Errorf("session %s not found", args[0])
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ ")+"deleted "+idStyle.Render(args[0]))
			return nil
		},
	}
}

func newWaitCommand(opts *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <session-id>",
		Short: "Follow a session until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout > 0 {
				ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
				defer cancel()
				cmd.SetContext(ctx)
			}
			return followSession(cmd, opts, opts.client(), args[0], interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "Polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (0 waits forever)")
	return cmd
}

func newInfoCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the API banner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, err := opts.client().Info(cmd.Context())
			if err != nil {
				return err
			}
			if done, err := writeStructured(cmd.OutOrStdout(), opts.output, info); done {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", headerStyle.Render(info.Message), info.Version, renderStatus(info.Status))
			return nil
		},
	}
}

// followSession prints each status change and fails when the session ends in
// an error status.
func followSession(cmd *cobra.Command, opts *rootOptions, c *client.Client, id string, interval time.Duration) error {
	out := cmd.OutOrStdout()
	final, err := c.Wait(cmd.Context(), id, interval, func(st client.Status) {
		if opts.output == "table" {
			fmt.Fprintf(out, "%s %s %s\n", labelStyle.Render(time.Now().Format("15:04:05")), idStyle.Render(st.SessionID), renderStatus(st.Status))
		}
	})
	if err != nil {
		return err
	}
	if done, err := writeStructured(out, opts.output, final); done {
		if err != nil {
			return err
		}
	} else {
		printStatus(out, final)
	}
	if final.ErrorMessage != nil {
		return fmt.Errorf("session %s ended %s: %s", id, final.Status, *final.ErrorMessage)
	}
	return nil
}
