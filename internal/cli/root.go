// Package cli implements the meetrec command line: a server entry point plus
// an operator client for the recording API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/povchingiz/google-meet-recording/internal/client"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	server string
	token  string
	output string
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, client.WithToken(o.token))
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "meetrec",
		Short: "Record Google Meet sessions unattended",
		Long: `meetrec runs the recording API and drives it from the command line.

Quick Start:
  meetrec serve                                        # start the API
  meetrec start https://meet.google.com/abc-defg-hij   # queue a recording
  meetrec wait <session-id>                            # follow it to the end`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case "table", "json", "yaml":
				return nil
			default:
				return fmt.Errorf("--output must be one of table|json|yaml")
			}
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("MEETREC_SERVER", "http://localhost:8000"), "Recording API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("MEETREC_TOKEN"), "Bearer token when the API requires one")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table|json|yaml")

	root.AddCommand(
		newServeCommand(),
		newStartCommand(opts),
		newStatusCommand(opts),
		newListCommand(opts),
		newDeleteCommand(opts),
		newWaitCommand(opts),
		newInfoCommand(opts),
	)
	return root
}

func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
