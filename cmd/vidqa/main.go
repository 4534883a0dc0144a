// Package main implements the vidqa CLI, a client for the vidqad HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. A fresh tree per call keeps flag
// state out of package variables.
func newRootCmd() *cobra.Command {
	var opts clientOptions

	root := &cobra.Command{
		Use:   "vidqa",
		Short: "Ask questions about YouTube videos",
		Long: `vidqa is a command-line client for the vidqad server.

Load a video into the knowledge base, then ask questions that are answered
only from its transcript.

Examples:
  vidqa init https://www.youtube.com/watch?v=dQw4w9WgXcQ
  vidqa ask "What is the video about?"
  vidqa ask --thread work "And what happens at the end?"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8000", "vidqad server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "request timeout")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print raw JSON responses")

	root.AddCommand(
		newInitCmd(&opts),
		newAddCmd(&opts),
		newAskCmd(&opts),
		newHistoryCmd(&opts),
		newHealthCmd(&opts),
		newStatusCmd(&opts),
	)
	return root
}
