package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	httpserver "github.com/fyrsmithlabs/vidqa/internal/http"
	"github.com/fyrsmithlabs/vidqa/internal/ingest"
	"github.com/fyrsmithlabs/vidqa/internal/pipeline"
)

func newInitCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init <youtube-url>",
		Short: "Replace the knowledge base with one video",
		Long: `Clear the knowledge base and load the transcript of a YouTube video.

Examples:
  vidqa init https://www.youtube.com/watch?v=dQw4w9WgXcQ
  vidqa init https://youtu.be/dQw4w9WgXcQ`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, "/api/v1/init", args[0])
		},
	}
}

func newAddCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <youtube-url>",
		Short: "Add another video to the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, opts, "/api/v1/videos", args[0])
		},
	}
}

func runIngest(cmd *cobra.Command, opts *clientOptions, path, videoURL string) error {
	var res ingest.InitResult
	raw, err := newClient(opts).do(cmd.Context(), http.MethodPost, path, httpserver.InitRequest{URL: videoURL}, &res)
	if err != nil {
		return err
	}
	if opts.json {
		return printRaw(cmd.OutOrStdout(), raw)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func newAskCmd(opts *clientOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about the loaded videos",
		Long: `Ask a question. Answers come only from the loaded transcripts; anything
else is answered with "I don't know". Turns in the same thread see the
earlier conversation.

Examples:
  vidqa ask "How long do cats sleep?"
  vidqa ask --thread alice "Why?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := httpserver.MessageRequest{Message: strings.Join(args, " "), ThreadID: threadID}
			var res pipeline.TurnResult
			raw, err := newClient(opts).do(cmd.Context(), http.MethodPost, "/api/v1/message", req, &res)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Answer)
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread (default: default_user)")
	return cmd
}

func newHistoryCmd(opts *clientOptions) *cobra.Command {
	var threadID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the messages of a thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if threadID == "" {
				threadID = pipeline.DefaultThreadID
			}
			var res httpserver.HistoryResponse
			path := "/api/v1/threads/" + url.PathEscape(threadID) + "/messages"
			raw, err := newClient(opts).do(cmd.Context(), http.MethodGet, path, nil, &res)
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			for _, m := range res.Messages {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.Role, m.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&threadID, "thread", "", "conversation thread (default: default_user)")
	return cmd
}

func newHealthCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check vidqad server health",
		Long: `Check the health status of the vidqad HTTP server.

Examples:
  vidqa health
  vidqa health --server http://localhost:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res httpserver.HealthResponse
			if _, err := newClient(opts).do(cmd.Context(), http.MethodGet, "/health", nil, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Server Status: %s\n", res.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "Server URL: %s\n", opts.server)
			return nil
		},
	}
}

func newStatusCmd(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store health and knowledge base size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res httpserver.StatusResponse
			raw, err := newClient(opts).do(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &res)
			var apiErr *apiError
			// A degraded server still reports its status body.
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
				if jsonErr := json.Unmarshal(raw, &res); jsonErr == nil {
					err = nil
				}
			}
			if err != nil {
				return err
			}
			if opts.json {
				return printRaw(cmd.OutOrStdout(), raw)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:      %s\n", res.Status)
			if res.Version != "" {
				fmt.Fprintf(out, "Version:     %s\n", res.Version)
			}
			for name, state := range res.Services {
				fmt.Fprintf(out, "%-12s %s\n", name+":", state)
			}
			kb := res.KnowledgeBase
			if kb.Initialized {
				fmt.Fprintf(out, "Collection:  %s (%d chunks)\n", kb.Collection, kb.Chunks)
			} else {
				fmt.Fprintf(out, "Collection:  %s (not initialized)\n", kb.Collection)
			}
			return nil
		},
	}
}

func printRaw(w io.Writer, raw []byte) error {
	_, err := fmt.Fprintln(w, strings.TrimSpace(string(raw)))
	return err
}
