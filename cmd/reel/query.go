// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/retrieval"
	"github.com/sigil-dev/reel/internal/store"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <video-id> <question>",
		Short: "Ask a question about one processed video",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runAsk,
	}
	cmd.Flags().Int("top-k", -1, "observations to retrieve (default from config)")
	cmd.Flags().Bool("sources", true, "print the observations behind the answer")
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search across every processed video",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	cmd.Flags().Int("top-k", -1, "results to return (default from config)")
	cmd.Flags().Bool("no-summary", false, "skip the synthesized summary")
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd)
	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	rec, err := app.Videos.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if rec.Status != store.StatusCompleted {
		return reelerr.Errorf(reelerr.CodeCLIInputInvalid,
			"video %s is %s; it must be processed before asking questions", rec.ID, rec.Status)
	}

	topK, _ := cmd.Flags().GetInt("top-k")
	showSources, _ := cmd.Flags().GetBool("sources")
	answer := app.Engine.Answer(ctx, rec.ID, strings.Join(args[1:], " "), topK)
	printAnswer(cmd.OutOrStdout(), answer, showSources)
	return nil
}

func printAnswer(w io.Writer, a retrieval.Answer, showSources bool) {
	_, _ = fmt.Fprintln(w, a.Text)
	if !showSources || len(a.Sources) == 0 {
		return
	}
	_, _ = fmt.Fprintln(w, "\nSources:")
	for _, s := range a.Sources {
		_, _ = fmt.Fprintf(w, "  [%s] (%.2f) %s\n", provider.FormatTimestamp(s.Timestamp), s.Score, s.Text)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd)
	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	topK, _ := cmd.Flags().GetInt("top-k")
	noSummary, _ := cmd.Flags().GetBool("no-summary")
	res := app.Engine.GlobalSearch(ctx, strings.Join(args, " "), topK, !noSummary)
	if res.Error != "" {
		return reelerr.New(reelerr.CodeCLIRequestFailure, res.Error)
	}
	printSearch(cmd.OutOrStdout(), res)
	return nil
}

func printSearch(w io.Writer, res retrieval.GlobalResult) {
	if res.Summary != "" {
		_, _ = fmt.Fprintf(w, "%s\n\n", res.Summary)
	}
	if len(res.Results) == 0 {
		_, _ = fmt.Fprintln(w, "No matches.")
		return
	}
	for _, h := range res.Results {
		_, _ = fmt.Fprintf(w, "%-20s %s  (%.2f) %s\n", h.VideoName, provider.FormatTimestamp(h.Timestamp), h.Score, h.Text)
	}
}
