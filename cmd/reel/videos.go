// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sigil-dev/reel/internal/library"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/store"
)

func newVideosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "videos",
		Short: "Manage registered videos",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List registered videos",
			Args:  cobra.NoArgs,
			RunE:  runVideosList,
		},
		&cobra.Command{
			Use:   "rm <video-id>",
			Short: "Delete a video, its file and its observations",
			Args:  cobra.ExactArgs(1),
			RunE:  runVideosRemove,
		},
	)
	return cmd
}

func runVideosList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd)
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	recs, err := stores.Videos.List(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No videos registered.")
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "STATUS", "DURATION", "PROGRESS")
	for _, rec := range recs {
		t.Row(rec.ID, rec.DisplayName(), string(rec.Status), provider.FormatTimestamp(rec.Duration), progressCell(rec))
	}
	_, err = fmt.Fprintln(out, t.Render())
	return err
}

func progressCell(rec *store.VideoRecord) string {
	if rec.ExpectedSamples == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", rec.Processed, rec.ExpectedSamples)
}

// runVideosRemove deletes locally. A server running against the same data
// directory should be used instead while it has runs in flight.
func runVideosRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := contextOrBackground(cmd)
	stores, err := OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	rec, err := stores.Videos.Get(ctx, args[0])
	if err != nil {
		return err
	}
	lib := &library.Library{Videos: stores.Videos, Index: stores.Index, DataDir: stores.DataDir}
	removed, err := lib.Remove(ctx, rec)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d observations)\n", rec.DisplayName(), removed)
	return nil
}
