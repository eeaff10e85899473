// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/reel/internal/progress"
	"github.com/sigil-dev/reel/internal/provider"
	"github.com/sigil-dev/reel/internal/store"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Register and index a video",
		Long: `Copy a video into the data directory, register it and index it in the
foreground, printing one line per progress event.

With --audio-only the argument is the id of an already registered video and
only its audio observations are rebuilt.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().String("name", "", "display name (defaults to the file name)")
	cmd.Flags().Bool("audio-only", false, "re-index only the audio track of a registered video")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := WireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	out := cmd.OutOrStdout()
	audioOnly, _ := cmd.Flags().GetBool("audio-only")

	var rec *store.VideoRecord
	if audioOnly {
		if rec, err = app.Videos.Get(ctx, args[0]); err != nil {
			return err
		}
	} else {
		name, _ := cmd.Flags().GetString("name")
		if rec, err = app.Library.ImportFile(ctx, args[0], name); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Registered %s as %s (%s, %.1f fps)\n",
			rec.DisplayName(), rec.ID, provider.FormatTimestamp(rec.Duration), rec.FPS)
	}

	unsubscribe := app.Events.Subscribe(rec.ID, func(e progress.Event) error {
		printEvent(out, e)
		return nil
	})
	defer unsubscribe()

	if audioOnly {
		err = app.Pipeline.RunAudio(ctx, rec.ID)
	} else {
		err = app.Pipeline.Run(ctx, rec.ID)
	}
	if err != nil {
		return err
	}

	n, err := app.Index.Count(ctx, rec.ID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Indexed %s: %d observations. Ask with: reel ask %s \"<question>\"\n", rec.DisplayName(), n, rec.ID)
	return nil
}

// printEvent writes one progress line: "[current/total] MM:SS message"
// while running, "[status] message" once the run ends.
func printEvent(w io.Writer, e progress.Event) {
	if e.Total > 0 && !e.Terminal() {
		_, _ = fmt.Fprintf(w, "[%d/%d] %s %s\n", e.Current, e.Total, provider.FormatTimestamp(e.Timestamp), e.Message)
		return
	}
	_, _ = fmt.Fprintf(w, "[%s] %s\n", e.Status, e.Message)
}
