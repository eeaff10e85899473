// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/sigil-dev/reel/internal/config"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the media tools, configuration, server reachability, configured providers and disk space.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", "", "server address to check (defaults to server.listen)")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	ctx := contextOrBackground(cmd)
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = viper.GetString("server.listen")
	}
	dataDir := resolveDataDir()

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"ffmpeg", func() string { return checkTool(viper.GetString("ingest.ffmpeg"), "ffmpeg") }},
		{"ffprobe", func() string { return checkTool(viper.GetString("ingest.ffprobe"), "ffprobe") }},
		{"Config", checkConfig},
		{"Index", checkIndex},
		{"Scanner", checkScanner},
		{"Providers", checkProviders},
		{"Server", func() string { return checkServer(ctx, addr) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

// resolveDataDir returns the data directory from viper or the default.
func resolveDataDir() string {
	if dataDir := viper.GetString("storage.data_dir"); dataDir != "" {
		return config.ExpandHome(dataDir)
	}
	return config.ExpandHome("~/.reel")
}

func checkBinary() string {
	return "reel " + version
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

// checkTool resolves a configured tool path, falling back to PATH lookup.
func checkTool(configured, name string) string {
	if configured == "" {
		configured = name
	}
	path, err := exec.LookPath(configured)
	if err != nil {
		return fmt.Sprintf("not found (%s); install %s or set ingest.%s", configured, name, name)
	}
	return path
}

func checkConfig() string {
	if cfgFile := viper.ConfigFileUsed(); cfgFile != "" {
		if _, err := config.FromViper(viper.GetViper()); err != nil {
			return fmt.Sprintf("%s: %s", cfgFile, err)
		}
		return fmt.Sprintf("loaded from %s", cfgFile)
	}
	return "using defaults (no config file found)"
}

func checkIndex() string {
	backend := viper.GetString("storage.index.backend")
	if backend == "" {
		backend = "sqlite"
	}
	return fmt.Sprintf("%s, %d dimensions, cosine", backend, viper.GetInt("storage.index.dimensions"))
}

// checkScanner reports the content scanner mode for each stage.
func checkScanner() string {
	return fmt.Sprintf("questions=%s observations=%s answers=%s",
		viper.GetString("security.scanner.questions"),
		viper.GetString("security.scanner.observations"),
		viper.GetString("security.scanner.answers"))
}

// checkProviders lists configured providers without resolving their keys.
func checkProviders() string {
	providers := viper.GetStringMap("providers")
	if len(providers) == 0 {
		return "none configured (run 'reel init')"
	}
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func checkServer(ctx context.Context, addr string) string {
	c := newAPIClient(addr, "")
	var body struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", &body); err != nil {
		if reelerr.HasCode(err, reelerr.CodeCLIServerNotRunning) {
			return fmt.Sprintf("not running at %s (run 'reel serve')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkDiskSpace(dataDir string) string {
	path := dataDir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
