// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/reel/internal/config"
	"github.com/sigil-dev/reel/internal/secrets"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// NewRootCmd creates the root reel command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reel",
		Short:         "reel turns videos into a searchable, timestamped index",
		Long:          "reel samples frames and audio from a video, describes them with a vision model, and answers questions over the resulting index.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initViper(cmd); err != nil {
				return err
			}
			setupLogging(cmd.ErrOrStderr(), viper.GetBool("verbose"), viper.GetString("log.format"))
			config.WarnInsecurePermissions(viper.ConfigFileUsed())
			return nil
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newAskCmd(),
		newSearchCmd(),
		newVideosCmd(),
		newWatchCmd(),
		newInitCmd(),
		newDoctorCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up the global Viper with defaults, env bindings, flag
// bindings, and optional config file so the standard precedence
// (flag > env > file > defaults) is handled uniformly.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "reading config file: %w", err)
		}
	} else {
		// SetConfigType is left unset: with it, viper also tries the bare
		// name "reel", which is the binary in the project root.
		v.SetConfigName("reel")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/reel")
		v.AddConfigPath("/etc/reel")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "reading config: %w", err)
			}
			if path := config.BootstrapConfig(); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return reelerr.Errorf(reelerr.CodeConfigLoadReadFailure, "reading bootstrapped config: %w", err)
				}
			}
		}
	}

	if err := v.BindPFlag("storage.data_dir", cmd.Root().PersistentFlags().Lookup("data-dir")); err != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return reelerr.Errorf(reelerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// setupLogging installs the default slog handler: tint on a terminal,
// JSON when log.format is json.
func setupLogging(w io.Writer, verbose bool, format string) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		f, ok := w.(*os.File)
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
			NoColor:    !ok || !isTerminal(f),
		})
	}
	slog.SetDefault(slog.New(h))
}

// loadConfig resolves keyring references held by the global viper and
// decodes the result. A reference that cannot be resolved only matters if
// the provider is used, so it is logged rather than returned.
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	if err := secrets.ResolveViperSecrets(v, secretStoreFactory()); err != nil {
		slog.Warn("unresolved secrets in config", "error", err)
	}
	return config.FromViper(v)
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
