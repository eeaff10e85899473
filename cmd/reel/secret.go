// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/reel/internal/secrets"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute a mock implementation.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `Manage secrets stored under the reel service in the operating system keyring.
Reference them from the config file as keyring://reel/<name>.`,
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret (masked unless --reveal)",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
	get.Flags().Bool("reveal", false, "print the full value")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <name> [value]",
			Short: "Store a secret; the value is read from stdin when omitted",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  runSecretSet,
		},
		get,
		&cobra.Command{
			Use:     "rm <name>",
			Aliases: []string{"delete"},
			Short:   "Delete a secret by name",
			Args:    cobra.ExactArgs(1),
			RunE:    runSecretDelete,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List all stored secret names",
			Args:  cobra.NoArgs,
			RunE:  runSecretList,
		},
	)

	return cmd
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return reelerr.Errorf(reelerr.CodeCLIInputInvalid, "reading secret from stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return reelerr.New(reelerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStoreFactory().Store(secrets.ServiceName, name, value); err != nil {
		return reelerr.Errorf(reelerr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (keyring://%s/%s)\n", name, secrets.ServiceName, name)
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	value, err := secretStoreFactory().Retrieve(secrets.ServiceName, name)
	if err != nil {
		if reelerr.HasCode(err, reelerr.CodeSecretNotFound) {
			return reelerr.Errorf(reelerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return err
	}
	if reveal, _ := cmd.Flags().GetBool("reveal"); !reveal {
		value = maskSecret(value)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

// maskSecret keeps the last four characters of values long enough that
// doing so reveals little.
func maskSecret(v string) string {
	if len(v) < 12 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.ServiceName)
	if err != nil {
		return reelerr.Errorf(reelerr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.ServiceName, name); err != nil {
		if reelerr.HasCode(err, reelerr.CodeSecretNotFound) {
			return reelerr.Errorf(reelerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return reelerr.Errorf(reelerr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}
