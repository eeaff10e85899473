// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"errors"
	"strings"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/spf13/viper"
)

const keyringScheme = "keyring://"

func IsKeyringURI(value string) bool {
	return strings.HasPrefix(value, keyringScheme)
}

// ParseKeyringURI splits keyring://service/key into its parts.
func ParseKeyringURI(uri string) (service, key string, err error) {
	if !IsKeyringURI(uri) {
		return "", "", reelerr.Errorf(reelerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, ok := strings.Cut(strings.TrimPrefix(uri, keyringScheme), "/")
	if !ok || service == "" || key == "" {
		return "", "", reelerr.Errorf(reelerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// ResolveKeyringURI returns value unchanged unless it is a keyring:// URI,
// in which case the referenced secret is returned.
func ResolveKeyringURI(store Store, value string) (string, error) {
	if !IsKeyringURI(value) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}

	secret, err := store.Retrieve(service, key)
	if err != nil {
		return "", reelerr.Wrapf(err, reelerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViperSecrets replaces every keyring:// string (or string list
// element) held by v with the secret it references. All unresolved keys are
// reported together; resolved keys are applied either way.
func ResolveViperSecrets(v *viper.Viper, store Store) error {
	var errs []error

	for _, key := range v.AllKeys() {
		switch raw := v.Get(key).(type) {
		case string:
			if !IsKeyringURI(raw) {
				continue
			}
			resolved, err := ResolveKeyringURI(store, raw)
			if err != nil {
				errs = append(errs, reelerr.Wrapf(err, reelerr.CodeSecretResolveFailure, "config key %s (%s)", key, raw))
				continue
			}
			v.Set(key, resolved)
		case []any, []string:
			items := v.GetStringSlice(key)
			changed := false
			for i, item := range items {
				if !IsKeyringURI(item) {
					continue
				}
				resolved, err := ResolveKeyringURI(store, item)
				if err != nil {
					errs = append(errs, reelerr.Wrapf(err, reelerr.CodeSecretResolveFailure, "config key %s[%d] (%s)", key, i, item))
					continue
				}
				items[i] = resolved
				changed = true
			}
			if changed {
				v.Set(key, items)
			}
		}
	}

	return errors.Join(errs...)
}
