// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
	"github.com/zalando/go-keyring"
)

// go-keyring cannot enumerate keys, so each service keeps a JSON list of its
// key names under this suffixed entry.
const indexSuffix = "::index"

// KeyringStore implements Store on the OS keyring (Keychain, Secret Service,
// Credential Manager) through zalando/go-keyring.
type KeyringStore struct{}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Store(service, key, value string) error {
	if err := checkNames("store", service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return reelerr.Wrapf(err, reelerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		if slices.Contains(keys, key) {
			return keys
		}
		return append(keys, key)
	})
}

func (s *KeyringStore) Retrieve(service, key string) (string, error) {
	if err := checkNames("retrieve", service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", reelerr.Errorf(reelerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return "", reelerr.Wrapf(err, reelerr.CodeSecretStoreFailure, "retrieving secret %s/%s", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkNames("delete", service, key); err != nil {
		return err
	}
	err := keyring.Delete(service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return reelerr.Errorf(reelerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	case err != nil:
		return reelerr.Wrapf(err, reelerr.CodeSecretDeleteFailure, "deleting secret %s/%s", service, key)
	}
	return s.updateIndex(service, func(keys []string) []string {
		return slices.DeleteFunc(keys, func(k string) bool { return k == key })
	})
}

func (s *KeyringStore) List(service string) ([]string, error) {
	raw, err := keyring.Get(service, service+indexSuffix)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeSecretListFailure, "loading key index for %s", service)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, reelerr.Wrapf(err, reelerr.CodeSecretListFailure, "decoding key index for %s", service)
	}
	return keys, nil
}

func (s *KeyringStore) updateIndex(service string, fn func([]string) []string) error {
	keys, err := s.List(service)
	if err != nil {
		return err
	}
	keys = fn(keys)

	indexKey := service + indexSuffix
	if len(keys) == 0 {
		if err := keyring.Delete(service, indexKey); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			slog.Debug("removing empty key index", "service", service, "error", err)
		}
		return nil
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return reelerr.Wrapf(err, reelerr.CodeSecretListFailure, "encoding key index for %s", service)
	}
	if err := keyring.Set(service, indexKey, string(data)); err != nil {
		return reelerr.Wrapf(err, reelerr.CodeSecretListFailure, "saving key index for %s", service)
	}
	return nil
}

func checkNames(op, service, key string) error {
	if service == "" {
		return reelerr.Errorf(reelerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return reelerr.Errorf(reelerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	return nil
}
