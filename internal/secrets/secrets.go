// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

// ServiceName is the keyring service under which reel keeps its secrets.
const ServiceName = "reel"

// Store provides secret storage keyed by service and key name.
type Store interface {
	Store(service, key, value string) error
	// Retrieve returns a CodeSecretNotFound error when the key does not exist.
	Retrieve(service, key string) (string, error)
	Delete(service, key string) error
	List(service string) ([]string, error)
}

// ProviderKeyName is the key name used for a provider's API key.
func ProviderKeyName(provider string) string {
	return provider + "-api-key"
}

// ProviderKeyURI returns the keyring:// reference written into reel.yaml
// for a provider's API key.
func ProviderKeyURI(provider string) string {
	return keyringScheme + ServiceName + "/" + ProviderKeyName(provider)
}
