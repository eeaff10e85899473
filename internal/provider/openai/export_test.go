// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

// DefaultEndpoint exposes the base URL registered for a provider kind.
func DefaultEndpoint(name string) (string, bool) {
	endpoint, ok := defaultEndpoints[name]
	return endpoint, ok
}
