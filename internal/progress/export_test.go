// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package progress

import "encoding/json"

// Deliver feeds a raw pub/sub payload into the relay.
func (r *Relay) Deliver(payload string) { r.deliver(payload) }

// Origin returns the relay's process id.
func (r *Relay) Origin() string { return r.origin }

// Envelope encodes an event the way a relay with the given origin would.
func Envelope(origin string, e Event) string {
	b, _ := json.Marshal(envelope{Origin: origin, Event: e})
	return string(b)
}
