// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package progress multicasts ingestion progress to observers such as SSE
// streams and CLI printers.
package progress

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/sigil-dev/reel/internal/store"
)

// Event is one progress update. It is never persisted.
type Event struct {
	Scope     string       `json:"scope"`
	Status    store.Status `json:"status"`
	Current   int          `json:"current"`
	Total     int          `json:"total"`
	Timestamp float64      `json:"timestamp"`
	Message   string       `json:"message"`
}

// Terminal reports whether this is the last event of a run. A stopped run
// ends with a pending event.
func (e Event) Terminal() bool { return e.Status != store.StatusProcessing }

// Observer receives events. Returning an error (or panicking) detaches it.
type Observer func(Event) error

// Publisher is the sending half used by the ingestion pipeline.
type Publisher interface {
	Publish(e Event)
}

type subscriber struct {
	obs      Observer
	onRemove func()
}

// Broadcaster fans events out to per-scope observers.
type Broadcaster struct {
	mu     sync.RWMutex
	scopes map[string]map[uint64]*subscriber
	last   map[string]Event
	nextID uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		scopes: make(map[string]map[uint64]*subscriber),
		last:   make(map[string]Event),
	}
}

// Subscribe attaches obs to scope. The returned func detaches it and is
// safe to call more than once.
func (b *Broadcaster) Subscribe(scope string, obs Observer) func() {
	return b.subscribe(scope, obs, nil)
}

func (b *Broadcaster) subscribe(scope string, obs Observer, onRemove func()) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	subs, ok := b.scopes[scope]
	if !ok {
		subs = make(map[uint64]*subscriber)
		b.scopes[scope] = subs
	}
	subs[id] = &subscriber{obs: obs, onRemove: onRemove}
	b.mu.Unlock()

	return func() { b.remove(scope, id) }
}

func (b *Broadcaster) remove(scope string, id uint64) {
	b.mu.Lock()
	subs := b.scopes[scope]
	sub, ok := subs[id]
	if ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.scopes, scope)
		}
	}
	b.mu.Unlock()

	if ok && sub.onRemove != nil {
		sub.onRemove()
	}
}

// Publish delivers e to every observer of e.Scope. Observers that fail are
// detached; the rest still receive the event.
func (b *Broadcaster) Publish(e Event) {
	b.mu.Lock()
	b.last[e.Scope] = e
	subs := b.scopes[e.Scope]
	ids := make([]uint64, 0, len(subs))
	snapshot := make([]*subscriber, 0, len(subs))
	for id, sub := range subs {
		ids = append(ids, id)
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for i, sub := range snapshot {
		if err := deliver(sub.obs, e); err != nil {
			slog.Debug("detaching progress observer", "scope", e.Scope, "error", err)
			b.remove(e.Scope, ids[i])
		}
	}
}

func deliver(obs Observer, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("progress observer panicked",
				"scope", e.Scope, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return obs(e)
}

// Last returns the most recent event published for scope.
func (b *Broadcaster) Last(scope string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.last[scope]
	return e, ok
}

// Forget drops the remembered last event for scope.
func (b *Broadcaster) Forget(scope string) {
	b.mu.Lock()
	delete(b.last, scope)
	b.mu.Unlock()
}

// Observers reports how many observers are attached to scope.
func (b *Broadcaster) Observers(scope string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.scopes[scope])
}

var (
	errSlowConsumer  = errors.New("progress channel buffer full")
	errChannelClosed = errors.New("progress channel closed")
)

// Channel subscribes a buffered channel to scope. A full buffer detaches
// the observer and closes the channel; so does calling the returned func.
func (b *Broadcaster) Channel(scope string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	var (
		mu     sync.Mutex
		closed bool
	)
	closeCh := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	obs := func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return errChannelClosed
		}
		select {
		case ch <- e:
			return nil
		default:
			return errSlowConsumer
		}
	}
	return ch, b.subscribe(scope, obs, closeCh)
}
