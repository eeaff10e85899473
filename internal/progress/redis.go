// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

const publishTimeout = 2 * time.Second

// envelope tags a relayed event with the process that produced it.
type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Relay mirrors events between processes over a redis pub/sub channel, so
// a server can stream progress for runs started by another process.
type Relay struct {
	local   *Broadcaster
	client  *redis.Client
	channel string
	origin  string
}

// RedisOptions configures NewRedisRelay.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

func NewRedisRelay(local *Broadcaster, opts RedisOptions) *Relay {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRelay(local, client, opts.Channel)
}

func NewRelay(local *Broadcaster, client *redis.Client, channel string) *Relay {
	if channel == "" {
		channel = "reel:progress"
	}
	return &Relay{
		local:   local,
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Publish delivers e locally, then to other processes. A redis failure is
// logged; local observers are unaffected.
func (r *Relay) Publish(e Event) {
	r.local.Publish(e)

	payload, err := json.Marshal(envelope{Origin: r.origin, Event: e})
	if err != nil {
		slog.Warn("encoding relayed progress event", "scope", e.Scope, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		err = reelerr.Wrap(err, reelerr.CodeProgressRelayFailure, "publishing progress to redis",
			reelerr.FieldScopeID(e.Scope))
		slog.Warn("progress relay publish failed", "scope", e.Scope, "error", err)
	}
}

// Run forwards remote events into the local broadcaster until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return reelerr.Wrap(err, reelerr.CodeProgressRelayFailure, "subscribing to "+r.channel)
	}
	slog.Info("progress relay subscribed", "channel", r.channel, "origin", r.origin)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			r.deliver(msg.Payload)
		}
	}
}

func (r *Relay) deliver(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.Debug("dropping malformed relayed event", "error", err)
		return
	}
	if env.Origin == r.origin || env.Event.Scope == "" {
		return
	}
	r.local.Publish(env.Event)
}

// Close releases the redis connection.
func (r *Relay) Close() error {
	return r.client.Close()
}
