// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Settings is the per-provider configuration handed to a Factory.
type Settings struct {
	Name            string
	APIKey          string
	Endpoint        string
	CredentialsFile string
	// Dimensions asks embedders that support shortened output for vectors of
	// this width. Zero keeps the model's native size.
	Dimensions int
}

// Factory builds a provider from its settings.
type Factory func(ctx context.Context, s Settings) (Provider, error)

var (
	factories   = map[string]Factory{}
	factoriesMu sync.RWMutex
)

// RegisterFactory registers a named provider kind. Adapter packages call
// this from init().
func RegisterFactory(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Factories lists registered provider kinds.
func Factories() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry holds configured providers and hands out role clients wrapped in
// the retry policy and the provider's health tracker.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	health    map[string]*HealthTracker
	policy    RetryPolicy
}

func NewRegistry(policy RetryPolicy) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		health:    make(map[string]*HealthTracker),
		policy:    policy,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
	if _, ok := r.health[name]; !ok {
		r.health[name] = MustHealthTracker(DefaultHealthCooldown)
	}
}

// Open builds the provider s.Name through its registered factory and
// registers it.
func (r *Registry) Open(ctx context.Context, s Settings) error {
	factoriesMu.RLock()
	f, ok := factories[s.Name]
	factoriesMu.RUnlock()
	if !ok {
		return reelerr.New(reelerr.CodeProviderNotFound,
			"unknown provider: "+s.Name+" (known: "+strings.Join(Factories(), ", ")+")",
			reelerr.FieldProvider(s.Name))
	}

	p, err := f(ctx, s)
	if err != nil {
		return err
	}
	r.Register(s.Name, p)
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, reelerr.New(
			reelerr.CodeProviderNotFound,
			"provider not found: "+name,
			reelerr.FieldProvider(name),
		)
	}
	return p, nil
}

// Health returns the tracker for a registered provider.
func (r *Registry) Health(name string) *HealthTracker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.health[name]
}

func (r *Registry) lookup(ref string, role reelerr.Role) (Provider, string, *HealthTracker, error) {
	name, model, err := ParseRef(ref)
	if err != nil {
		return nil, "", nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, "", nil, reelerr.New(reelerr.CodeProviderNotFound,
			"provider not found: "+name, reelerr.FieldProvider(name), reelerr.FieldRole(role))
	}
	return p, model, r.health[name], nil
}

func capabilityMissing(name string, role reelerr.Role) error {
	return reelerr.New(reelerr.CodeProviderCapabilityMissing,
		"provider "+name+" cannot act as "+string(role),
		reelerr.FieldProvider(name), reelerr.FieldRole(role))
}

// Describer resolves a "provider/model" ref to a retrying Describer.
func (r *Registry) Describer(ref string) (Describer, error) {
	p, model, h, err := r.lookup(ref, reelerr.RoleDescriber)
	if err != nil {
		return nil, err
	}
	vp, ok := p.(VisionProvider)
	if !ok {
		return nil, capabilityMissing(p.Name(), reelerr.RoleDescriber)
	}
	return WithRetryDescriber(vp.Describer(model), r.policy, h), nil
}

func (r *Registry) Embedder(ref string) (Embedder, error) {
	p, model, h, err := r.lookup(ref, reelerr.RoleEmbedder)
	if err != nil {
		return nil, err
	}
	ep, ok := p.(EmbeddingProvider)
	if !ok {
		return nil, capabilityMissing(p.Name(), reelerr.RoleEmbedder)
	}
	return WithRetryEmbedder(ep.Embedder(model), r.policy, h), nil
}

func (r *Registry) Synthesizer(ref string) (Synthesizer, error) {
	p, model, h, err := r.lookup(ref, reelerr.RoleSynthesizer)
	if err != nil {
		return nil, err
	}
	cp, ok := p.(ChatProvider)
	if !ok {
		return nil, capabilityMissing(p.Name(), reelerr.RoleSynthesizer)
	}
	return WithRetrySynthesizer(cp.Synthesizer(model), r.policy, h), nil
}

func (r *Registry) Transcriber(ref string) (Transcriber, error) {
	p, model, h, err := r.lookup(ref, reelerr.RoleTranscriber)
	if err != nil {
		return nil, err
	}
	sp, ok := p.(SpeechProvider)
	if !ok {
		return nil, capabilityMissing(p.Name(), reelerr.RoleTranscriber)
	}
	return WithRetryTranscriber(sp.Transcriber(model), r.policy, h), nil
}

// Statuses reports every registered provider, sorted by name.
func (r *Registry) Statuses(ctx context.Context) []ProviderStatus {
	r.mu.RLock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	out := make([]ProviderStatus, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		p, h := r.providers[name], r.health[name]
		r.mu.RUnlock()

		st, err := p.Status(ctx)
		if err != nil {
			st = ProviderStatus{Provider: name, Message: err.Error()}
		}
		st.Provider = name
		st.Roles = Roles(p)
		if h != nil {
			m := h.Snapshot()
			st.Health = &m
			st.Available = st.Available && m.Available
			if m.Degraded() {
				st.Message = fmt.Sprintf("%s calls failing, retry after %s: %s",
					m.LastRole, m.CooldownUntil.Format(time.RFC3339), m.LastError)
			}
		}
		out = append(out, st)
	}
	return out
}

// Close shuts down all registered providers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, p := range r.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return reelerr.Join(errs...)
	}
	return nil
}

// ParseRef splits a "provider/model" reference on the first "/". Model ids
// may themselves contain slashes (e.g. "nim/nvidia/nv-embedqa-e5-v5").
func ParseRef(ref string) (providerName, model string, err error) {
	providerName, model, ok := strings.Cut(ref, "/")
	if !ok || providerName == "" || model == "" {
		return "", "", reelerr.Errorf(reelerr.CodeProviderInvalidModelRef,
			"model reference %q must use provider/model format", ref)
	}
	return providerName, model, nil
}
