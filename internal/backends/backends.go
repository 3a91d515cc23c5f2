// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package backends builds the configured backend clients. It owns the
// kind registry, the shared metadata cache, the identifier registry and
// rules, and one resilient transport per backend.
package backends

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/backend/emby"
	"github.com/tomtom215/statesync/internal/backend/jellyfin"
	"github.com/tomtom215/statesync/internal/backend/plex"
	"github.com/tomtom215/statesync/internal/cache"
	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/transport"
)

// NewRegistry returns a registry with every supported kind.
func NewRegistry() *backend.Registry {
	r := backend.NewRegistry()
	for kind, f := range map[string]backend.Factory{
		backend.KindPlex:     plex.Factory,
		backend.KindJellyfin: jellyfin.Factory,
		backend.KindEmby:     emby.Factory,
	} {
		if err := r.Register(kind, f); err != nil {
			panic(err) // kinds above are distinct
		}
	}
	return r
}

// Set is the collection of configured clients.
type Set struct {
	clients map[string]backend.Client
	doers   map[string]transport.Doer
	names   []string
	cache   *cache.Cache
	guids   *guid.Registry
}

// Build creates a client per configured backend. Backends without a
// backend_id are asked for their identifier; a failure there is logged and
// the client is kept without one.
func Build(ctx context.Context, cfg *config.Config, fs afero.Fs, doer transport.Doer) (*Set, error) {
	reg := guid.NewRegistry()
	rules, err := guid.LoadRules(fs, cfg.GUID.RulesFile, reg)
	if err != nil {
		return nil, err
	}
	ignore := guid.ParseIgnoreList(cfg.GUID.Ignore)

	s := &Set{
		clients: make(map[string]backend.Client, len(cfg.Backends)),
		doers:   make(map[string]transport.Doer, len(cfg.Backends)),
		cache:   cache.New(cfg.Cache.TTL, cfg.Cache.CleanupInterval),
		guids:   reg,
	}
	kinds := NewRegistry()

	for _, b := range cfg.Backends {
		if _, dup := s.clients[b.Name]; dup {
			s.Close()
			return nil, fmt.Errorf("backend %s declared twice", b.Name)
		}

		bctx, err := Context(cfg, b)
		if err != nil {
			s.Close()
			return nil, err
		}
		tc := transport.New(b.Name, TransportConfig(cfg.Transport), doer)
		deps := backend.Deps{
			Doer:   tc,
			Cache:  s.cache,
			GUID:   reg,
			Rules:  rules,
			Ignore: ignore,
		}

		client, err := kinds.New(bctx, deps)
		if err != nil {
			s.Close()
			return nil, err
		}

		if bctx.BackendID == "" {
			if id := client.GetIdentifier(ctx); id.Success {
				bctx.BackendID = id.Value
				if client, err = kinds.New(bctx, deps); err != nil {
					s.Close()
					return nil, err
				}
			} else {
				logging.Warn().Err(id.Err()).Str("backend", b.Name).Msg("Backend identifier lookup failed")
			}
		}

		s.clients[b.Name] = client
		s.doers[b.Name] = tc
		s.names = append(s.names, b.Name)
	}

	logging.Info().
		Strs("backends", s.names).
		Int("authorities", len(reg.Supported())).
		Msg("Backends configured")

	return s, nil
}

// Context converts one backend section into a backend.Context.
func Context(cfg *config.Config, b config.BackendConfig) (backend.Context, error) {
	u, err := url.Parse(strings.TrimSuffix(b.URL, "/"))
	if err != nil {
		return backend.Context{}, fmt.Errorf("backend %s: invalid url: %w", b.Name, err)
	}

	opts := backend.DefaultOptions()
	opts.LibrarySegment = b.Options.LibrarySegment
	opts.IgnoreLibraries = b.Options.IgnoreLibraries
	opts.ClientIdentifier = b.Options.ClientIdentifier
	opts.Debug = b.Options.Debug
	opts.Trace = b.Options.Debug && cfg.Logging.Level == "trace"
	if cfg.Sync.Concurrency > 0 {
		opts.Concurrency = cfg.Sync.Concurrency
	}
	opts.Timeout = cfg.Sync.Timeout
	if cfg.Sync.TimeDrift > 0 {
		opts.TimeDrift = cfg.Sync.TimeDrift
	}
	if cfg.Sync.ExportAllowedDiff > 0 {
		opts.ExportAllowedTimeDiff = cfg.Sync.ExportAllowedDiff
	}
	if cfg.Sync.MetadataTTL > 0 {
		opts.MetadataTTL = cfg.Sync.MetadataTTL
	}

	return backend.Context{
		Kind:      strings.ToLower(b.Kind),
		Name:      b.Name,
		URL:       u,
		Token:     b.Token,
		User:      b.User,
		BackendID: b.BackendID,
		Options:   opts,
	}, nil
}

// TransportConfig converts the transport section.
func TransportConfig(c config.TransportConfig) transport.Config {
	return transport.Config{
		Timeout:           c.Timeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		RetryAttempts:     c.RetryAttempts,
		RetryDelay:        c.RetryDelay,
		BreakerFailures:   c.BreakerFailures,
		BreakerTimeout:    c.BreakerTimeout,
	}
}

// Get returns the client called name.
func (s *Set) Get(name string) (backend.Client, bool) {
	c, ok := s.clients[name]
	return c, ok
}

// Names returns the backend names in configuration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Others returns every client except name, sorted by name.
func (s *Set) Others(name string) []backend.Client {
	out := make([]backend.Client, 0, len(s.clients))
	for n, c := range s.clients {
		if n != name {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context().Name < out[j].Context().Name })
	return out
}

// Doers returns each backend's transport, keyed by backend name, for the
// write dispatcher.
func (s *Set) Doers() map[string]transport.Doer {
	out := make(map[string]transport.Doer, len(s.doers))
	for n, d := range s.doers {
		out[n] = d
	}
	return out
}

// GUIDRegistry returns the identifier registry shared by all clients.
func (s *Set) GUIDRegistry() *guid.Registry {
	return s.guids
}

// Invalidate drops every cached entry of backend name and returns how many
// were removed.
func (s *Set) Invalidate(name string) int {
	return s.cache.DeletePrefix(backend.CachePrefix(name))
}

// Close stops the cache cleanup loop.
func (s *Set) Close() {
	stats := s.cache.GetStats()
	logging.Debug().
		Int64("hits", stats.Hits).
		Int64("misses", stats.Misses).
		Int64("evictions", stats.Evictions).
		Float64("hit_rate", s.cache.HitRate()).
		Msg("Backend cache closed")
	s.cache.Close()
}
