// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tomtom215/statesync/internal/backends"
	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/events"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/store"
	"github.com/tomtom215/statesync/internal/sync"
)

type globalFlags struct {
	config     string
	backends   []string
	after      string
	dryRun     bool
	ignoreDate bool
	logLevel   string
}

type commandContext struct {
	flags  *globalFlags
	fs     afero.Fs
	config *config.Config
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags, fs: afero.NewOsFs()}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	cfg, err := config.Load(strings.TrimSpace(c.flags.config))
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LoggingOptions())
	if level := strings.TrimSpace(c.flags.logLevel); level != "" {
		logging.SetLevelString(level)
	}
	c.config = cfg
	return cfg, nil
}

// overrides converts the run flags.
func (c *commandContext) overrides(now time.Time) (sync.Overrides, error) {
	after, err := parseAfter(c.flags.after, now)
	if err != nil {
		return sync.Overrides{}, err
	}
	return sync.Overrides{After: after, DryRun: c.flags.dryRun, IgnoreDate: c.flags.ignoreDate}, nil
}

// selectedBackends validates --backend against the configuration.
func (c *commandContext) selectedBackends() ([]string, error) {
	if len(c.flags.backends) == 0 {
		return nil, nil
	}
	for _, name := range c.flags.backends {
		if _, ok := c.config.Backend(name); !ok {
			return nil, fmt.Errorf("unknown backend %q", name)
		}
	}
	return c.flags.backends, nil
}

// clients builds the backend set alone, for commands that never touch the
// store.
func (c *commandContext) clients(ctx context.Context) (*backends.Set, []string, error) {
	names, err := c.selectedBackends()
	if err != nil {
		return nil, nil, err
	}
	set, err := backends.Build(ctx, c.config, c.fs, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("configure backends: %w", err)
	}
	if len(names) == 0 {
		names = set.Names()
	}
	return set, names, nil
}

// runtime is everything a command needs once configuration is loaded.
type runtime struct {
	cfg        *config.Config
	set        *backends.Set
	store      *store.Store
	dispatcher *queue.Dispatcher
	lock       *flock.Flock
}

// manager builds a sync manager over rt.
func (rt *runtime) manager(pending *events.Pending, overrides sync.Overrides) *sync.Manager {
	return sync.NewManager(rt.set, rt.cfg.Backends, rt.store, pending, rt.dispatcher, overrides)
}

// open takes the store lock, builds the backend clients and opens the store.
func (c *commandContext) open(ctx context.Context) (*runtime, error) {
	cfg := c.config
	rt := &runtime{cfg: cfg}

	if !cfg.Store.InMemory {
		lock, err := acquireLock(lockPath(cfg.Store))
		if err != nil {
			return nil, err
		}
		rt.lock = lock
	}

	set, err := backends.Build(ctx, cfg, c.fs, nil)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("configure backends: %w", err)
	}
	rt.set = set

	st, err := store.Open(cfg.Store)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.store = st

	rt.dispatcher = queue.NewDispatcher(set.Doers(), nil, cfg.Sync.Concurrency)
	return rt, nil
}

func (rt *runtime) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}
	if rt.set != nil {
		rt.set.Close()
	}
	if rt.lock != nil {
		_ = rt.lock.Unlock()
	}
}

// errLocked is returned when another statesync process holds the store.
var errLocked = errors.New("store is in use by another statesync process")

func lockPath(cfg config.StoreConfig) string {
	return filepath.Clean(cfg.Path) + ".lock"
}

func acquireLock(path string) (*flock.Flock, error) {
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", errLocked, path)
	}
	return lock, nil
}

// parseAfter accepts RFC3339, epoch seconds or a duration counted back from now.
func parseAfter(v string, now time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(n, 0), nil
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid --after %q: want RFC3339, epoch seconds or a duration", v)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
