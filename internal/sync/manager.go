// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
manager.go - Sync Manager

The Manager runs reconciliation actions across the configured backends and
sends the writes they queue.

Actions:
  - Import: every backend with import enabled (or the named ones)
  - Export: every backend with export enabled (or the named ones)
  - Push: local items changed since the watermark, to every backend
  - Progress: local items with a playback offset, to every backend
  - PushPending / ProgressPending: items announced on the event bus since
    the last call

Watermarks:
  - Overrides.After applies to every run when set.
  - Otherwise scheduled runs use the start time of the last successful run
    of the same action and backend; the first run is a full one.

Thread Safety:
  - runMu: one action at a time; a scheduled export never overlaps an import
  - mu: protects lastRun
*/

//nolint:staticcheck // File documentation, not package doc
package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/events"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/reconcile"
	"github.com/tomtom215/statesync/internal/state"
)

// Backends is the configured client set.
type Backends interface {
	Get(name string) (backend.Client, bool)
	Names() []string
}

// Invalidator is implemented by backend sets that cache metadata. Cached
// entries of a backend are dropped after it was imported.
type Invalidator interface {
	Invalidate(name string) int
}

// Overrides adjust every run of a Manager.
type Overrides struct {
	After      time.Time
	DryRun     bool
	IgnoreDate bool
}

// Report describes one action run against one backend.
type Report struct {
	Backend    string
	Action     string
	Stats      *reconcile.Stats
	Summary    state.Summary
	Requests   []queue.Request
	Dispatched []queue.Outcome
	Err        error
	Duration   time.Duration
}

// Failed returns the number of dispatched writes that did not succeed.
func (r Report) Failed() int {
	n := 0
	for _, o := range r.Dispatched {
		if !o.OK() {
			n++
		}
	}
	return n
}

// Manager orchestrates reconciliation runs.
type Manager struct {
	backends   Backends
	cfg        []config.BackendConfig
	mapper     reconcile.Mapper
	pending    *events.Pending
	dispatcher *queue.Dispatcher
	overrides  Overrides

	runMu sync.Mutex

	mu      sync.Mutex
	lastRun map[string]time.Time
}

// NewManager creates a Manager. pending may be nil outside serve mode.
func NewManager(set Backends, cfg []config.BackendConfig, mapper reconcile.Mapper,
	pending *events.Pending, dispatcher *queue.Dispatcher, overrides Overrides) *Manager {
	return &Manager{
		backends:   set,
		cfg:        cfg,
		mapper:     mapper,
		pending:    pending,
		dispatcher: dispatcher,
		overrides:  overrides,
		lastRun:    map[string]time.Time{},
	}
}

// Import imports from the named backends, or every import-enabled one.
func (m *Manager) Import(ctx context.Context, names ...string) []Report {
	return m.perBackend(ctx, reconcile.ActionImport, m.selected(names, func(b config.BackendConfig) bool { return b.Import }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			res := run.Import(ctx)
			rep.Summary = res.Value
			rep.Err = res.Err()
			if inv, ok := m.backends.(Invalidator); ok && res.Success {
				n := inv.Invalidate(rep.Backend)
				logging.Ctx(ctx).Debug().Str("backend", rep.Backend).Int("entries", n).Msg("Backend cache invalidated")
			}
		})
}

// Export exports to the named backends, or every export-enabled one.
func (m *Manager) Export(ctx context.Context, names ...string) []Report {
	return m.perBackend(ctx, reconcile.ActionExport, m.selected(names, func(b config.BackendConfig) bool { return b.Export }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			res := run.Export(ctx)
			rep.Requests = res.Value
			rep.Err = res.Err()
		})
}

// Push sends local items changed since the watermark to the named
// backends, or every export-enabled one.
func (m *Manager) Push(ctx context.Context, names ...string) []Report {
	return m.perBackend(ctx, reconcile.ActionPush, m.selected(names, func(b config.BackendConfig) bool { return b.Export }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			items, err := m.mapper.Changed(ctx, run.Options().After.Unix())
			if err != nil {
				rep.Err = err
				return
			}
			res := run.Push(ctx, items)
			rep.Requests = res.Value
			rep.Err = res.Err()
		})
}

// Progress sends playback offsets of local items changed since the
// watermark to the named backends, or every export-enabled one.
func (m *Manager) Progress(ctx context.Context, names ...string) []Report {
	return m.perBackend(ctx, reconcile.ActionProgress, m.selected(names, func(b config.BackendConfig) bool { return b.Export }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			items, err := m.mapper.Changed(ctx, run.Options().After.Unix())
			if err != nil {
				rep.Err = err
				return
			}
			res := run.Progress(ctx, withProgress(items))
			rep.Requests = res.Value
			rep.Err = res.Err()
		})
}

// PushPending updates the play state of items announced since the last
// call on every export-enabled backend.
func (m *Manager) PushPending(ctx context.Context) []Report {
	if m.pending == nil {
		return nil
	}
	items := m.load(ctx, m.pending.DrainPlayed())
	if len(items) == 0 {
		return nil
	}
	return m.perBackend(ctx, reconcile.ActionUpdateState, m.selected(nil, func(b config.BackendConfig) bool { return b.Export }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			res := run.UpdateState(ctx, items)
			rep.Requests = res.Value
			rep.Err = res.Err()
		})
}

// ProgressPending sends the offsets of items announced since the last call.
func (m *Manager) ProgressPending(ctx context.Context) []Report {
	if m.pending == nil {
		return nil
	}
	items := withProgress(m.load(ctx, m.pending.DrainProgress()))
	if len(items) == 0 {
		return nil
	}
	return m.perBackend(ctx, reconcile.ActionProgress, m.selected(nil, func(b config.BackendConfig) bool { return b.Export }),
		func(ctx context.Context, run *reconcile.Run, rep *Report) {
			res := run.Progress(ctx, items)
			rep.Requests = res.Value
			rep.Err = res.Err()
		})
}

// LastRun returns the start time of the last successful action run against
// backend.
func (m *Manager) LastRun(action, backendName string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastRun[action+"/"+backendName]
	return t, ok
}

func (m *Manager) selected(names []string, enabled func(config.BackendConfig) bool) []string {
	if len(names) > 0 {
		return names
	}
	var out []string
	for _, b := range m.cfg {
		if enabled(b) {
			out = append(out, b.Name)
		}
	}
	return out
}

func (m *Manager) options(client backend.Client, action string) backend.Options {
	opts := client.Context().Options
	opts.DryRun = m.overrides.DryRun
	opts.IgnoreDate = m.overrides.IgnoreDate
	switch {
	case !m.overrides.After.IsZero():
		opts.After = m.overrides.After
	default:
		if t, ok := m.LastRun(action, client.Context().Name); ok {
			opts.After = t
		}
	}
	return opts
}

type runFunc func(ctx context.Context, run *reconcile.Run, rep *Report)

func (m *Manager) perBackend(ctx context.Context, action string, names []string, fn runFunc) []Report {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	reports := make([]Report, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		rep := Report{Backend: name, Action: action}

		client, ok := m.backends.Get(name)
		if !ok {
			rep.Err = errors.New("unknown backend " + name)
			reports = append(reports, rep)
			continue
		}

		start := time.Now()
		run := reconcile.New(client, m.mapper, queue.New()).WithOptions(m.options(client, action))
		fn(ctx, run, &rep)
		rep.Stats = run.Stats()

		if !run.Options().DryRun && m.dispatcher != nil {
			if reqs := run.Queue().Drain(); len(reqs) > 0 {
				rep.Dispatched = m.dispatcher.Dispatch(ctx, reqs)
			}
		}
		rep.Duration = time.Since(start)

		if rep.Err == nil {
			m.mu.Lock()
			m.lastRun[action+"/"+name] = start
			m.mu.Unlock()
		}

		logging.Ctx(ctx).Info().
			Str("backend", name).
			Str("action", action).
			Int("queued", len(rep.Requests)).
			Int("dispatched", len(rep.Dispatched)).
			Int("failed", rep.Failed()).
			Dur("duration", rep.Duration).
			Msg("Action complete")
		reports = append(reports, rep)
	}
	return reports
}

func (m *Manager) load(ctx context.Context, ids []string) []*state.Item {
	items := make([]*state.Item, 0, len(ids))
	for _, id := range ids {
		item, err := m.mapper.Get(ctx, id)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("item", id).Msg("Pending item lookup failed")
			continue
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items
}

func withProgress(items []*state.Item) []*state.Item {
	out := make([]*state.Item, 0, len(items))
	for _, i := range items {
		if i.HasProgress() {
			out = append(out, i)
		}
	}
	return out
}
