// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
Package reconcile implements the reconciliation runs between one backend and
the local system of record.

  - Import: backend libraries -> Mapper (Committed)
  - Export: backend libraries compared with the Mapper -> play-state writes
  - Push: recently changed local items -> play-state writes
  - Progress: local playback offsets -> progress writes
  - UpdateState: webhook items -> play-state writes where the backend disagrees
  - Backup: backend libraries -> JSON lines

Every run is written once against backend.Client, so the three backend kinds
share the same decisions. Each item ends in exactly one Outcome, counted in
the run's Stats. Writes are never sent here; they are staged in a
queue.Queue and dispatched by queue.Dispatcher.
*/
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/state"
)

// Action names used in logs and metrics.
const (
	ActionImport      = "import"
	ActionExport      = "export"
	ActionPush        = "push"
	ActionProgress    = "progress"
	ActionUpdateState = "update_state"
	ActionBackup      = "backup"
)

// EventImport is the extra event recorded for imported items.
const EventImport = "task.import"

// Run reconciles one backend. A Run is not reused across concurrent
// actions; create one per action.
type Run struct {
	client  backend.Client
	mapper  Mapper
	queue   *queue.Queue
	options backend.Options
	stats   *Stats

	// requests mirrors what the run enqueued, deduplicated like the queue.
	mu       sync.Mutex
	requests []queue.Request
	index    map[string]int

	sessionsOnce sync.Once
	sessions     []backend.Session
	sessionsErr  error
}

// New creates a Run using the client's options.
func New(client backend.Client, mapper Mapper, q *queue.Queue) *Run {
	if q == nil {
		q = queue.New()
	}
	return &Run{
		client:  client,
		mapper:  mapper,
		queue:   q,
		options: client.Context().Options,
	}
}

// WithOptions replaces the run options.
func (r *Run) WithOptions(opts backend.Options) *Run {
	r.options = opts
	return r
}

// Options returns the run options.
func (r *Run) Options() backend.Options { return r.options }

// Stats returns the counters of the last action, or nil before any ran.
func (r *Run) Stats() *Stats { return r.stats }

// Queue returns the write queue.
func (r *Run) Queue() *queue.Queue { return r.queue }

func (r *Run) name() string { return r.client.Context().Name }

// begin starts one action: fresh stats, a run id, a logger carrying the
// backend and action, and the run timeout.
func (r *Run) begin(ctx context.Context, action string) (context.Context, context.CancelFunc, func(error)) {
	r.stats = NewStats(r.name(), action)
	r.mu.Lock()
	r.requests = nil
	r.index = map[string]int{}
	r.mu.Unlock()

	if logging.RunIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewRunID(ctx)
	}
	ctx = logging.ContextWithLogger(ctx, logging.LoggerFromContext(ctx).With().
		Str("backend", r.name()).
		Str("action", action).
		Logger())
	cancel := context.CancelFunc(func() {})
	if r.options.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.options.Timeout)
	}

	start := time.Now()
	logging.Ctx(ctx).Info().
		Bool("dry_run", r.options.DryRun).
		Msg("Run started")

	return ctx, cancel, func(err error) {
		metrics.RecordRun(r.name(), action, time.Since(start), err == nil)
		level := zerolog.InfoLevel
		if err != nil {
			level = zerolog.WarnLevel
		}
		logging.Ctx(ctx).WithLevel(level).Err(err).
			Interface("outcomes", r.stats.Snapshot()).
			Dur("duration", time.Since(start)).
			Msg("Run finished")
	}
}

// ignore counts a benign outcome and logs it at debug level.
func (r *Run) ignore(ctx context.Context, itemType string, o Outcome, item, reason string) {
	r.stats.Add(itemType, o)
	logging.Ctx(ctx).Debug().
		Str("item", item).
		Str("outcome", string(o)).
		Msg(reason)
}

// stage queues req unless the run is a dry run and counts it as Queued. A
// request for an item and purpose already staged by this run replaces the
// earlier one.
func (r *Run) stage(ctx context.Context, itemType string, req queue.Request, item string) {
	r.stats.Add(itemType, Queued)
	r.mu.Lock()
	if i, ok := r.index[req.Tag.Key()]; ok {
		r.requests[i] = req
	} else {
		r.index[req.Tag.Key()] = len(r.requests)
		r.requests = append(r.requests, req)
	}
	r.mu.Unlock()

	if !r.options.DryRun {
		r.queue.Enqueue(req)
		metrics.QueueDepth.Set(float64(r.queue.Count()))
	}
	logging.Ctx(ctx).Info().
		Str("item", item).
		Str("method", req.Method).
		Str("purpose", req.Tag.Purpose).
		Bool("dry_run", r.options.DryRun).
		Msg("Write queued")
}

func (r *Run) staged() []queue.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.Request, len(r.requests))
	copy(out, r.requests)
	return out
}

func (r *Run) concurrency() int {
	if r.options.Concurrency < 1 {
		return 4
	}
	return r.options.Concurrency
}

// eachLibrary fetches every supported, non-ignored library concurrently and
// calls fn once per library with its items. An empty library list is not an
// error. Failed libraries are logged and reported in the returned error;
// other libraries still complete.
func (r *Run) eachLibrary(ctx context.Context, fn func(ctx context.Context, lib backend.Library, items []backend.Item)) error {
	libs := r.client.GetLibrariesList(ctx)
	if !libs.Success {
		if errors.Is(libs.Err(), backend.ErrNoLibraries) {
			logging.Ctx(ctx).Info().Msg("Backend has no libraries")
			return nil
		}
		return libs.Err()
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(r.concurrency())
	for _, lib := range libs.Value {
		if !lib.Supported {
			logging.Ctx(ctx).Debug().Str("library", lib.Title).
				Str("type", lib.NativeType).Msg("Library not supported")
			continue
		}
		if lib.Ignored || r.options.IsLibraryIgnored(lib.ID) {
			logging.Ctx(ctx).Debug().Str("library", lib.Title).Msg("Library ignored")
			continue
		}

		p.Go(func(ctx context.Context) error {
			res := r.client.GetLibrary(ctx, lib.ID, r.options)
			if !res.Success {
				logging.Ctx(ctx).Error().Err(res.Err()).
					Str("library", lib.Title).
					Msg("Library fetch failed")
				return fmt.Errorf("library %s: %w", lib.ID, res.Err())
			}
			logging.Ctx(ctx).Debug().
				Str("library", lib.Title).
				Int("items", len(res.Value)).
				Msg("Processing library")
			fn(ctx, lib, res.Value)
			return nil
		})
	}
	return p.Wait()
}

// each runs fn over items on a bounded pool.
func (r *Run) each(ctx context.Context, items []*state.Item, fn func(ctx context.Context, item *state.Item)) {
	p := pool.New().WithMaxGoroutines(r.concurrency())
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		p.Go(func() { fn(ctx, item) })
	}
	p.Wait()
}

// activeSession reports whether itemID is playing for the configured user.
// Sessions are fetched once per run; a failed fetch counts as no session.
func (r *Run) activeSession(ctx context.Context, itemID string) bool {
	r.sessionsOnce.Do(func() {
		res := r.client.GetSessions(ctx)
		if !res.Success {
			r.sessionsErr = res.Err()
			logging.Ctx(ctx).Warn().Err(r.sessionsErr).Msg("Session listing failed")
			return
		}
		r.sessions = res.Value
	})

	user := r.client.Context().User
	for _, s := range r.sessions {
		if s.ItemID == itemID && (user == "" || s.UserID == user) {
			return true
		}
	}
	return false
}
