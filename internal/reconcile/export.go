// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"context"
	"time"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/state"
)

// DecidePlayState decides whether the backend needs a play-state write to
// match local. A remote date later than local.Updated plus tolerance means
// the backend holds the newer change. ignoreDate skips both date checks.
func DecidePlayState(local *state.Item, remoteWatched bool, remoteDate int64, tolerance time.Duration, ignoreDate bool) Outcome {
	if !ignoreDate {
		if remoteDate == 0 {
			return IgnoredNoDate
		}
		if remoteDate > local.Updated+int64(tolerance/time.Second) {
			return IgnoredDateNewer
		}
	}
	if remoteWatched == local.Watched {
		return IgnoredUnchanged
	}
	return Queued
}

// Export compares every backend item with the local record and queues
// play-state writes where the local state is newer and different.
func (r *Run) Export(ctx context.Context) backend.Result[[]queue.Request] {
	ctx, cancel, done := r.begin(ctx, ActionExport)
	defer cancel()

	err := r.eachLibrary(ctx, func(ctx context.Context, lib backend.Library, items []backend.Item) {
		for _, it := range items {
			if ctx.Err() != nil {
				return
			}
			r.exportItem(ctx, lib, it)
		}
	})
	done(err)
	if err != nil {
		return backend.Failed[[]queue.Request](backend.Wrap(r.name(), err, "export")).
			With(backend.ExtraMessage, "queued requests were kept")
	}
	return backend.OK(r.staged())
}

func (r *Run) exportItem(ctx context.Context, lib backend.Library, it backend.Item) {
	if it.Type != state.TypeMovie && it.Type != state.TypeEpisode {
		return
	}
	if !r.client.Resolver().HasSupported(it.Type, it.RawIDs) {
		r.ignore(ctx, it.Type, IgnoredNoGuid, it.Title, "No supported external ids")
		return
	}

	entity := r.client.ToEntity(ctx, it, backend.EntityOptions{})
	if !entity.Success {
		r.stats.Add(it.Type, Failed)
		logging.Ctx(ctx).Warn().Err(entity.Err()).Str("item", it.ID).Msg("Item conversion failed")
		return
	}

	local, err := r.mapper.Find(ctx, entity.Value)
	if err != nil {
		r.stats.Add(it.Type, Failed)
		logging.Ctx(ctx).Error().Err(err).Str("item", it.ID).Msg("Mapper lookup failed")
		return
	}
	if local == nil {
		r.ignore(ctx, it.Type, IgnoredNotFound, entity.Value.Name(), "Not in local record")
		return
	}

	if after := r.options.After; !after.IsZero() && local.Updated <= after.Unix() {
		r.ignore(ctx, it.Type, IgnoredNotSynced, local.Name(), "Not changed since last sync")
		return
	}

	o := DecidePlayState(local, it.Watched, it.Date, 0, r.options.IgnoreDate)
	if o != Queued {
		r.ignore(ctx, it.Type, o, local.Name(), "No play state change")
		return
	}

	library := it.Library
	if library == "" {
		library = lib.ID
	}
	r.queuePlayState(ctx, local, it.ID, library)
}

func (r *Run) queuePlayState(ctx context.Context, local *state.Item, id, library string) {
	req, err := r.client.PlayStateRequest(backend.PlayStateTarget{
		ID:      id,
		Library: library,
		Watched: local.Watched,
		Date:    local.Updated,
	})
	if err != nil {
		r.stats.Add(local.Type, Failed)
		logging.Ctx(ctx).Error().Err(err).Str("item", id).Msg("Play state request failed")
		return
	}
	r.stage(ctx, local.Type, req, local.Name())
}

// Push compares the given local items with the backend's current metadata
// and queues play-state writes. Items are typically the ones touched by
// webhooks since the last push.
func (r *Run) Push(ctx context.Context, items []*state.Item) backend.Result[[]queue.Request] {
	ctx, cancel, done := r.begin(ctx, ActionPush)
	defer cancel()

	r.each(ctx, items, r.pushItem)

	done(ctx.Err())
	return backend.OK(r.staged())
}

func (r *Run) pushItem(ctx context.Context, local *state.Item) {
	if !local.HasGUIDs() && !local.HasRelativeGUID() {
		r.ignore(ctx, local.Type, IgnoredNoGuid, local.Name(), "No external ids")
		return
	}

	meta, ok := local.MetadataFor(r.name())
	if !ok || meta.ID == "" {
		r.ignore(ctx, local.Type, IgnoredNotFound, local.Name(), "No backend id")
		return
	}

	remote := r.client.GetMetaData(ctx, meta.ID, backend.MetaOptions{NoCache: true})
	if !remote.Success {
		r.ignore(ctx, local.Type, IgnoredNotFound, local.Name(), "Backend metadata lookup failed")
		return
	}

	o := DecidePlayState(local, remote.Value.Watched, remote.Value.When(true),
		r.options.ExportAllowedTimeDiff, r.options.IgnoreDate)
	if o != Queued {
		r.ignore(ctx, local.Type, o, local.Name(), "No play state change")
		return
	}

	library := meta.Library
	if library == "" {
		library = remote.Value.Library
	}
	r.queuePlayState(ctx, local, meta.ID, library)
}

// UpdateState queues play-state writes for items whose watched flag
// differs from the backend's. Tainted items never change play state and
// are skipped.
func (r *Run) UpdateState(ctx context.Context, items []*state.Item) backend.Result[[]queue.Request] {
	ctx, cancel, done := r.begin(ctx, ActionUpdateState)
	defer cancel()

	r.each(ctx, items, func(ctx context.Context, item *state.Item) {
		if item.Tainted {
			r.ignore(ctx, item.Type, IgnoredUnchanged, item.Name(), "Tainted event")
			return
		}
		meta, ok := item.MetadataFor(r.name())
		if !ok || meta.ID == "" {
			r.ignore(ctx, item.Type, IgnoredNotFound, item.Name(), "No backend id")
			return
		}
		remote := r.client.GetMetaData(ctx, meta.ID, backend.MetaOptions{NoCache: true})
		if !remote.Success {
			r.ignore(ctx, item.Type, IgnoredNotFound, item.Name(), "Backend metadata lookup failed")
			return
		}
		if remote.Value.Watched == item.Watched {
			r.ignore(ctx, item.Type, IgnoredUnchanged, item.Name(), "Already in sync")
			return
		}
		r.queuePlayState(ctx, item, meta.ID, meta.Library)
	})

	done(ctx.Err())
	return backend.OK(r.staged())
}
