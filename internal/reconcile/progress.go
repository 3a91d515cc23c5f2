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

// Progress queues playback offset writes for local items whose progress
// was reported by another backend.
//
// The sender is the backend that last produced the item (Item.Via). Items
// sent by this backend are never written back to it.
func (r *Run) Progress(ctx context.Context, items []*state.Item) backend.Result[[]queue.Request] {
	ctx, cancel, done := r.begin(ctx, ActionProgress)
	defer cancel()

	r.each(ctx, items, r.progressItem)

	done(ctx.Err())
	return backend.OK(r.staged())
}

func (r *Run) progressItem(ctx context.Context, item *state.Item) {
	target := r.name()
	if !item.HasGUIDs() && !item.HasRelativeGUID() {
		r.ignore(ctx, item.Type, IgnoredNoGuid, item.Name(), "No external ids")
		return
	}
	if item.Via == target || onlyExtraFrom(item, target) {
		r.ignore(ctx, item.Type, IgnoredNotSynced, item.Name(), "Progress came from this backend")
		return
	}

	meta, ok := item.MetadataFor(target)
	if !ok || meta.ID == "" {
		r.ignore(ctx, item.Type, IgnoredNotFound, item.Name(), "No backend id")
		return
	}
	remote := r.client.GetMetaData(ctx, meta.ID, backend.MetaOptions{NoCache: true})
	if !remote.Success {
		r.ignore(ctx, item.Type, IgnoredNotFound, item.Name(), "Backend metadata lookup failed")
		return
	}

	sender, hasSender := item.ExtraFor(item.Via)
	checkDate := !r.options.IgnoreDate
	// senderDate is the sender event date less the allowed clock drift.
	var senderDate int64
	if checkDate {
		if !hasSender || sender.Date == 0 {
			r.ignore(ctx, item.Type, IgnoredNoDate, item.Name(), "No sender event date")
			return
		}
		if after := r.options.After; !after.IsZero() && max(item.Updated, sender.Date) <= after.Unix() {
			r.ignore(ctx, item.Type, IgnoredNotSynced, item.Name(), "Not changed since last sync")
			return
		}
		senderDate = sender.Date - int64(r.options.TimeDrift/time.Second)
		if own, ok := item.ExtraFor(target); ok && own.Date > senderDate {
			r.ignore(ctx, item.Type, IgnoredDateNewer, item.Name(), "Backend event is as recent as the sender's")
			return
		}
	}

	if r.activeSession(ctx, meta.ID) {
		r.ignore(ctx, item.Type, IgnoredActiveSession, item.Name(), "Item is playing")
		return
	}

	if checkDate && remote.Value.When(true) > senderDate {
		r.ignore(ctx, item.Type, IgnoredDateNewer, item.Name(), "Backend item changed after the sender event")
		return
	}
	if remote.Value.Watched {
		r.ignore(ctx, item.Type, IgnoredRemoteWatched, item.Name(), "Backend reports watched")
		return
	}

	position := item.Progress()
	if position <= 0 || position == remote.Value.Progress {
		r.ignore(ctx, item.Type, IgnoredUnchanged, item.Name(), "No progress change")
		return
	}

	duration := remote.Value.Duration
	if duration == 0 {
		duration = item.Metadata[item.Via].Duration
	}
	library := meta.Library
	if library == "" {
		library = remote.Value.Library
	}

	req, err := r.client.ProgressRequest(backend.ProgressTarget{
		ID:       meta.ID,
		Library:  library,
		Position: position,
		Duration: duration,
		Date:     sender.Date,
	})
	if err != nil {
		r.stats.Add(item.Type, Failed)
		logging.Ctx(ctx).Error().Err(err).Str("item", meta.ID).Msg("Progress request failed")
		return
	}
	r.stage(ctx, item.Type, req, item.Name())
}

// onlyExtraFrom reports whether backend is the only one with an extra
// block on item.
func onlyExtraFrom(item *state.Item, backend string) bool {
	if len(item.Extra) != 1 {
		return false
	}
	_, ok := item.Extra[backend]
	return ok
}
