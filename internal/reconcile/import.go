// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"context"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
)

// Import adds every item of the backend's libraries to the mapper and
// commits. The value is the commit summary.
func (r *Run) Import(ctx context.Context) backend.Result[state.Summary] {
	ctx, cancel, done := r.begin(ctx, ActionImport)
	defer cancel()

	err := r.eachLibrary(ctx, func(ctx context.Context, _ backend.Library, items []backend.Item) {
		for _, it := range items {
			if ctx.Err() != nil {
				return
			}
			r.importItem(ctx, it)
		}
	})

	summary, cerr := r.mapper.Commit(ctx)
	if cerr != nil {
		done(cerr)
		return backend.Fail[state.Summary](backend.Wrap(r.name(), cerr, "commit"))
	}
	if summary == nil {
		summary = state.Summary{}
	}
	done(err)
	if err != nil {
		return backend.Failed[state.Summary](backend.Wrap(r.name(), err, "import")).
			With(backend.ExtraMessage, "committed items were kept")
	}
	return backend.OK(summary)
}

func (r *Run) importItem(ctx context.Context, it backend.Item) {
	if it.Type != state.TypeMovie && it.Type != state.TypeEpisode {
		return
	}

	if !r.client.Resolver().HasSupported(it.Type, it.RawIDs) {
		r.ignore(ctx, it.Type, IgnoredNoGuid, it.Title, "No supported external ids")
		return
	}

	date := it.Date
	if date == 0 {
		r.ignore(ctx, it.Type, IgnoredNoDate, it.Title, "No date")
		return
	}
	if after := r.options.After; !after.IsZero() && date <= after.Unix() {
		r.ignore(ctx, it.Type, IgnoredNotSynced, it.Title, "Not changed since last sync")
		return
	}

	name := r.name()
	entity := r.client.ToEntity(ctx, it, backend.EntityOptions{
		Override: func(e *state.Item) {
			e.Extra[name] = state.Extra{Event: EventImport, Date: date}
		},
	})
	if !entity.Success {
		r.stats.Add(it.Type, Failed)
		logging.Ctx(ctx).Warn().Err(entity.Err()).Str("item", it.ID).Msg("Item conversion failed")
		return
	}
	if !entity.Value.HasGUIDs() && !entity.Value.HasRelativeGUID() {
		r.ignore(ctx, it.Type, IgnoredNoGuid, it.Title, "All external ids ignored")
		return
	}

	if err := r.mapper.Add(ctx, name, entity.Value); err != nil {
		r.stats.Add(it.Type, Failed)
		logging.Ctx(ctx).Error().Err(err).Str("item", entity.Value.Name()).Msg("Mapper add failed")
		return
	}
	r.stats.Add(it.Type, Committed)
}
