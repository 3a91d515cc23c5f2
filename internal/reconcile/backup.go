// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"context"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
)

// BackupRecord is one line of a backup stream.
type BackupRecord struct {
	Type    string   `json:"type"`
	Title   string   `json:"title"`
	Year    int      `json:"year,omitempty"`
	Season  int      `json:"season,omitempty"`
	Episode int      `json:"episode,omitempty"`
	Watched bool     `json:"watched"`
	Updated int64    `json:"updated"`
	GUIDs   guid.Set `json:"guids"`
	Parent  guid.Set `json:"parent,omitempty"`
}

func newBackupRecord(i *state.Item) BackupRecord {
	return BackupRecord{
		Type:    i.Type,
		Title:   i.Title,
		Year:    i.Year,
		Season:  i.Season,
		Episode: i.Episode,
		Watched: i.Watched,
		Updated: i.Updated,
		GUIDs:   i.GUIDs,
		Parent:  i.Parent,
	}
}

// Backup writes one JSON line per backend item with usable ids and returns
// the number of lines written.
func (r *Run) Backup(ctx context.Context, w io.Writer) backend.Result[int] {
	ctx, cancel, done := r.begin(ctx, ActionBackup)
	defer cancel()

	var (
		mu      sync.Mutex
		written int
		werr    error
	)
	enc := json.NewEncoder(w)

	err := r.eachLibrary(ctx, func(ctx context.Context, _ backend.Library, items []backend.Item) {
		for _, it := range items {
			if ctx.Err() != nil {
				return
			}
			if it.Type != state.TypeMovie && it.Type != state.TypeEpisode {
				continue
			}
			if !r.client.Resolver().HasSupported(it.Type, it.RawIDs) {
				r.ignore(ctx, it.Type, IgnoredNoGuid, it.Title, "No supported external ids")
				continue
			}
			entity := r.client.ToEntity(ctx, it, backend.EntityOptions{})
			if !entity.Success {
				r.stats.Add(it.Type, Failed)
				logging.Ctx(ctx).Warn().Err(entity.Err()).Str("item", it.ID).Msg("Item conversion failed")
				continue
			}

			mu.Lock()
			if werr == nil {
				if werr = enc.Encode(newBackupRecord(entity.Value)); werr == nil {
					written++
				}
			}
			mu.Unlock()
			r.stats.Add(it.Type, Committed)
		}
	})

	if werr != nil {
		done(werr)
		return backend.Fail[int](backend.Wrap(r.name(), werr, "write backup"))
	}
	done(err)
	if err != nil {
		return backend.Failed[int](backend.Wrap(r.name(), err, "backup")).With(backend.ExtraMessage, "partial backup written")
	}
	return backend.OK(written)
}
