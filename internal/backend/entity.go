// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/state"
)

// NewEntity builds the canonical item for a decoded backend item. ids and
// parent are resolver output; they are sanitized here. Episodes take the
// show title when one is known.
func NewEntity(bctx Context, reg *guid.Registry, it Item, ids, parent guid.Set, opts EntityOptions) *state.Item {
	date := it.When(opts.LatestDate)

	title := it.Title
	if it.Type == state.TypeEpisode && it.ShowTitle != "" {
		title = it.ShowTitle
	}

	progress := it.Progress
	if it.Watched {
		progress = 0
	}

	e := &state.Item{
		Type:    it.Type,
		Title:   title,
		Year:    it.Year,
		Watched: it.Watched,
		Updated: date,
		Via:     bctx.Name,
		GUIDs:   reg.Sanitize(ids),
		Metadata: map[string]state.Metadata{
			bctx.Name: {
				ID:       it.ID,
				Library:  it.Library,
				Watched:  it.Watched,
				Progress: progress,
				Duration: it.Duration,
				AddedAt:  it.AddedAt,
				PlayedAt: it.PlayedAt,
				Title:    it.Title,
				Year:     it.Year,
				Season:   it.Season,
				Episode:  it.Episode,
				ParentID: it.ParentID,
				GUIDs:    ids.Clone(),
				Parent:   parent.Clone(),
			},
		},
		Extra: map[string]state.Extra{
			bctx.Name: {Date: date},
		},
	}

	if it.Type == state.TypeEpisode {
		e.Season = it.Season
		e.Episode = it.Episode
		e.Parent = reg.Sanitize(parent)
	}

	if opts.Override != nil {
		opts.Override(e)
	}
	return e
}

// SupportedWebType reports whether GetWebURL accepts itemType.
func SupportedWebType(itemType string) bool {
	switch itemType {
	case state.TypeMovie, state.TypeShow, state.TypeEpisode:
		return true
	default:
		return false
	}
}
