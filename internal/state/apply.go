// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package state

import "time"

// now is replaced in tests.
var now = func() int64 { return time.Now().Unix() }

// Change describes what Apply changed.
type Change int

const (
	// ChangeNone means the stored item already matched.
	ChangeNone Change = iota
	// ChangeMetadata means only backend metadata, extra or ids changed.
	ChangeMetadata
	// ChangePlayState means Watched and Updated changed.
	ChangePlayState
)

// String returns the summary bucket name.
func (c Change) String() string {
	switch c {
	case ChangeMetadata:
		return "metadata"
	case ChangePlayState:
		return "played"
	default:
		return "unchanged"
	}
}

// Apply merges what backend reported (incoming) into the stored item i.
//
// Ids and the backend metadata/extra blocks are always merged. The play state
// only changes when incoming is not tainted, is strictly newer than the
// stored item and disagrees with it. The one exception is ShouldUnplay: an
// unplayed report dated at the item's added date is taken as the backend
// un-marking an item it earlier reported as played.
func (i *Item) Apply(backend string, incoming *Item) Change {
	change := ChangeNone
	unplay := !incoming.Tainted && i.ShouldUnplay(backend, incoming)

	if i.Metadata == nil {
		i.Metadata = map[string]Metadata{}
	}
	if i.Extra == nil {
		i.Extra = map[string]Extra{}
	}

	if m, ok := incoming.Metadata[backend]; ok {
		if old, had := i.Metadata[backend]; !had || !metadataEqual(old, m) {
			i.Metadata[backend] = m
			change = ChangeMetadata
		}
	}
	if e, ok := incoming.Extra[backend]; ok {
		if old, had := i.Extra[backend]; !had || old != e {
			i.Extra[backend] = e
			change = ChangeMetadata
		}
	}

	if merged := i.GUIDs.Merge(incoming.GUIDs); !merged.Equal(i.GUIDs) {
		i.GUIDs = merged
		change = ChangeMetadata
	}
	if merged := i.Parent.Merge(incoming.Parent); !merged.Equal(i.Parent) {
		i.Parent = merged
		change = ChangeMetadata
	}
	if i.Title == "" && incoming.Title != "" {
		i.Title = incoming.Title
	}
	if i.Year == 0 && incoming.Year != 0 {
		i.Year = incoming.Year
	}

	if change != ChangeNone {
		i.Via = backend
	}

	if unplay {
		i.Watched = false
		i.Updated = now()
		i.Via = backend
		return ChangePlayState
	}

	if incoming.Tainted || incoming.Updated <= i.Updated || incoming.Watched == i.Watched {
		return change
	}

	i.Watched = incoming.Watched
	i.Updated = incoming.Updated
	i.Via = backend
	return ChangePlayState
}

// ShouldUnplay reports whether incoming, an unplayed report from backend,
// un-marks the watched item i. Backends date unplayed items with their added
// date, so the report only counts when the stored metadata of that backend
// shows the same id as played with the same added date.
func (i *Item) ShouldUnplay(backend string, incoming *Item) bool {
	if incoming.Watched || !i.Watched {
		return false
	}
	stored, ok := i.Metadata[backend]
	if !ok || !stored.Watched || stored.ID == "" || stored.AddedAt == 0 || stored.PlayedAt == 0 {
		return false
	}
	if stored.ID != incoming.Metadata[backend].ID {
		return false
	}
	return stored.AddedAt == incoming.Updated
}

func metadataEqual(a, b Metadata) bool {
	return a.ID == b.ID &&
		a.Library == b.Library &&
		a.Watched == b.Watched &&
		a.Progress == b.Progress &&
		a.Duration == b.Duration &&
		a.AddedAt == b.AddedAt &&
		a.PlayedAt == b.PlayedAt &&
		a.Title == b.Title &&
		a.Year == b.Year &&
		a.Season == b.Season &&
		a.Episode == b.Episode &&
		a.ParentID == b.ParentID &&
		a.GUIDs.Equal(b.GUIDs) &&
		a.Parent.Equal(b.Parent)
}

// Summary counts store commit results per item type and bucket
// ("added", "updated", "unchanged", "failed").
type Summary map[string]map[string]int

// Add increments one counter.
func (s Summary) Add(itemType, bucket string, n int) {
	if s[itemType] == nil {
		s[itemType] = map[string]int{}
	}
	s[itemType][bucket] += n
}

// Total returns the sum of one bucket across types.
func (s Summary) Total(bucket string) int {
	total := 0
	for _, b := range s {
		total += b[bucket]
	}
	return total
}
