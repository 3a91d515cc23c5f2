// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package state

import (
	"testing"

	"github.com/tomtom215/statesync/internal/guid"
)

func newEpisode() *Item {
	return &Item{
		Type:    TypeEpisode,
		Title:   "Breaking Bad",
		Season:  1,
		Episode: 2,
		Updated: 1000,
		Via:     "jf",
		GUIDs:   guid.Set{guid.TVDB: "349232"},
		Parent:  guid.Set{guid.TVDB: "81189", guid.IMDB: "tt0903747"},
		Metadata: map[string]Metadata{
			"jf": {ID: "ep1", Progress: 60000},
		},
		Extra: map[string]Extra{"jf": {Event: "task.import", Date: 1000}},
	}
}

// ===================================================================================================
// Pointer Tests
// ===================================================================================================

func TestItem_Pointers(t *testing.T) {
	t.Parallel()

	movie := &Item{Type: TypeMovie, GUIDs: guid.Set{guid.TVDB: "123", guid.IMDB: "tt1"}}
	got := movie.Pointers()
	want := []string{"guid_imdb://tt1", "guid_tvdb://123"}
	checkStrings(t, got, want)

	ep := newEpisode()
	checkStrings(t, ep.Pointers(), []string{"episode/guid_tvdb://349232"})
	checkStrings(t, ep.RelativePointers(), []string{
		"rguid_imdb://tt0903747/1/2",
		"rguid_tvdb://81189/1/2",
	})

	if movie.RelativePointers() != nil {
		t.Error("movies have no relative pointers")
	}
}

func checkStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("[%d] got %q, want %q", i, got[i], want[i])
		}
	}
}

// ===================================================================================================
// Helper Tests
// ===================================================================================================

func TestItem_Helpers(t *testing.T) {
	t.Parallel()

	ep := newEpisode()
	if !ep.HasGUIDs() || !ep.HasRelativeGUID() {
		t.Error("episode should have ids and a relative id")
	}
	if ep.Progress() != 60000 || !ep.HasProgress() {
		t.Errorf("Progress() = %d", ep.Progress())
	}
	if ep.Name() != "Breaking Bad - S01E02" {
		t.Errorf("Name() = %q", ep.Name())
	}

	ep.Watched = true
	if ep.HasProgress() {
		t.Error("watched items carry no progress")
	}

	movie := &Item{Type: TypeMovie, Title: "Heat", Year: 1995}
	if movie.Name() != "Heat (1995)" {
		t.Errorf("Name() = %q", movie.Name())
	}
	if movie.HasRelativeGUID() {
		t.Error("movie should not have a relative id")
	}
	if _, ok := movie.MetadataFor("jf"); ok {
		t.Error("unexpected metadata")
	}
}

func TestItem_Clone(t *testing.T) {
	t.Parallel()

	ep := newEpisode()
	c := ep.Clone()
	c.GUIDs[guid.TMDB] = "1"
	c.Metadata["jf"] = Metadata{ID: "changed"}
	c.Extra["plex"] = Extra{Date: 5}

	if _, ok := ep.GUIDs[guid.TMDB]; ok {
		t.Error("Clone shares GUIDs")
	}
	if ep.Metadata["jf"].ID != "ep1" {
		t.Error("Clone shares Metadata")
	}
	if _, ok := ep.Extra["plex"]; ok {
		t.Error("Clone shares Extra")
	}
}

// ===================================================================================================
// Apply Tests
// ===================================================================================================

func TestItem_Apply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		incoming    func(*Item)
		wantChange  Change
		wantWatched bool
		wantUpdated int64
	}{
		{
			name:       "identical",
			incoming:   func(*Item) {},
			wantChange: ChangeNone, wantWatched: false, wantUpdated: 1000,
		},
		{
			name: "newer played",
			incoming: func(i *Item) {
				i.Watched, i.Updated = true, 2000
			},
			wantChange: ChangePlayState, wantWatched: true, wantUpdated: 2000,
		},
		{
			name: "older played",
			incoming: func(i *Item) {
				i.Watched, i.Updated = true, 500
			},
			wantChange: ChangeNone, wantWatched: false, wantUpdated: 1000,
		},
		{
			name: "tainted newer played",
			incoming: func(i *Item) {
				i.Watched, i.Updated, i.Tainted = true, 2000, true
				i.Metadata["jf"] = Metadata{ID: "ep1", Progress: 90000}
			},
			wantChange: ChangeMetadata, wantWatched: false, wantUpdated: 1000,
		},
		{
			name: "new external id",
			incoming: func(i *Item) {
				i.GUIDs[guid.TMDB] = "62085"
			},
			wantChange: ChangeMetadata, wantWatched: false, wantUpdated: 1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stored := newEpisode()
			in := newEpisode()
			tt.incoming(in)

			if got := stored.Apply("jf", in); got != tt.wantChange {
				t.Errorf("Apply() = %s, want %s", got, tt.wantChange)
			}
			if stored.Watched != tt.wantWatched || stored.Updated != tt.wantUpdated {
				t.Errorf("play state = (%v, %d), want (%v, %d)", stored.Watched, stored.Updated, tt.wantWatched, tt.wantUpdated)
			}
		})
	}
}

func TestItem_ApplyOtherBackend(t *testing.T) {
	t.Parallel()

	stored := newEpisode()
	in := newEpisode()
	in.Metadata = map[string]Metadata{"plex": {ID: "555"}}
	in.Extra = map[string]Extra{"plex": {Event: "task.import", Date: 1500}}

	if got := stored.Apply("plex", in); got != ChangeMetadata {
		t.Fatalf("Apply() = %s", got)
	}
	if stored.Metadata["plex"].ID != "555" || stored.Metadata["jf"].ID != "ep1" {
		t.Errorf("metadata not merged: %+v", stored.Metadata)
	}
	if stored.Via != "plex" {
		t.Errorf("Via = %q, want plex", stored.Via)
	}
}

// ===================================================================================================
// Unplay Tests
// ===================================================================================================

func watchedEpisode() *Item {
	i := newEpisode()
	i.Watched, i.Updated = true, 3000
	i.Metadata["jf"] = Metadata{ID: "ep1", Watched: true, AddedAt: 500, PlayedAt: 3000}
	return i
}

func TestItem_ApplyUnplay(t *testing.T) {
	orig := now
	now = func() int64 { return 9999 }
	t.Cleanup(func() { now = orig })

	tests := []struct {
		name        string
		backend     string
		stored      func(*Item)
		incoming    func(*Item)
		wantChange  Change
		wantWatched bool
		wantUpdated int64
	}{
		{
			name:        "unplayed at added date",
			backend:     "jf",
			wantChange:  ChangePlayState,
			wantWatched: false, wantUpdated: 9999,
		},
		{
			name:    "different backend id",
			backend: "jf",
			incoming: func(i *Item) {
				i.Metadata["jf"] = Metadata{ID: "ep2", AddedAt: 500}
			},
			wantChange:  ChangeMetadata,
			wantWatched: true, wantUpdated: 3000,
		},
		{
			name:    "added date mismatch",
			backend: "jf",
			incoming: func(i *Item) {
				i.Updated = 600
				i.Metadata["jf"] = Metadata{ID: "ep1", AddedAt: 600}
			},
			wantChange:  ChangeMetadata,
			wantWatched: true, wantUpdated: 3000,
		},
		{
			name:    "stored metadata not played",
			backend: "jf",
			stored: func(i *Item) {
				i.Metadata["jf"] = Metadata{ID: "ep1", AddedAt: 500}
			},
			wantChange:  ChangeNone,
			wantWatched: true, wantUpdated: 3000,
		},
		{
			name:    "stored metadata without played date",
			backend: "jf",
			stored: func(i *Item) {
				i.Metadata["jf"] = Metadata{ID: "ep1", Watched: true, AddedAt: 500}
			},
			wantChange:  ChangeMetadata,
			wantWatched: true, wantUpdated: 3000,
		},
		{
			name:    "tainted",
			backend: "jf",
			incoming: func(i *Item) {
				i.Tainted = true
			},
			wantChange:  ChangeMetadata,
			wantWatched: true, wantUpdated: 3000,
		},
		{
			name:    "backend without stored metadata",
			backend: "plex",
			incoming: func(i *Item) {
				i.Metadata = map[string]Metadata{"plex": {ID: "ep1", AddedAt: 500}}
			},
			wantChange:  ChangeMetadata,
			wantWatched: true, wantUpdated: 3000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored := watchedEpisode()
			if tt.stored != nil {
				tt.stored(stored)
			}
			in := newEpisode()
			in.Watched, in.Updated = false, 500
			in.Metadata["jf"] = Metadata{ID: "ep1", AddedAt: 500}
			if tt.incoming != nil {
				tt.incoming(in)
			}

			if got := stored.Apply(tt.backend, in); got != tt.wantChange {
				t.Errorf("Apply() = %s, want %s", got, tt.wantChange)
			}
			if stored.Watched != tt.wantWatched || stored.Updated != tt.wantUpdated {
				t.Errorf("play state = (%v, %d), want (%v, %d)", stored.Watched, stored.Updated, tt.wantWatched, tt.wantUpdated)
			}
			if tt.wantChange == ChangePlayState && stored.Via != tt.backend {
				t.Errorf("Via = %q, want %q", stored.Via, tt.backend)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	s := Summary{}
	s.Add(TypeMovie, "added", 2)
	s.Add(TypeEpisode, "added", 3)
	s.Add(TypeMovie, "updated", 1)

	if s.Total("added") != 5 || s.Total("updated") != 1 || s.Total("failed") != 0 {
		t.Errorf("unexpected totals: %v", s)
	}
}
