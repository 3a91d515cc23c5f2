// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package state defines the canonical watch-state item shared by every
// backend and the local store.
//
// An Item is one movie or one episode. Its Watched flag and Updated timestamp
// are authoritative for conflict resolution; everything each backend knows
// about the item is kept in per-backend Metadata and Extra blocks keyed by the
// backend name.
package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tomtom215/statesync/internal/guid"
)

// Item types.
const (
	TypeMovie   = "movie"
	TypeEpisode = "episode"
	// TypeShow is only used for parent lookups. Shows are never stored.
	TypeShow = "show"
)

// RelativePrefix starts relative episode pointers.
const RelativePrefix = "r" + guid.Prefix

// Metadata is what one backend reports about an item.
type Metadata struct {
	ID       string   `json:"id"`
	Library  string   `json:"library,omitempty"`
	Watched  bool     `json:"watched"`
	Progress int64    `json:"progress,omitempty"` // milliseconds
	Duration int64    `json:"duration,omitempty"` // milliseconds
	AddedAt  int64    `json:"added_at,omitempty"`
	PlayedAt int64    `json:"played_at,omitempty"`
	Title    string   `json:"title,omitempty"`
	Year     int      `json:"year,omitempty"`
	Season   int      `json:"season,omitempty"`
	Episode  int      `json:"episode,omitempty"`
	ParentID string   `json:"parent_id,omitempty"`
	GUIDs    guid.Set `json:"guids,omitempty"`
	Parent   guid.Set `json:"parent,omitempty"`
}

// Extra records the last event a backend reported for an item.
type Extra struct {
	Event string `json:"event,omitempty"`
	Date  int64  `json:"date,omitempty"`
}

// Item is a canonical movie or episode.
type Item struct {
	ID       string              `json:"id,omitempty"`
	Type     string              `json:"type"`
	Title    string              `json:"title"`
	Year     int                 `json:"year,omitempty"`
	Season   int                 `json:"season,omitempty"`
	Episode  int                 `json:"episode,omitempty"`
	Watched  bool                `json:"watched"`
	Updated  int64               `json:"updated"`
	Via      string              `json:"via,omitempty"`
	GUIDs    guid.Set            `json:"guids,omitempty"`
	Parent   guid.Set            `json:"parent,omitempty"`
	Metadata map[string]Metadata `json:"metadata,omitempty"`
	Extra    map[string]Extra    `json:"extra,omitempty"`

	// Tainted items come from playback webhooks; they may update metadata
	// and progress but never the play state.
	Tainted bool   `json:"-"`
	Event   string `json:"-"`
}

// IsEpisode reports whether the item is an episode.
func (i *Item) IsEpisode() bool {
	return i.Type == TypeEpisode
}

// HasGUIDs reports whether the item has at least one external id.
func (i *Item) HasGUIDs() bool {
	return len(i.GUIDs) > 0
}

// HasRelativeGUID reports whether an episode can be found through its
// parent show ids and season/episode numbers.
func (i *Item) HasRelativeGUID() bool {
	return i.IsEpisode() && len(i.Parent) > 0 && i.Season >= 0 && i.Episode > 0
}

// Pointers returns the lookup keys of the item. Episode keys carry the type
// so a tvdb episode id can never match a tvdb movie id.
//
//	movie:   guid_imdb://tt0111161
//	episode: episode/guid_tvdb://123
func (i *Item) Pointers() []string {
	ptrs := i.GUIDs.Pointers()
	if !i.IsEpisode() {
		return ptrs
	}
	for n, p := range ptrs {
		ptrs[n] = TypeEpisode + "/" + p
	}
	return ptrs
}

// RelativePointers returns rguid_<name>://<show id>/<season>/<episode> keys.
func (i *Item) RelativePointers() []string {
	if !i.HasRelativeGUID() {
		return nil
	}
	out := make([]string, 0, len(i.Parent))
	for _, a := range i.Parent.Authorities() {
		out = append(out, fmt.Sprintf("r%s://%s/%d/%d", a, i.Parent[a], i.Season, i.Episode))
	}
	return out
}

// Progress returns the playback offset reported by the backend that last
// produced the item, in milliseconds.
func (i *Item) Progress() int64 {
	if i.Watched {
		return 0
	}
	return i.Metadata[i.Via].Progress
}

// HasProgress reports whether Progress is non-zero.
func (i *Item) HasProgress() bool {
	return i.Progress() > 0
}

// Name returns a display title: "Title (Year)" or "Show - S01E02".
func (i *Item) Name() string {
	title := i.Title
	if title == "" {
		title = "??"
	}
	if i.IsEpisode() {
		return fmt.Sprintf("%s - S%02dE%02d", title, i.Season, i.Episode)
	}
	if i.Year > 0 {
		return title + " (" + strconv.Itoa(i.Year) + ")"
	}
	return title
}

// MetadataFor returns the metadata block of backend.
func (i *Item) MetadataFor(backend string) (Metadata, bool) {
	m, ok := i.Metadata[backend]
	return m, ok
}

// ExtraFor returns the extra block of backend.
func (i *Item) ExtraFor(backend string) (Extra, bool) {
	e, ok := i.Extra[backend]
	return e, ok
}

// Clone returns a deep copy.
func (i *Item) Clone() *Item {
	out := *i
	out.GUIDs = i.GUIDs.Clone()
	out.Parent = i.Parent.Clone()
	out.Metadata = make(map[string]Metadata, len(i.Metadata))
	for k, m := range i.Metadata {
		m.GUIDs = m.GUIDs.Clone()
		m.Parent = m.Parent.Clone()
		out.Metadata[k] = m
	}
	out.Extra = make(map[string]Extra, len(i.Extra))
	for k, e := range i.Extra {
		out.Extra[k] = e
	}
	return &out
}

// String implements fmt.Stringer for log lines.
func (i *Item) String() string {
	var b strings.Builder
	b.WriteString(i.Type)
	b.WriteString(" '")
	b.WriteString(i.Name())
	b.WriteString("'")
	if i.ID != "" {
		b.WriteString(" #")
		b.WriteString(i.ID)
	}
	return b.String()
}
