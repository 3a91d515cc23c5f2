// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package jellyfin

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
)

// ticksPerMilli converts .NET ticks (100ns) to milliseconds.
const ticksPerMilli = 10000

// itemFields are requested on every item listing.
const itemFields = "ProviderIds,DateCreated,OriginalTitle,SeasonUserData,DateLastSaved,PremiereDate,ProductionYear,Path,UserDataPlayCount,UserDataLastPlayedDate"

// UserData is the per-user play state of an item.
type UserData struct {
	Played                bool   `json:"Played"`
	PlayCount             int    `json:"PlayCount"`
	PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
	LastPlayedDate        string `json:"LastPlayedDate"`
}

// ItemPayload is an item as Jellyfin and Emby report it.
type ItemPayload struct {
	ID                string                 `json:"Id"`
	Name              string                 `json:"Name"`
	Type              string                 `json:"Type"`
	CollectionType    string                 `json:"CollectionType"`
	ProductionYear    int                    `json:"ProductionYear"`
	IndexNumber       int                    `json:"IndexNumber"`
	ParentIndexNumber int                    `json:"ParentIndexNumber"`
	SeriesID          string                 `json:"SeriesId"`
	SeriesName        string                 `json:"SeriesName"`
	ParentID          string                 `json:"ParentId"`
	ProviderIDs       map[string]interface{} `json:"ProviderIds"`
	UserData          *UserData              `json:"UserData"`
	DateCreated       string                 `json:"DateCreated"`
	PremiereDate      string                 `json:"PremiereDate"`
	RunTimeTicks      int64                  `json:"RunTimeTicks"`
}

type itemsPage struct {
	Items            []ItemPayload `json:"Items"`
	TotalRecordCount int           `json:"TotalRecordCount"`
}

func itemQuery() url.Values {
	q := url.Values{}
	q.Set("Recursive", "true")
	q.Set("enableUserData", "true")
	q.Set("enableImages", "false")
	q.Set("Fields", itemFields)
	return q
}

// ParseDate converts a Jellyfin/Emby timestamp to epoch seconds; 0 if absent
// or unparseable.
func ParseDate(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1971 {
				return 0
			}
			return t.Unix()
		}
	}
	return 0
}

// FormatDate renders epoch seconds the way the API accepts them.
func FormatDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// TicksToMillis converts .NET ticks to milliseconds.
func TicksToMillis(ticks int64) int64 {
	return ticks / ticksPerMilli
}

// Convert decodes a payload into a backend item. Unsupported types report
// false. library may be empty.
func (c *Client) Convert(p ItemPayload, library string) (backend.Item, bool) {
	typ := entityType(p.Type)
	if typ == "" || p.ID == "" {
		return backend.Item{}, false
	}

	it := backend.Item{
		ID:       p.ID,
		Library:  library,
		Type:     typ,
		Title:    p.Name,
		Year:     p.ProductionYear,
		RawIDs:   guid.RawFromMap(p.ProviderIDs),
		Duration: TicksToMillis(p.RunTimeTicks),
		AddedAt:  ParseDate(p.DateCreated),
	}
	if typ == state.TypeEpisode {
		it.Season = p.ParentIndexNumber
		it.Episode = p.IndexNumber
		it.ParentID = p.SeriesID
		it.ShowTitle = p.SeriesName
	}

	var lastPlayed int64
	if p.UserData != nil {
		it.Watched = p.UserData.Played
		lastPlayed = ParseDate(p.UserData.LastPlayedDate)
		it.PlayedAt = lastPlayed
		if !it.Watched {
			it.Progress = TicksToMillis(p.UserData.PlaybackPositionTicks)
		}
	}

	it.Date = it.AddedAt
	if it.Watched && lastPlayed > 0 {
		it.Date = lastPlayed
	}

	switch {
	case lastPlayed > 0:
		it.LatestDate = lastPlayed
	case it.AddedAt > 0:
		it.LatestDate = it.AddedAt
	default:
		it.LatestDate = ParseDate(p.PremiereDate)
	}

	return it, true
}

// ============================================================================
// Libraries
// ============================================================================

func libraryType(collection string) string {
	switch strings.ToLower(collection) {
	case "movies":
		return backend.LibraryMovie
	case "tvshows":
		return backend.LibraryShow
	default:
		return backend.LibraryUnsupported
	}
}

// GetLibrariesList lists the user's collection folders.
func (c *Client) GetLibrariesList(ctx context.Context) backend.Result[[]backend.Library] {
	page, e := fetch[itemsPage](ctx, c, c.userPath("/items/"), nil)
	if e != nil {
		return backend.Failed[[]backend.Library](e)
	}
	if len(page.Items) == 0 {
		return backend.Fail[[]backend.Library](backend.NoLibraries(c.bctx.Name))
	}

	out := make([]backend.Library, 0, len(page.Items))
	for _, p := range page.Items {
		typ := libraryType(p.CollectionType)
		lib := backend.Library{
			ID:         p.ID,
			Title:      p.Name,
			Type:       typ,
			NativeType: p.CollectionType,
			Supported:  typ != backend.LibraryUnsupported,
			Ignored:    c.bctx.Options.IsLibraryIgnored(p.ID),
		}
		base := strings.TrimSuffix(c.bctx.URL.String(), "/")
		lib.WebURL = base + "/web/index.html#!/" + c.dialect.WebRoute + "?id=" + url.QueryEscape(p.ID) + "&serverId=" + url.QueryEscape(c.bctx.BackendID)
		out = append(out, lib)
	}
	return backend.OK(out)
}

// GetLibrary lists every movie or episode of a supported library. Shows in
// a tvshows library are fetched first and their identifier sets cached for
// ToEntity.
func (c *Client) GetLibrary(ctx context.Context, id string, opts backend.Options) backend.Result[[]backend.Item] {
	libs := c.GetLibrariesList(ctx)
	if !libs.Success {
		return backend.Convert[[]backend.Library, []backend.Item](libs)
	}

	var lib *backend.Library
	for i := range libs.Value {
		if libs.Value[i].ID == id {
			lib = &libs.Value[i]
			break
		}
	}
	if lib == nil {
		return backend.Fail[[]backend.Item](backend.NewError(c.bctx.Name, "library %s not found", id)).
			With(backend.ExtraHTTPCode, 404)
	}
	if !lib.Supported {
		return backend.Fail[[]backend.Item](backend.NewError(c.bctx.Name, "library %s has unsupported type %q", id, lib.NativeType))
	}

	if lib.Type == backend.LibraryShow {
		shows, e := c.page(ctx, lib.ID, "Series", opts)
		if e != nil {
			return backend.Failed[[]backend.Item](e)
		}
		for _, p := range shows {
			c.loader.Prime(backend.CacheShow, p.ID, c.showInfo(p))
		}
	}

	kind := "Movie"
	if lib.Type == backend.LibraryShow {
		kind = "Episode"
	}
	payloads, e := c.page(ctx, lib.ID, kind, opts)
	if e != nil {
		return backend.Failed[[]backend.Item](e)
	}

	out := make([]backend.Item, 0, len(payloads))
	for _, p := range payloads {
		if it, ok := c.Convert(p, lib.ID); ok {
			out = append(out, it)
		}
	}

	logging.Ctx(ctx).Debug().
		Str("backend", c.bctx.Name).
		Str("library", lib.ID).
		Int("items", len(out)).
		Msg("Library fetched")

	return backend.OK(out)
}

func (c *Client) page(ctx context.Context, parent, itemTypes string, opts backend.Options) ([]ItemPayload, *backend.Error) {
	size := opts.Segment(defaultSegment)
	var out []ItemPayload

	for start := 0; ; start += size {
		q := itemQuery()
		q.Set("ParentId", parent)
		q.Set("IncludeItemTypes", itemTypes)
		q.Set("StartIndex", strconv.Itoa(start))
		q.Set("Limit", strconv.Itoa(size))

		page, e := fetch[itemsPage](ctx, c, c.userPath("/items/"), q)
		if e != nil {
			return nil, e
		}
		out = append(out, page.Items...)

		if len(page.Items) < size || start+len(page.Items) >= page.TotalRecordCount {
			return out, nil
		}
	}
}

// ============================================================================
// Metadata
// ============================================================================

// GetMetaData fetches one item through the metadata cache.
func (c *Client) GetMetaData(ctx context.Context, id string, opts backend.MetaOptions) backend.Result[backend.Item] {
	it, hit, err := backend.LoadAs(ctx, c.loader, backend.CacheMeta, id, opts.NoCache, func(ctx context.Context) (backend.Item, error) {
		p, e := fetch[ItemPayload](ctx, c, c.userPath("/items/"+url.PathEscape(id)), url.Values{"Fields": {itemFields}})
		if e != nil {
			return backend.Item{}, e
		}
		it, ok := c.Convert(p, "")
		if !ok {
			return backend.Item{}, backend.NewError(c.bctx.Name, "item %s has unsupported type %q", id, p.Type)
		}
		return it, nil
	})
	if err != nil {
		return backend.Failed[backend.Item](backend.Wrap(c.bctx.Name, err, "metadata %s", id))
	}
	return backend.OK(it).With(backend.ExtraCached, hit)
}

// show is what the show cache holds.
type show struct {
	Title string
	GUIDs guid.Set
}

func (c *Client) showInfo(p ItemPayload) show {
	return show{
		Title: p.Name,
		GUIDs: c.resolver.ResolveItem(state.TypeShow, p.ID, guid.RawFromMap(p.ProviderIDs)),
	}
}

// parent resolves a show's identifier set, memoized in the show cache.
func (c *Client) parent(ctx context.Context, id string) (show, error) {
	s, _, err := backend.LoadAs(ctx, c.loader, backend.CacheShow, id, false, func(ctx context.Context) (show, error) {
		p, e := fetch[ItemPayload](ctx, c, c.userPath("/items/"+url.PathEscape(id)), url.Values{"Fields": {itemFields}})
		if e != nil {
			return show{}, e
		}
		return c.showInfo(p), nil
	})
	return s, err
}

// ToEntity converts a backend item into a canonical item.
func (c *Client) ToEntity(ctx context.Context, it backend.Item, opts backend.EntityOptions) backend.Result[*state.Item] {
	if it.Type != state.TypeMovie && it.Type != state.TypeEpisode {
		return backend.Fail[*state.Item](backend.Wrap(c.bctx.Name, backend.ErrUnsupportedType, "item %s", it.ID))
	}

	ids := c.resolver.ResolveItem(it.Type, it.ID, it.RawIDs)

	var parent guid.Set
	if it.Type == state.TypeEpisode && it.ParentID != "" {
		s, err := c.parent(ctx, it.ParentID)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).
				Str("backend", c.bctx.Name).
				Str("show", it.ParentID).
				Msg("Parent show lookup failed")
		} else {
			parent = s.GUIDs
			if it.ShowTitle == "" {
				it.ShowTitle = s.Title
			}
		}
	}

	return backend.OK(backend.NewEntity(c.bctx, c.reg, it, ids, parent, opts))
}
