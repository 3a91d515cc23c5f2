// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package plex

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
)

// Plex library listing type filters.
const (
	listMovies   = "1"
	listShows    = "2"
	listEpisodes = "4"
)

func entityType(t string) string {
	switch t {
	case "movie":
		return state.TypeMovie
	case "episode":
		return state.TypeEpisode
	case "show":
		return state.TypeShow
	default:
		return ""
	}
}

func (m metadata) year() int {
	for _, y := range []int{m.GrandparentYear, m.ParentYear, m.Year} {
		if y > 0 {
			return y
		}
	}
	if t, err := time.Parse("2006-01-02", m.OriginallyAvailableAt); err == nil {
		return t.Year()
	}
	return 0
}

// Convert decodes a Plex item. Unsupported types report false.
func (c *Client) Convert(m metadata) (backend.Item, bool) {
	typ := entityType(m.Type)
	if typ == "" || m.RatingKey == "" {
		return backend.Item{}, false
	}

	title := m.Title
	if title == "" {
		title = m.OriginalTitle
	}

	it := backend.Item{
		ID:       string(m.RatingKey),
		Library:  string(m.LibrarySectionID),
		Type:     typ,
		Title:    title,
		Year:     m.year(),
		RawIDs:   m.rawIDs(),
		Watched:  m.ViewCount > 0,
		Duration: m.Duration,
		AddedAt:  m.AddedAt,
	}
	if typ == state.TypeEpisode {
		it.Season = m.ParentIndex
		it.Episode = m.Index
		it.ParentID = string(m.GrandparentRatingKey)
		it.ShowTitle = m.GrandparentTitle
	}
	if it.Watched {
		it.PlayedAt = m.LastViewedAt
	} else {
		it.Progress = m.ViewOffset
	}

	it.Date = m.AddedAt
	if it.Watched && m.LastViewedAt > 0 {
		it.Date = m.LastViewedAt
	}
	it.LatestDate = max(m.LastViewedAt, m.AddedAt, m.UpdatedAt)

	return it, true
}

// ============================================================================
// Libraries
// ============================================================================

func (c *Client) supportedAgent(agent string) bool {
	for _, a := range c.agents {
		if a == agent {
			return true
		}
	}
	return false
}

// GetLibrariesList lists library sections.
func (c *Client) GetLibrariesList(ctx context.Context) backend.Result[[]backend.Library] {
	resp, e := fetch[container](ctx, c, "/library/sections", nil)
	if e != nil {
		return backend.Failed[[]backend.Library](e)
	}
	dirs := resp.MediaContainer.Directory
	if len(dirs) == 0 {
		return backend.Fail[[]backend.Library](backend.NoLibraries(c.bctx.Name))
	}

	base := c.bctx.URL.String()
	out := make([]backend.Library, 0, len(dirs))
	for _, d := range dirs {
		typ := backend.LibraryUnsupported
		if d.Type == "movie" || d.Type == "show" {
			typ = d.Type
		}
		id := string(d.Key)
		out = append(out, backend.Library{
			ID:         id,
			Title:      d.Title,
			Type:       typ,
			NativeType: d.Type,
			Agent:      d.Agent,
			Supported:  typ != backend.LibraryUnsupported && c.supportedAgent(d.Agent),
			Ignored:    c.bctx.Options.IsLibraryIgnored(id),
			WebURL:     base + "/web/index.html#!/media/" + c.bctx.BackendID + "/com.plexapp.plugins.library?source=" + url.QueryEscape(id),
		})
	}
	return backend.OK(out)
}

// GetLibrary lists every movie or episode of a supported section. Shows are
// fetched first and their identifier sets cached for ToEntity.
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
			With(backend.ExtraHTTPCode, http.StatusNotFound)
	}
	if !lib.Supported {
		return backend.Fail[[]backend.Item](backend.NewError(c.bctx.Name,
			"library %s (%s, agent %s) is not supported", id, lib.NativeType, lib.Agent))
	}

	listing := listMovies
	if lib.Type == backend.LibraryShow {
		shows, e := c.page(ctx, lib.ID, listShows, opts)
		if e != nil {
			return backend.Failed[[]backend.Item](e)
		}
		for _, m := range shows {
			c.loader.Prime(backend.CacheShow, string(m.RatingKey), c.showInfo(m))
		}
		listing = listEpisodes
	}

	payloads, e := c.page(ctx, lib.ID, listing, opts)
	if e != nil {
		return backend.Failed[[]backend.Item](e)
	}

	out := make([]backend.Item, 0, len(payloads))
	for _, m := range payloads {
		if it, ok := c.Convert(m); ok {
			if it.Library == "" {
				it.Library = lib.ID
			}
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

func (c *Client) page(ctx context.Context, section, listing string, opts backend.Options) ([]metadata, *backend.Error) {
	size := opts.Segment(defaultSegment)
	var out []metadata

	for start := 0; ; start += size {
		resp, e := fetch[container](ctx, c, "/library/sections/"+url.PathEscape(section)+"/all", url.Values{
			"type":                   {listing},
			"includeGuids":           {"1"},
			"X-Plex-Container-Start": {strconv.Itoa(start)},
			"X-Plex-Container-Size":  {strconv.Itoa(size)},
		})
		if e != nil {
			return nil, e
		}
		items := resp.MediaContainer.Metadata
		out = append(out, items...)

		total := resp.MediaContainer.TotalSize
		if len(items) < size || (total > 0 && start+len(items) >= total) {
			return out, nil
		}
	}
}

// ============================================================================
// Metadata
// ============================================================================

func (c *Client) fetchMetadata(ctx context.Context, id string) (metadata, error) {
	resp, e := fetch[container](ctx, c, "/library/metadata/"+url.PathEscape(id), url.Values{"includeGuids": {"1"}})
	if e != nil {
		return metadata{}, e
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		e := backend.UpstreamError(c.bctx.Name, http.StatusNotFound, "item %s not found", id)
		e.Previous = backend.ErrNotFound
		return metadata{}, e
	}
	return resp.MediaContainer.Metadata[0], nil
}

// GetMetaData fetches one item through the metadata cache.
func (c *Client) GetMetaData(ctx context.Context, id string, opts backend.MetaOptions) backend.Result[backend.Item] {
	it, hit, err := backend.LoadAs(ctx, c.loader, backend.CacheMeta, id, opts.NoCache, func(ctx context.Context) (backend.Item, error) {
		m, err := c.fetchMetadata(ctx, id)
		if err != nil {
			return backend.Item{}, err
		}
		it, ok := c.Convert(m)
		if !ok {
			return backend.Item{}, backend.NewError(c.bctx.Name, "item %s has unsupported type %q", id, m.Type)
		}
		return it, nil
	})
	if err != nil {
		return backend.Failed[backend.Item](backend.Wrap(c.bctx.Name, err, "metadata %s", id))
	}
	return backend.OK(it).With(backend.ExtraCached, hit)
}

type show struct {
	Title string
	GUIDs guid.Set
}

func (c *Client) showInfo(m metadata) show {
	return show{
		Title: m.Title,
		GUIDs: c.resolver.ResolveItem(state.TypeShow, string(m.RatingKey), m.rawIDs()),
	}
}

func (c *Client) parent(ctx context.Context, id string) (show, error) {
	s, _, err := backend.LoadAs(ctx, c.loader, backend.CacheShow, id, false, func(ctx context.Context) (show, error) {
		m, err := c.fetchMetadata(ctx, id)
		if err != nil {
			return show{}, err
		}
		return c.showInfo(m), nil
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
