// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
client.go - Plex Media Server Action Set

This file provides the Plex Client and the server-level actions (info, users,
sessions, search, links, proxy).

Related Files:
  - library.go: library listing, metadata and entity conversion
  - webhook.go: Plex and Tautulli webhook parsing
  - writer.go: scrobble and timeline write requests
  - types.go: Plex JSON payloads

Authentication:
  - X-Plex-Token on every request
  - X-Plex-Client-Identifier is required by /:/timeline, so it is always sent
  - Home users and user tokens come from plex.tv, not the server
*/

//nolint:staticcheck // File documentation, not package doc
package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/transport"
)

// plexTV is the Plex account service.
const plexTV = "https://plex.tv"

// Default page size for library listings.
const defaultSegment = 1000

// libraryIdentifier is the plugin identifier Plex expects on write calls.
const libraryIdentifier = "com.plexapp.plugins.library"

// supportedAgents are the library agents whose ids can be resolved.
var supportedAgents = []string{
	"com.plexapp.agents.imdb",
	"com.plexapp.agents.tmdb",
	"com.plexapp.agents.themoviedb",
	"com.plexapp.agents.xbmcnfo",
	"com.plexapp.agents.xbmcnfotv",
	"com.plexapp.agents.thetvdb",
	"com.plexapp.agents.hama",
	"com.plexapp.agents.ytinforeader",
	"com.plexapp.agents.cmdb",
	"tv.plex.agents.movie",
	"tv.plex.agents.series",
}

var _ backend.Client = (*Client)(nil)

// Client is the Plex backend.
type Client struct {
	bctx     backend.Context
	doer     transport.Doer
	reg      *guid.Registry
	resolver *guid.PlexResolver
	loader   *backend.Loader
	agents   []string
	tvBase   *url.URL
}

// New creates a Plex client.
func New(bctx backend.Context, deps backend.Deps) (*Client, error) {
	if bctx.URL == nil {
		return nil, fmt.Errorf("%s: no url configured", bctx.Name)
	}
	reg := deps.GUID
	if reg == nil {
		reg = guid.NewRegistry()
	}
	rules := deps.Rules
	if rules == nil {
		rules = guid.EmptyRules()
	}
	tv, err := url.Parse(plexTV)
	if err != nil {
		return nil, err
	}

	agents := make([]string, 0, len(supportedAgents)+len(rules.Plex.Legacy))
	agents = append(agents, supportedAgents...)
	agents = append(agents, rules.Plex.Legacy...)

	return &Client{
		bctx:     bctx,
		doer:     deps.Doer,
		reg:      reg,
		resolver: guid.NewPlexResolver(bctx.Name, reg, rules.Plex, deps.Ignore),
		loader:   backend.NewLoader(bctx.Name, deps.Cache, bctx.Options.MetadataTTL),
		agents:   agents,
		tvBase:   tv,
	}, nil
}

// Factory adapts New to backend.Factory.
func Factory(bctx backend.Context, deps backend.Deps) (backend.Client, error) {
	return New(bctx, deps)
}

// Context returns the backend context.
func (c *Client) Context() backend.Context { return c.bctx }

// Resolver returns the identifier resolver.
func (c *Client) Resolver() guid.Resolver { return c.resolver }

func (c *Client) clientIdentifier() string {
	if c.bctx.Options.ClientIdentifier != "" {
		return c.bctx.Options.ClientIdentifier
	}
	return "statesync-" + c.bctx.Name
}

// header returns the headers sent with every request.
func (c *Client) header(token string) http.Header {
	h := http.Header{}
	h.Set("X-Plex-Token", token)
	h.Set("X-Plex-Client-Identifier", c.clientIdentifier())
	h.Set("X-Plex-Product", "StateSync")
	h.Set("X-Plex-Version", "1.0.0")
	h.Set("Accept", "application/json")
	return h
}

func fetch[T any](ctx context.Context, c *Client, path string, query url.Values) (T, *backend.Error) {
	return backend.FetchJSON[T](ctx, c.doer, c.bctx, backend.RequestConfig{
		Path:   path,
		Query:  query,
		Header: c.header(c.bctx.Token),
	})
}

// tv returns a context pointed at plex.tv.
func (c *Client) tv() backend.Context {
	t := c.bctx
	t.URL = c.tvBase
	return t
}

// ============================================================================
// Server Info
// ============================================================================

// GetInfo reads the server root.
func (c *Client) GetInfo(ctx context.Context) backend.Result[backend.Info] {
	root, e := fetch[container](ctx, c, "/", nil)
	if e != nil {
		return backend.Failed[backend.Info](e)
	}
	mc := root.MediaContainer
	if mc.MachineIdentifier == "" {
		return backend.Fail[backend.Info](backend.NewError(c.bctx.Name, "plex returned no machine identifier"))
	}
	return backend.OK(backend.Info{
		Name:       mc.FriendlyName,
		Version:    mc.Version,
		Identifier: mc.MachineIdentifier,
		Platform:   mc.Platform,
	})
}

// GetVersion returns the server version.
func (c *Client) GetVersion(ctx context.Context) backend.Result[string] {
	r := c.GetInfo(ctx)
	if !r.Success {
		return backend.Convert[backend.Info, string](r)
	}
	return backend.OK(r.Value.Version)
}

// GetIdentifier returns the machine identifier.
func (c *Client) GetIdentifier(ctx context.Context) backend.Result[string] {
	r := c.GetInfo(ctx)
	if !r.Success {
		return backend.Convert[backend.Info, string](r)
	}
	return backend.OK(r.Value.Identifier)
}

// ============================================================================
// Users
// ============================================================================

// GetUsersList lists Plex Home users.
func (c *Client) GetUsersList(ctx context.Context) backend.Result[[]backend.User] {
	home, e := backend.FetchJSON[homeUsers](ctx, c.doer, c.tv(), backend.RequestConfig{
		Path:   "/api/v2/home/users/",
		Header: c.header(c.bctx.Token),
	})
	if e != nil {
		return backend.Failed[[]backend.User](e)
	}
	if len(home.Users) == 0 {
		return backend.Fail[[]backend.User](backend.NewError(c.bctx.Name, "no home users found"))
	}

	out := make([]backend.User, 0, len(home.Users))
	for _, u := range home.Users {
		out = append(out, u.toUser())
	}
	return backend.OK(out)
}

// GetUser finds one home user by id or uuid.
func (c *Client) GetUser(ctx context.Context, id string) backend.Result[backend.User] {
	users := c.GetUsersList(ctx)
	if !users.Success {
		return backend.Convert[[]backend.User, backend.User](users)
	}
	for _, u := range users.Value {
		if u.ID == id {
			return backend.OK(u)
		}
	}
	return backend.Fail[backend.User](backend.NewError(c.bctx.Name, "user %s not found", id)).
		With(backend.ExtraHTTPCode, http.StatusNotFound)
}

// GetUserToken switches to a home user and returns that user's access
// token for this server.
func (c *Client) GetUserToken(ctx context.Context, userID, username string) backend.Result[string] {
	switched, e := backend.FetchJSON[switchResponse](ctx, c.doer, c.tv(), backend.RequestConfig{
		Method: http.MethodPost,
		Path:   "/api/v2/home/users/" + url.PathEscape(userID) + "/switch",
		Header: c.header(c.bctx.Token),
		Expect: []int{http.StatusOK, http.StatusCreated},
	})
	if e != nil {
		return backend.Failed[string](e)
	}
	if switched.AuthToken == "" {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "switch to user %s returned no token", username))
	}

	resources, e := backend.FetchJSON[[]resource](ctx, c.doer, c.tv(), backend.RequestConfig{
		Path:   "/api/v2/resources",
		Query:  url.Values{"includeIPv6": {"1"}, "includeHttps": {"1"}},
		Header: c.header(switched.AuthToken),
	})
	if e != nil {
		return backend.Failed[string](e)
	}
	for _, r := range resources {
		if r.ClientIdentifier == c.bctx.BackendID && r.AccessToken != "" {
			return backend.OK(r.AccessToken)
		}
	}
	return backend.Fail[string](backend.NewError(c.bctx.Name, "user %s has no access to server %s", username, c.bctx.BackendID))
}

// GenerateAccessToken is not supported; Plex tokens come from plex.tv sign-in.
func (c *Client) GenerateAccessToken(_ context.Context, _, _ string) backend.Result[string] {
	return backend.Fail[string](backend.NewError(c.bctx.Name, "plex does not support generating access tokens"))
}

// ============================================================================
// Sessions, Search, Links, Proxy
// ============================================================================

// GetSessions lists active sessions.
func (c *Client) GetSessions(ctx context.Context) backend.Result[[]backend.Session] {
	resp, e := fetch[container](ctx, c, "/status/sessions", nil)
	if e != nil {
		return backend.Failed[[]backend.Session](e)
	}

	out := make([]backend.Session, 0, len(resp.MediaContainer.Metadata))
	for _, m := range resp.MediaContainer.Metadata {
		s := backend.Session{ItemID: string(m.RatingKey), Offset: m.ViewOffset, State: "playing"}
		if m.User != nil {
			s.UserID = string(m.User.ID)
		}
		if m.Player != nil && m.Player.State != "" {
			s.State = m.Player.State
		}
		out = append(out, s)
	}
	return backend.OK(out)
}

// SearchQuery searches the server hubs.
func (c *Client) SearchQuery(ctx context.Context, query string, limit int) backend.Result[[]backend.Item] {
	if strings.TrimSpace(query) == "" {
		return backend.Fail[[]backend.Item](backend.NewError(c.bctx.Name, "empty search query"))
	}
	if limit <= 0 {
		limit = 25
	}
	resp, e := fetch[container](ctx, c, "/hubs/search", url.Values{
		"query":        {query},
		"limit":        {strconv.Itoa(limit)},
		"includeGuids": {"1"},
	})
	if e != nil {
		return backend.Failed[[]backend.Item](e)
	}

	var out []backend.Item
	for _, hub := range resp.MediaContainer.Hub {
		for _, m := range hub.Metadata {
			if it, ok := c.Convert(m); ok && it.Type != state.TypeShow {
				out = append(out, it)
			}
		}
	}
	return backend.OK(out)
}

// SearchID looks an item up by rating key, bypassing the cache.
func (c *Client) SearchID(ctx context.Context, id string) backend.Result[backend.Item] {
	return c.GetMetaData(ctx, id, backend.MetaOptions{NoCache: true})
}

// GetWebURL builds the Plex web link for an item.
func (c *Client) GetWebURL(itemType, id string) backend.Result[string] {
	if !backend.SupportedWebType(itemType) {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "unsupported web url type %q", itemType))
	}
	base := strings.TrimSuffix(c.bctx.URL.String(), "/")
	return backend.OK(fmt.Sprintf("%s/web/index.html#!/server/%s/details?key=%s&context=external",
		base, c.bctx.BackendID, url.QueryEscape("/library/metadata/"+id)))
}

// Proxy forwards one request with the client's credentials.
func (c *Client) Proxy(ctx context.Context, method, path string, query url.Values, body []byte) backend.Result[backend.ProxyResponse] {
	return backend.Forward(ctx, c.doer, c.bctx, backend.RequestConfig{
		Method: method,
		Path:   path,
		Query:  query,
		Header: c.header(c.bctx.Token),
		Body:   body,
	})
}
