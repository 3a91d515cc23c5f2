// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
client.go - Jellyfin Action Set

This file implements backend.Client for Jellyfin. Emby speaks the same REST
dialect with a few differences (web links, progress payloads, webhook
format); those are captured by Dialect and by the emby package embedding
*Client.

API Reference: https://api.jellyfin.org/

Authentication:
  - X-Emby-Token header carrying the configured API key
  - User-scoped endpoints use the configured user id
*/

//nolint:staticcheck // File documentation, not package doc
package jellyfin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/transport"
)

// Default page size for library listings.
const defaultSegment = 500

// Dialect captures the differences between Jellyfin and Emby.
type Dialect struct {
	// Product is used in client headers and messages.
	Product string
	// WebRoute is the web UI route for item details.
	WebRoute string
	// ProgressLastPlayed adds LastPlayedDate to progress writes.
	ProgressLastPlayed bool
}

// JellyfinDialect is the default dialect.
var JellyfinDialect = Dialect{Product: "Jellyfin", WebRoute: "details"}

var _ backend.Client = (*Client)(nil)

// Client is the Jellyfin backend.
type Client struct {
	bctx     backend.Context
	doer     transport.Doer
	reg      *guid.Registry
	resolver guid.Resolver
	loader   *backend.Loader
	dialect  Dialect
}

// New creates a Jellyfin client.
func New(bctx backend.Context, deps backend.Deps) (*Client, error) {
	return NewWithDialect(bctx, deps, JellyfinDialect)
}

// Factory adapts New to backend.Factory.
func Factory(bctx backend.Context, deps backend.Deps) (backend.Client, error) {
	return New(bctx, deps)
}

// NewWithDialect creates a client speaking d.
func NewWithDialect(bctx backend.Context, deps backend.Deps, d Dialect) (*Client, error) {
	if bctx.URL == nil {
		return nil, fmt.Errorf("%s: no url configured", bctx.Name)
	}
	if bctx.User == "" {
		return nil, fmt.Errorf("%s: no user id configured", bctx.Name)
	}
	reg := deps.GUID
	if reg == nil {
		reg = guid.NewRegistry()
	}
	kind := strings.ToLower(d.Product)

	return &Client{
		bctx:     bctx,
		doer:     deps.Doer,
		reg:      reg,
		resolver: guid.NewKeyResolver(bctx.Name, reg, deps.Rules.ForKind(kind), deps.Ignore),
		loader:   backend.NewLoader(bctx.Name, deps.Cache, bctx.Options.MetadataTTL),
		dialect:  d,
	}, nil
}

// Context returns the backend context.
func (c *Client) Context() backend.Context { return c.bctx }

// Resolver returns the identifier resolver.
func (c *Client) Resolver() guid.Resolver { return c.resolver }

// Registry returns the identifier registry.
func (c *Client) Registry() *guid.Registry { return c.reg }

// Dialect returns the dialect in use.
func (c *Client) Dialect() Dialect { return c.dialect }

// Header returns the headers sent with every request.
func (c *Client) Header() http.Header {
	h := http.Header{}
	h.Set("X-Emby-Token", c.bctx.Token)
	h.Set("X-Emby-Client", "StateSync")
	h.Set("X-Emby-Device-Name", "StateSync")
	h.Set("X-Emby-Device-Id", "statesync-"+c.bctx.Name)
	h.Set("X-Emby-Client-Version", "1.0.0")
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	return h
}

func fetch[T any](ctx context.Context, c *Client, path string, query url.Values) (T, *backend.Error) {
	return backend.FetchJSON[T](ctx, c.doer, c.bctx, backend.RequestConfig{
		Path:   path,
		Query:  query,
		Header: c.Header(),
	})
}

// ============================================================================
// Server Info
// ============================================================================

type systemInfo struct {
	ServerName      string `json:"ServerName"`
	Version         string `json:"Version"`
	ID              string `json:"Id"`
	OperatingSystem string `json:"OperatingSystem"`
}

// GetInfo reads /System/Info.
func (c *Client) GetInfo(ctx context.Context) backend.Result[backend.Info] {
	info, e := fetch[systemInfo](ctx, c, "/System/Info", nil)
	if e != nil {
		return backend.Failed[backend.Info](e)
	}
	if info.ID == "" {
		return backend.Fail[backend.Info](backend.NewError(c.bctx.Name, "%s returned no server id", c.dialect.Product))
	}
	return backend.OK(backend.Info{
		Name:       info.ServerName,
		Version:    info.Version,
		Identifier: info.ID,
		Platform:   info.OperatingSystem,
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

// GetIdentifier returns the server id.
func (c *Client) GetIdentifier(ctx context.Context) backend.Result[string] {
	r := c.GetInfo(ctx)
	if !r.Success {
		return backend.Convert[backend.Info, string](r)
	}
	return backend.OK(r.Value.Identifier)
}

// ============================================================================
// Users and Sessions
// ============================================================================

type userPayload struct {
	ID               string `json:"Id"`
	Name             string `json:"Name"`
	LastActivityDate string `json:"LastActivityDate"`
	Policy           struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsHidden        bool `json:"IsHidden"`
		IsDisabled      bool `json:"IsDisabled"`
	} `json:"Policy"`
}

func (p userPayload) toUser() backend.User {
	return backend.User{
		ID:         p.ID,
		Name:       p.Name,
		Admin:      p.Policy.IsAdministrator,
		Restricted: p.Policy.IsDisabled || p.Policy.IsHidden,
		UpdatedAt:  ParseDate(p.LastActivityDate),
	}
}

// GetUsersList lists server users.
func (c *Client) GetUsersList(ctx context.Context) backend.Result[[]backend.User] {
	users, e := fetch[[]userPayload](ctx, c, "/Users", nil)
	if e != nil {
		return backend.Failed[[]backend.User](e)
	}
	if len(users) == 0 {
		return backend.Fail[[]backend.User](backend.NewError(c.bctx.Name, "no users found"))
	}
	out := make([]backend.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.toUser())
	}
	return backend.OK(out)
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id string) backend.Result[backend.User] {
	u, e := fetch[userPayload](ctx, c, "/Users/"+url.PathEscape(id), nil)
	if e != nil {
		return backend.Failed[backend.User](e)
	}
	return backend.OK(u.toUser())
}

// GetUserToken returns the configured API key; Jellyfin keys are not user scoped.
func (c *Client) GetUserToken(_ context.Context, _, _ string) backend.Result[string] {
	if c.bctx.Token == "" {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "no api key configured"))
	}
	return backend.OK(c.bctx.Token)
}

type sessionPayload struct {
	UserID         string `json:"UserId"`
	NowPlayingItem *struct {
		ID string `json:"Id"`
	} `json:"NowPlayingItem"`
	PlayState *struct {
		PositionTicks int64 `json:"PositionTicks"`
		IsPaused      bool  `json:"IsPaused"`
	} `json:"PlayState"`
}

// GetSessions lists sessions with something playing.
func (c *Client) GetSessions(ctx context.Context) backend.Result[[]backend.Session] {
	sessions, e := fetch[[]sessionPayload](ctx, c, "/Sessions", nil)
	if e != nil {
		return backend.Failed[[]backend.Session](e)
	}

	out := make([]backend.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.NowPlayingItem == nil || s.NowPlayingItem.ID == "" {
			continue
		}
		sess := backend.Session{UserID: s.UserID, ItemID: s.NowPlayingItem.ID, State: "playing"}
		if s.PlayState != nil {
			sess.Offset = TicksToMillis(s.PlayState.PositionTicks)
			if s.PlayState.IsPaused {
				sess.State = "paused"
			}
		}
		out = append(out, sess)
	}
	return backend.OK(out)
}

// ============================================================================
// Search, Links, Proxy, Tokens
// ============================================================================

// SearchQuery searches movies and episodes by name.
func (c *Client) SearchQuery(ctx context.Context, query string, limit int) backend.Result[[]backend.Item] {
	if strings.TrimSpace(query) == "" {
		return backend.Fail[[]backend.Item](backend.NewError(c.bctx.Name, "empty search query"))
	}
	if limit <= 0 {
		limit = 25
	}
	q := itemQuery()
	q.Set("searchTerm", query)
	q.Set("Limit", fmt.Sprint(limit))
	q.Set("IncludeItemTypes", "Movie,Episode")

	page, e := fetch[itemsPage](ctx, c, c.userPath("/Items"), q)
	if e != nil {
		return backend.Failed[[]backend.Item](e)
	}
	out := make([]backend.Item, 0, len(page.Items))
	for _, p := range page.Items {
		if it, ok := c.Convert(p, ""); ok {
			out = append(out, it)
		}
	}
	return backend.OK(out)
}

// SearchID looks an item up by id, bypassing the cache.
func (c *Client) SearchID(ctx context.Context, id string) backend.Result[backend.Item] {
	return c.GetMetaData(ctx, id, backend.MetaOptions{NoCache: true})
}

// GetWebURL builds the web UI link for an item.
func (c *Client) GetWebURL(itemType, id string) backend.Result[string] {
	if !backend.SupportedWebType(itemType) {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "unsupported web url type %q", itemType))
	}
	base := strings.TrimSuffix(c.bctx.URL.String(), "/")
	return backend.OK(fmt.Sprintf("%s/web/index.html#!/%s?id=%s&serverId=%s",
		base, c.dialect.WebRoute, url.QueryEscape(id), url.QueryEscape(c.bctx.BackendID)))
}

// Proxy forwards one request with the client's credentials.
func (c *Client) Proxy(ctx context.Context, method, path string, query url.Values, body []byte) backend.Result[backend.ProxyResponse] {
	return backend.Forward(ctx, c.doer, c.bctx, backend.RequestConfig{
		Method: method,
		Path:   path,
		Query:  query,
		Header: c.Header(),
		Body:   body,
	})
}

type authResponse struct {
	AccessToken string `json:"AccessToken"`
	User        struct {
		ID string `json:"Id"`
	} `json:"User"`
}

// GenerateAccessToken authenticates a user by name.
func (c *Client) GenerateAccessToken(ctx context.Context, identifier, password string) backend.Result[string] {
	if identifier == "" {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "no username given"))
	}
	body, err := json.Marshal(map[string]string{"Username": identifier, "Pw": password})
	if err != nil {
		return backend.Fail[string](backend.Wrap(c.bctx.Name, err, "encode credentials"))
	}

	header := c.Header()
	header.Del("X-Emby-Token")
	header.Set("Authorization", fmt.Sprintf(
		`MediaBrowser Client="StateSync", Device="StateSync", DeviceId="statesync-%s", Version="1.0.0"`, c.bctx.Name))

	auth, e := backend.FetchJSON[authResponse](ctx, c.doer, c.bctx, backend.RequestConfig{
		Method: http.MethodPost,
		Path:   "/Users/AuthenticateByName",
		Header: header,
		Body:   body,
	})
	if e != nil {
		return backend.Failed[string](e)
	}
	if auth.AccessToken == "" {
		return backend.Fail[string](backend.NewError(c.bctx.Name, "no access token returned"))
	}
	return backend.OK(auth.AccessToken)
}

func (c *Client) userPath(suffix string) string {
	return "/Users/" + url.PathEscape(c.bctx.User) + suffix
}

// entityType maps Jellyfin item types to canonical types.
func entityType(t string) string {
	switch strings.ToLower(t) {
	case "movie":
		return state.TypeMovie
	case "episode":
		return state.TypeEpisode
	case "series":
		return state.TypeShow
	default:
		return ""
	}
}
