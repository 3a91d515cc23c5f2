// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package backend defines the contract every media server implementation
// fulfils.
//
// A backend is a set of small capability interfaces (one per action family)
// composed into Client. Every action returns a Result envelope; callers branch
// on Result.Success and the extra keys, never on Go error types. The
// reconciliation algorithms in internal/reconcile are written once against
// Client, and the per-kind packages (plex, jellyfin, emby) only translate
// payloads.
package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/state"
)

// InfoProvider reads server identity.
type InfoProvider interface {
	GetInfo(ctx context.Context) Result[Info]
	GetVersion(ctx context.Context) Result[string]
	GetIdentifier(ctx context.Context) Result[string]
}

// LibraryProvider lists libraries and their items.
type LibraryProvider interface {
	// GetLibrariesList fails when the backend reports no libraries at all.
	GetLibrariesList(ctx context.Context) Result[[]Library]
	// GetLibrary pages through one supported library. An empty library is
	// a successful empty Result.
	GetLibrary(ctx context.Context, id string, opts Options) Result[[]Item]
}

// MetaOptions controls GetMetaData.
type MetaOptions struct {
	NoCache bool
}

// MetadataProvider fetches single items through the metadata cache.
type MetadataProvider interface {
	GetMetaData(ctx context.Context, id string, opts MetaOptions) Result[Item]
}

// EntityOptions controls ToEntity.
type EntityOptions struct {
	// LatestDate uses the most recent backend timestamp instead of the
	// play-state policy date.
	LatestDate bool
	// Override runs last and may adjust the built item.
	Override func(*state.Item)
}

// EntityConverter builds canonical items.
type EntityConverter interface {
	ToEntity(ctx context.Context, item Item, opts EntityOptions) Result[*state.Item]
}

// UserProvider lists users and their tokens.
type UserProvider interface {
	GetUsersList(ctx context.Context) Result[[]User]
	GetUser(ctx context.Context, id string) Result[User]
	GetUserToken(ctx context.Context, userID, username string) Result[string]
}

// SessionProvider lists active playback sessions.
type SessionProvider interface {
	GetSessions(ctx context.Context) Result[[]Session]
}

// WebhookParser turns inbound webhook requests into canonical items.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, r *http.Request) Result[*state.Item]
	// InspectRequest reads identifying fields without any network call.
	InspectRequest(r *http.Request) Result[RequestInfo]
}

// Searcher searches the backend catalog.
type Searcher interface {
	SearchQuery(ctx context.Context, query string, limit int) Result[[]Item]
	SearchID(ctx context.Context, id string) Result[Item]
}

// WebLinker builds deep links into the backend web UI.
type WebLinker interface {
	// GetWebURL accepts movie, show and episode only.
	GetWebURL(itemType, id string) Result[string]
}

// Proxier forwards one raw request.
type Proxier interface {
	Proxy(ctx context.Context, method, path string, query url.Values, body []byte) Result[ProxyResponse]
}

// TokenGenerator exchanges credentials for an access token.
type TokenGenerator interface {
	GenerateAccessToken(ctx context.Context, identifier, password string) Result[string]
}

// StateWriter builds (but never sends) write requests.
type StateWriter interface {
	PlayStateRequest(t PlayStateTarget) (queue.Request, error)
	ProgressRequest(t ProgressTarget) (queue.Request, error)
}

// Client is a complete backend.
type Client interface {
	InfoProvider
	LibraryProvider
	MetadataProvider
	EntityConverter
	UserProvider
	SessionProvider
	WebhookParser
	Searcher
	WebLinker
	Proxier
	TokenGenerator
	StateWriter

	Context() Context
	Resolver() guid.Resolver
}
