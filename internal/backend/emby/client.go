// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package emby implements the Emby backend. Emby shares Jellyfin's REST
// dialect, so the client embeds the Jellyfin client and only replaces webhook
// handling; web links and progress payloads differ through the dialect.
package emby

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/backend/jellyfin"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/validation"
)

// Dialect is Emby's variant of the Jellyfin API.
var Dialect = jellyfin.Dialect{Product: "Emby", WebRoute: "item", ProgressLastPlayed: true}

var _ backend.Client = (*Client)(nil)

// Client is the Emby backend.
type Client struct {
	*jellyfin.Client
}

// New creates an Emby client.
func New(bctx backend.Context, deps backend.Deps) (*Client, error) {
	jc, err := jellyfin.NewWithDialect(bctx, deps, Dialect)
	if err != nil {
		return nil, err
	}
	return &Client{Client: jc}, nil
}

// Factory adapts New to backend.Factory.
func Factory(bctx backend.Context, deps backend.Deps) (backend.Client, error) {
	return New(bctx, deps)
}

var webhookEvents = map[string]bool{
	"item.markplayed":   true,
	"item.markunplayed": true,
	"playback.scrobble": true,
	"playback.pause":    true,
	"playback.unpause":  true,
	"playback.start":    true,
	"playback.stop":     true,
	"library.new":       true,
}

var taintedEvents = map[string]bool{
	"playback.pause":   true,
	"playback.unpause": true,
	"playback.start":   true,
	"library.new":      true,
}

var webhookTypes = map[string]bool{
	"Movie":   true,
	"Episode": true,
}

var contentTypes = map[string]bool{
	"application/json":    true,
	"multipart/form-data": true,
}

type webhookPayload struct {
	Event string `json:"Event" validate:"required"`
	Date  string `json:"Date"`
	User  struct {
		ID string `json:"Id"`
	} `json:"User"`
	Server struct {
		ID string `json:"Id"`
	} `json:"Server"`
	Item         jellyfin.ItemPayload `json:"Item"`
	PlaybackInfo *struct {
		PlayedToCompletion bool  `json:"PlayedToCompletion"`
		PositionTicks      int64 `json:"PositionTicks"`
	} `json:"PlaybackInfo"`
}

// decodeWebhook reads a JSON body or the "data" field of a multipart form.
// The request body stays readable.
func decodeWebhook(r *http.Request) (webhookPayload, int, error) {
	var p webhookPayload

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !contentTypes[mediaType] {
		return p, http.StatusOK, errUnsupportedContent
	}

	data, err := backend.ReadBody(r)
	if err != nil {
		return p, http.StatusBadRequest, err
	}

	if mediaType == "multipart/form-data" {
		form := r.Clone(r.Context())
		form.Body = io.NopCloser(bytes.NewReader(data))
		if err := form.ParseMultipartForm(backend.MaxWebhookBody); err != nil {
			return p, http.StatusBadRequest, err
		}
		data = []byte(form.FormValue("data"))
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, http.StatusBadRequest, err
	}
	return p, 0, nil
}

type contentError string

func (e contentError) Error() string { return string(e) }

const errUnsupportedContent = contentError("unsupported content type")

// InspectRequest extracts identifying fields without a network call.
func (c *Client) InspectRequest(r *http.Request) backend.Result[backend.RequestInfo] {
	name := c.Context().Name
	p, code, err := decodeWebhook(r)
	if err != nil {
		return backend.Fail[backend.RequestInfo](backend.Wrap(name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, code)
	}
	return backend.OK(backend.RequestInfo{
		BackendID: p.Server.ID,
		UserID:    p.User.ID,
		Event:     p.Event,
		ItemID:    p.Item.ID,
	})
}

// ParseWebhook converts an Emby webhook into a canonical item. The payload
// carries the full item, so only episode parents need a lookup.
func (c *Client) ParseWebhook(ctx context.Context, r *http.Request) backend.Result[*state.Item] {
	name := c.Context().Name

	p, code, err := decodeWebhook(r)
	if err != nil {
		if code == http.StatusOK {
			return backend.Ignored[*state.Item](name, code, "%s", err.Error())
		}
		return backend.Fail[*state.Item](backend.Wrap(name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, code)
	}
	if verr := validation.ValidateStruct(&p); verr != nil {
		return backend.Fail[*state.Item](backend.Wrap(name, verr, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest).
			With(backend.ExtraFields, verr.Fields())
	}

	event := strings.ToLower(p.Event)
	if !webhookEvents[event] {
		return backend.Ignored[*state.Item](name, http.StatusOK, "event %q not supported", p.Event)
	}
	if !webhookTypes[p.Item.Type] {
		return backend.Ignored[*state.Item](name, http.StatusOK, "item type %q not supported", p.Item.Type)
	}
	if p.Item.ID == "" {
		return backend.Fail[*state.Item](backend.NewError(name, "webhook payload has no item id")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}

	it, ok := c.Convert(p.Item, "")
	if !ok {
		return backend.Ignored[*state.Item](name, http.StatusOK, "item %s could not be decoded", p.Item.ID)
	}

	now := time.Now().Unix()
	switch event {
	case "item.markplayed", "playback.scrobble":
		it.Watched = true
		it.Date = now
	case "item.markunplayed":
		it.Watched = false
		it.Date = it.AddedAt
	default:
		if p.PlaybackInfo != nil && p.PlaybackInfo.PlayedToCompletion && !it.Watched {
			it.Watched = true
			it.Date = now
		}
	}
	if it.Watched {
		it.Progress = 0
	} else if p.PlaybackInfo != nil && p.PlaybackInfo.PositionTicks > 0 {
		it.Progress = jellyfin.TicksToMillis(p.PlaybackInfo.PositionTicks)
	}

	if !c.Resolver().HasSupported(it.Type, it.RawIDs) {
		return backend.Ignored[*state.Item](name, http.StatusOK, "item %s has no supported external ids", it.ID)
	}

	tainted := taintedEvents[event]
	date := jellyfin.ParseDate(p.Date)
	if date == 0 {
		date = now
	}

	entity := c.ToEntity(ctx, it, backend.EntityOptions{
		Override: func(e *state.Item) {
			e.Tainted = tainted
			e.Event = event
			e.Extra[name] = state.Extra{Event: event, Date: date}
		},
	})
	if !entity.Success {
		return entity.With(backend.ExtraHTTPCode, http.StatusInternalServerError)
	}

	logging.Ctx(ctx).Debug().
		Str("backend", name).
		Str("event", event).
		Str("item", entity.Value.Name()).
		Bool("tainted", tainted).
		Msg("Webhook parsed")

	return entity
}
