// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package plex

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/validation"
)

// Webhook events accepted from Plex and Tautulli.
var webhookEvents = map[string]bool{
	"library.new":      true,
	"library.on.deck":  true,
	"media.play":       true,
	"media.stop":       true,
	"media.resume":     true,
	"media.pause":      true,
	"media.scrobble":   true,
	"tautulli.start":   true,
	"tautulli.play":    true,
	"tautulli.stop":    true,
	"tautulli.pause":   true,
	"tautulli.resume":  true,
	"tautulli.watched": true,
	"tautulli.created": true,
}

var taintedEvents = map[string]bool{
	"media.play":      true,
	"media.stop":      true,
	"media.resume":    true,
	"media.pause":     true,
	"tautulli.start":  true,
	"tautulli.play":   true,
	"tautulli.stop":   true,
	"tautulli.pause":  true,
	"tautulli.resume": true,
}

var webhookTypes = map[string]bool{
	"movie":   true,
	"episode": true,
}

type webhookPayload struct {
	Event   string `json:"event" validate:"required"`
	Account struct {
		ID    flexString `json:"id"`
		Title string     `json:"title"`
	} `json:"Account"`
	Server struct {
		UUID  string `json:"uuid"`
		Title string `json:"title"`
	} `json:"Server"`
	Metadata metadata `json:"Metadata"`
}

var errNoPayload = errors.New("webhook has no payload")

// decodeWebhook reads the "payload" field of a Plex multipart form, or a
// JSON body as sent by Tautulli. The request body stays readable.
func decodeWebhook(r *http.Request) (webhookPayload, error) {
	var p webhookPayload

	data, err := backend.ReadBody(r)
	if err != nil {
		return p, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		form := r.Clone(r.Context())
		form.Body = io.NopCloser(bytes.NewReader(data))
		if err := form.ParseMultipartForm(backend.MaxWebhookBody); err != nil {
			return p, err
		}
		data = []byte(form.FormValue("payload"))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return p, errNoPayload
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, err
	}
	return p, nil
}

// InspectRequest extracts identifying fields without a network call.
func (c *Client) InspectRequest(r *http.Request) backend.Result[backend.RequestInfo] {
	p, err := decodeWebhook(r)
	if err != nil {
		return backend.Fail[backend.RequestInfo](backend.Wrap(c.bctx.Name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}
	return backend.OK(backend.RequestInfo{
		BackendID: p.Server.UUID,
		UserID:    string(p.Account.ID),
		Event:     p.Event,
		ItemID:    string(p.Metadata.RatingKey),
	})
}

// ParseWebhook converts a Plex or Tautulli webhook into a canonical item.
// Played state and progress come from the payload, everything else from a
// fresh metadata fetch.
func (c *Client) ParseWebhook(ctx context.Context, r *http.Request) backend.Result[*state.Item] {
	name := c.bctx.Name

	p, err := decodeWebhook(r)
	if err != nil {
		return backend.Fail[*state.Item](backend.Wrap(name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}
	if verr := validation.ValidateStruct(&p); verr != nil {
		return backend.Fail[*state.Item](backend.Wrap(name, verr, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest).
			With(backend.ExtraFields, verr.Fields())
	}

	if !webhookTypes[p.Metadata.Type] {
		return backend.Ignored[*state.Item](name, http.StatusOK, "item type %q not supported", p.Metadata.Type)
	}
	if !webhookEvents[p.Event] {
		return backend.Ignored[*state.Item](name, http.StatusOK, "event %q not supported", p.Event)
	}

	id := string(p.Metadata.RatingKey)
	if id == "" {
		return backend.Fail[*state.Item](backend.NewError(name, "webhook payload has no item id")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}
	if lib := string(p.Metadata.LibrarySectionID); lib != "" && c.bctx.Options.IsLibraryIgnored(lib) {
		return backend.Ignored[*state.Item](name, http.StatusOK, "library %s is ignored", lib)
	}

	meta := c.GetMetaData(ctx, id, backend.MetaOptions{NoCache: true})
	if !meta.Success {
		return backend.Convert[backend.Item, *state.Item](meta).
			With(backend.ExtraHTTPCode, meta.HTTPCode(http.StatusInternalServerError))
	}
	it := meta.Value

	it.Watched = p.Metadata.ViewCount > 0
	it.Progress = 0
	if it.Watched {
		if p.Metadata.LastViewedAt > 0 {
			it.Date = p.Metadata.LastViewedAt
		}
	} else {
		it.Date = it.AddedAt
		it.Progress = p.Metadata.ViewOffset
	}

	tainted := taintedEvents[p.Event]
	event := p.Event
	date := time.Now().Unix()

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
	if !entity.Value.HasGUIDs() && !entity.Value.HasRelativeGUID() {
		return backend.Ignored[*state.Item](name, http.StatusOK, "item %s has no supported external ids", id)
	}

	logging.Ctx(ctx).Debug().
		Str("backend", name).
		Str("event", event).
		Str("item", entity.Value.Name()).
		Bool("tainted", tainted).
		Msg("Webhook parsed")

	return entity
}
