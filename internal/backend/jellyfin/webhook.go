// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package jellyfin

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/validation"
)

// Webhook events accepted from the Jellyfin webhook plugin.
var webhookEvents = map[string]bool{
	"ItemAdded":     true,
	"UserDataSaved": true,
	"PlaybackStart": true,
	"PlaybackStop":  true,
}

// Tainted events may update metadata and progress but not play state.
var taintedEvents = map[string]bool{
	"ItemAdded":     true,
	"PlaybackStart": true,
	"PlaybackStop":  true,
}

var webhookTypes = map[string]bool{
	"Movie":   true,
	"Episode": true,
}

type webhookPayload struct {
	NotificationType      string `json:"NotificationType" validate:"required"`
	ServerID              string `json:"ServerId"`
	UserID                string `json:"UserId"`
	ItemID                string `json:"ItemId"`
	ItemType              string `json:"ItemType"`
	PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
	UtcTimestamp          string `json:"UtcTimestamp"`
}

func decodeWebhook(r *http.Request) (webhookPayload, map[string]interface{}, error) {
	var p webhookPayload
	data, err := backend.ReadBody(r)
	if err != nil {
		return p, nil, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, nil, err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return p, nil, err
	}
	return p, raw, nil
}

// InspectRequest extracts identifying fields without a network call.
func (c *Client) InspectRequest(r *http.Request) backend.Result[backend.RequestInfo] {
	p, _, err := decodeWebhook(r)
	if err != nil {
		return backend.Fail[backend.RequestInfo](backend.Wrap(c.bctx.Name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}
	return backend.OK(backend.RequestInfo{
		BackendID: p.ServerID,
		UserID:    p.UserID,
		Event:     p.NotificationType,
		ItemID:    p.ItemID,
	})
}

// ParseWebhook converts a webhook plugin request into a canonical item.
func (c *Client) ParseWebhook(ctx context.Context, r *http.Request) backend.Result[*state.Item] {
	p, raw, err := decodeWebhook(r)
	if err != nil {
		return backend.Fail[*state.Item](backend.Wrap(c.bctx.Name, err, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}
	if verr := validation.ValidateStruct(&p); verr != nil {
		return backend.Fail[*state.Item](backend.Wrap(c.bctx.Name, verr, "invalid webhook payload")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest).
			With(backend.ExtraFields, verr.Fields())
	}

	if !webhookTypes[p.ItemType] {
		return backend.Ignored[*state.Item](c.bctx.Name, http.StatusOK, "item type %q not supported", p.ItemType)
	}
	if !webhookEvents[p.NotificationType] {
		return backend.Ignored[*state.Item](c.bctx.Name, http.StatusOK, "event %q not supported", p.NotificationType)
	}
	if p.ItemID == "" {
		return backend.Fail[*state.Item](backend.NewError(c.bctx.Name, "webhook payload has no item id")).
			With(backend.ExtraHTTPCode, http.StatusBadRequest)
	}

	tainted := taintedEvents[p.NotificationType]
	date := ParseDate(p.UtcTimestamp)
	if date == 0 {
		date = time.Now().Unix()
	}

	var it backend.Item
	meta := c.GetMetaData(ctx, p.ItemID, backend.MetaOptions{NoCache: true})
	switch {
	case meta.Success:
		it = meta.Value
		it.RawIDs = mergeProviderKeys(it.RawIDs, raw)
	case backend.IsNotFound(meta.Err()):
		return backend.Convert[backend.Item, *state.Item](meta).
			With(backend.ExtraHTTPCode, http.StatusNotFound)
	default:
		// Without the server's view only a played report can be trusted;
		// the added date an unplayed report is compared against is unknown.
		it = payloadItem(p, raw, date)
		if !it.Watched {
			tainted = true
		}
		logging.Ctx(ctx).Warn().Err(meta.Err()).
			Str("backend", c.bctx.Name).
			Str("item", p.ItemID).
			Bool("played", it.Watched).
			Msg("Metadata lookup failed, using webhook payload")
	}

	if !c.resolver.HasSupported(it.Type, it.RawIDs) {
		return backend.Ignored[*state.Item](c.bctx.Name, http.StatusOK, "item %s has no supported external ids", it.ID)
	}
	if !it.Watched && p.PlaybackPositionTicks > 0 {
		it.Progress = TicksToMillis(p.PlaybackPositionTicks)
	}

	name := c.bctx.Name
	event := p.NotificationType
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

// payloadItem decodes the item fields the webhook plugin sends along with
// the event. Played items are dated at the event.
func payloadItem(p webhookPayload, raw map[string]interface{}, date int64) backend.Item {
	it := backend.Item{
		ID:       p.ItemID,
		Type:     entityType(p.ItemType),
		Title:    rawString(raw, "Name"),
		Year:     int(rawInt(raw, "Year")),
		Watched:  rawBool(raw, "Played"),
		Duration: TicksToMillis(rawInt(raw, "RunTimeTicks")),
		RawIDs:   mergeProviderKeys(nil, raw),
	}
	if it.Type == state.TypeEpisode {
		it.Season = int(rawInt(raw, "SeasonNumber"))
		it.Episode = int(rawInt(raw, "EpisodeNumber"))
		it.ParentID = rawString(raw, "SeriesId")
		it.ShowTitle = rawString(raw, "SeriesName")
	}
	if it.Watched {
		it.Date, it.PlayedAt = date, date
	}
	it.LatestDate = date
	return it
}

// The webhook plugin renders user templates, so scalar fields may arrive
// as JSON strings.

func rawString(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func rawInt(raw map[string]interface{}, key string) int64 {
	switch v := raw[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}

func rawBool(raw map[string]interface{}, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	default:
		return false
	}
}

// mergeProviderKeys appends Provider_<key> fields not already present.
func mergeProviderKeys(ids guid.RawIDs, raw map[string]interface{}) guid.RawIDs {
	extra := map[string]interface{}{}
	for k, v := range raw {
		key, ok := strings.CutPrefix(k, "Provider_")
		if !ok || key == "" {
			continue
		}
		if _, exists := ids.Get(key); exists {
			continue
		}
		extra[key] = v
	}
	if len(extra) == 0 {
		return ids
	}
	out := make(guid.RawIDs, 0, len(ids)+len(extra))
	out = append(out, ids...)
	return append(out, guid.RawFromMap(extra)...)
}
