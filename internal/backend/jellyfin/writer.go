// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package jellyfin

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/queue"
)

// PlayStateRequest builds POST (played) or DELETE (unplayed)
// /Users/{uid}/PlayedItems/{id}.
func (c *Client) PlayStateRequest(t backend.PlayStateTarget) (queue.Request, error) {
	if t.ID == "" {
		return queue.Request{}, fmt.Errorf("%s: play state request without item id", c.bctx.Name)
	}

	method := http.MethodDelete
	var query url.Values
	if t.Watched {
		method = http.MethodPost
		if t.Date > 0 {
			query = url.Values{"DatePlayed": {FormatDate(t.Date)}}
		}
	}

	endpoint := c.bctx.Endpoint(c.userPath("/PlayedItems/"+url.PathEscape(t.ID)), query)
	return queue.NewRequest(method, endpoint, c.Header(), nil, queue.Tag{
		Backend: c.bctx.Name,
		Library: t.Library,
		Item:    t.ID,
		Purpose: queue.PurposePlayState,
	}), nil
}

type userDataBody struct {
	PlaybackPositionTicks int64  `json:"PlaybackPositionTicks"`
	LastPlayedDate        string `json:"LastPlayedDate,omitempty"`
}

// ProgressRequest builds POST /Users/{uid}/Items/{id}/UserData.
func (c *Client) ProgressRequest(t backend.ProgressTarget) (queue.Request, error) {
	if t.ID == "" {
		return queue.Request{}, fmt.Errorf("%s: progress request without item id", c.bctx.Name)
	}

	body := userDataBody{PlaybackPositionTicks: t.Position * ticksPerMilli}
	if c.dialect.ProgressLastPlayed && t.Date > 0 {
		body.LastPlayedDate = FormatDate(t.Date)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return queue.Request{}, fmt.Errorf("%s: encode progress: %w", c.bctx.Name, err)
	}

	endpoint := c.bctx.Endpoint(c.userPath("/Items/"+url.PathEscape(t.ID)+"/UserData"), nil)
	return queue.NewRequest(http.MethodPost, endpoint, c.Header(), data, queue.Tag{
		Backend: c.bctx.Name,
		Library: t.Library,
		Item:    t.ID,
		Purpose: queue.PurposeProgress,
	}), nil
}
