// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package plex

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/queue"
)

// PlayStateRequest builds GET /:/scrobble (played) or /:/unscrobble.
// Plex has no way to set the played date.
func (c *Client) PlayStateRequest(t backend.PlayStateTarget) (queue.Request, error) {
	if t.ID == "" {
		return queue.Request{}, fmt.Errorf("%s: play state request without item id", c.bctx.Name)
	}

	path := "/:/unscrobble"
	if t.Watched {
		path = "/:/scrobble"
	}
	endpoint := c.bctx.Endpoint(path, url.Values{
		"identifier": {libraryIdentifier},
		"key":        {t.ID},
	})
	return queue.NewRequest(http.MethodGet, endpoint, c.header(c.bctx.Token), nil, queue.Tag{
		Backend: c.bctx.Name,
		Library: t.Library,
		Item:    t.ID,
		Purpose: queue.PurposePlayState,
	}), nil
}

// ProgressRequest builds POST /:/timeline/ with state=stopped.
func (c *Client) ProgressRequest(t backend.ProgressTarget) (queue.Request, error) {
	if t.ID == "" {
		return queue.Request{}, fmt.Errorf("%s: progress request without item id", c.bctx.Name)
	}

	query := url.Values{
		"ratingKey":  {t.ID},
		"key":        {"/library/metadata/" + t.ID},
		"identifier": {libraryIdentifier},
		"state":      {"stopped"},
		"time":       {strconv.FormatInt(t.Position, 10)},
	}
	if t.Duration > 0 {
		query.Set("duration", strconv.FormatInt(t.Duration, 10))
	}

	endpoint := c.bctx.Endpoint("/:/timeline/", query)
	return queue.NewRequest(http.MethodPost, endpoint, c.header(c.bctx.Token), nil, queue.Tag{
		Backend: c.bctx.Name,
		Library: t.Library,
		Item:    t.ID,
		Purpose: queue.PurposeProgress,
	}), nil
}
