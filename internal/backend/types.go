// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"github.com/tomtom215/statesync/internal/guid"
)

// Library types.
const (
	LibraryMovie       = "movie"
	LibraryShow        = "show"
	LibraryUnsupported = "unsupported"
)

// Info describes a backend server.
type Info struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Identifier string `json:"identifier"`
	Platform   string `json:"platform,omitempty"`
}

// Library is one content library.
type Library struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	NativeType string `json:"native_type"`
	Agent      string `json:"agent,omitempty"`
	Supported  bool   `json:"supported"`
	Ignored    bool   `json:"ignored"`
	WebURL     string `json:"web_url,omitempty"`
}

// Item is a backend item decoded into the one shape ToEntity consumes.
// Timestamps are epoch seconds.
type Item struct {
	ID        string      `json:"id"`
	Library   string      `json:"library,omitempty"`
	Type      string      `json:"type"`
	Title     string      `json:"title"`
	Year      int         `json:"year,omitempty"`
	Season    int         `json:"season,omitempty"`
	Episode   int         `json:"episode,omitempty"`
	ParentID  string      `json:"parent_id,omitempty"`
	ShowTitle string      `json:"show_title,omitempty"`
	RawIDs    guid.RawIDs `json:"raw_ids,omitempty"`
	Watched   bool        `json:"watched"`
	Progress  int64       `json:"progress,omitempty"` // milliseconds
	Duration  int64       `json:"duration,omitempty"` // milliseconds
	AddedAt   int64       `json:"added_at,omitempty"`
	PlayedAt  int64       `json:"played_at,omitempty"`

	// Date is the backend's timestamp under its play-state policy.
	Date int64 `json:"date,omitempty"`
	// LatestDate is the most recent timestamp the backend reports.
	LatestDate int64 `json:"latest_date,omitempty"`
}

// When returns LatestDate or Date.
func (i Item) When(latest bool) int64 {
	if latest && i.LatestDate > 0 {
		return i.LatestDate
	}
	return i.Date
}

// Session is one active playback session.
type Session struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
	Offset int64  `json:"offset"` // milliseconds
	State  string `json:"state"`
}

// User is a backend user.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Admin      bool   `json:"admin"`
	Guest      bool   `json:"guest"`
	Restricted bool   `json:"restricted"`
	UpdatedAt  int64  `json:"updated_at,omitempty"`
}

// RequestInfo is what InspectRequest learns from a webhook request.
type RequestInfo struct {
	BackendID string `json:"backend_id"`
	UserID    string `json:"user_id"`
	Event     string `json:"event"`
	ItemID    string `json:"item_id"`
}

// ProxyResponse is the pass-through result of Proxy.
type ProxyResponse struct {
	StatusCode int               `json:"status_code"`
	Header     map[string]string `json:"header,omitempty"`
	Body       []byte            `json:"body,omitempty"`
}

// PlayStateTarget addresses one play-state write.
type PlayStateTarget struct {
	ID      string
	Library string
	Watched bool
	Date    int64
}

// ProgressTarget addresses one progress write.
type ProgressTarget struct {
	ID       string
	Library  string
	Position int64 // milliseconds
	Duration int64 // milliseconds
	Date     int64
}
