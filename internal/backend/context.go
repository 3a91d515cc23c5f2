// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backend

import (
	"net/url"
	"strings"
	"time"
)

// Backend kinds.
const (
	KindPlex     = "plex"
	KindJellyfin = "jellyfin"
	KindEmby     = "emby"
)

// Options tune how actions and reconciliation runs behave.
type Options struct {
	// LibrarySegment is the page size for library listings.
	LibrarySegment int
	// After is the watermark; zero disables it.
	After time.Time
	// IgnoreDate disables timestamp comparisons.
	IgnoreDate bool
	// DryRun counts decisions without queueing writes.
	DryRun bool
	// TimeDrift is subtracted from the sender date in Progress.
	TimeDrift time.Duration
	// ExportAllowedTimeDiff is the Push tolerance for remote dates.
	ExportAllowedTimeDiff time.Duration
	// IgnoreLibraries lists library ids to skip.
	IgnoreLibraries []string
	// Concurrency bounds per-library fan-out.
	Concurrency int
	// Timeout bounds one run; zero means no limit.
	Timeout time.Duration
	// MetadataTTL is how long GetMetaData results are cached.
	MetadataTTL time.Duration
	// ClientIdentifier is sent to Plex as X-Plex-Client-Identifier.
	ClientIdentifier string
	// Debug and Trace log request payloads.
	Debug bool
	Trace bool
}

// DefaultOptions returns the option defaults. Plex uses a page size of 1000,
// Jellyfin and Emby 500; a zero LibrarySegment lets each backend pick.
func DefaultOptions() Options {
	return Options{
		TimeDrift:             30 * time.Second,
		ExportAllowedTimeDiff: 10 * time.Second,
		Concurrency:           4,
		MetadataTTL:           time.Hour,
	}
}

// IsLibraryIgnored reports whether id is in IgnoreLibraries.
func (o Options) IsLibraryIgnored(id string) bool {
	for _, ignored := range o.IgnoreLibraries {
		if ignored == id {
			return true
		}
	}
	return false
}

// Segment returns LibrarySegment or def when unset.
func (o Options) Segment(def int) int {
	if o.LibrarySegment > 0 {
		return o.LibrarySegment
	}
	return def
}

// Context identifies one configured backend.
type Context struct {
	Kind      string
	Name      string
	URL       *url.URL
	Token     string
	User      string // backend user id
	BackendID string // backend server id
	Options   Options
}

// Endpoint joins path onto the backend URL, keeping any base path.
func (c Context) Endpoint(path string, query url.Values) string {
	u := *c.URL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}
