// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package plex

import (
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
)

// flexString accepts JSON strings and numbers. Plex and Tautulli disagree on
// the type of ids.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

type container struct {
	MediaContainer mediaContainer `json:"MediaContainer"`
}

type mediaContainer struct {
	Size              int         `json:"size"`
	TotalSize         int         `json:"totalSize"`
	FriendlyName      string      `json:"friendlyName"`
	Version           string      `json:"version"`
	MachineIdentifier string      `json:"machineIdentifier"`
	Platform          string      `json:"platform"`
	Directory         []directory `json:"Directory"`
	Metadata          []metadata  `json:"Metadata"`
	Hub               []hub       `json:"Hub"`
}

type directory struct {
	Key   flexString `json:"key"`
	Title string     `json:"title"`
	Type  string     `json:"type"`
	Agent string     `json:"agent"`
}

type hub struct {
	Type     string     `json:"type"`
	Metadata []metadata `json:"Metadata"`
}

type guidEntry struct {
	ID string `json:"id"`
}

// metadata is one Plex item.
type metadata struct {
	RatingKey             flexString  `json:"ratingKey"`
	GUID                  string      `json:"guid"`
	Type                  string      `json:"type"`
	Title                 string      `json:"title"`
	OriginalTitle         string      `json:"originalTitle"`
	Year                  int         `json:"year"`
	ParentYear            int         `json:"parentYear"`
	GrandparentYear       int         `json:"grandParentYear"`
	OriginallyAvailableAt string      `json:"originallyAvailableAt"`
	Index                 int         `json:"index"`
	ParentIndex           int         `json:"parentIndex"`
	GrandparentRatingKey  flexString  `json:"grandparentRatingKey"`
	GrandparentTitle      string      `json:"grandparentTitle"`
	LibrarySectionID      flexString  `json:"librarySectionID"`
	ViewCount             int         `json:"viewCount"`
	ViewOffset            int64       `json:"viewOffset"`
	LastViewedAt          int64       `json:"lastViewedAt"`
	AddedAt               int64       `json:"addedAt"`
	UpdatedAt             int64       `json:"updatedAt"`
	Duration              int64       `json:"duration"`
	GUIDs                 []guidEntry `json:"Guid"`
	User                  *struct {
		ID flexString `json:"id"`
	} `json:"User"`
	Player *struct {
		State string `json:"state"`
	} `json:"Player"`
}

// rawIDs returns the Guid entries and the item guid as agent/value pairs.
func (m metadata) rawIDs() guid.RawIDs {
	out := make(guid.RawIDs, 0, len(m.GUIDs)+1)
	for _, g := range m.GUIDs {
		if id, ok := splitGUID(g.ID); ok {
			out = append(out, id)
		}
	}
	if id, ok := splitGUID(m.GUID); ok {
		out = append(out, id)
	}
	return out
}

func splitGUID(s string) (guid.RawID, bool) {
	agent, value, ok := strings.Cut(s, "://")
	if !ok || agent == "" || value == "" {
		return guid.RawID{}, false
	}
	return guid.RawID{Key: agent, Value: value}, true
}

type homeUsers struct {
	Users []homeUser `json:"users"`
}

type homeUser struct {
	ID           flexString `json:"id"`
	UUID         string     `json:"uuid"`
	Title        string     `json:"title"`
	Username     string     `json:"username"`
	FriendlyName string     `json:"friendlyName"`
	Admin        bool       `json:"admin"`
	Guest        bool       `json:"guest"`
	Restricted   bool       `json:"restricted"`
	UpdatedAt    int64      `json:"updatedAt"`
}

func (u homeUser) toUser() backend.User {
	name := u.FriendlyName
	for _, alt := range []string{u.Username, u.Title, string(u.ID)} {
		if name != "" {
			break
		}
		name = alt
	}
	id := u.UUID
	if id == "" {
		id = string(u.ID)
	}
	return backend.User{
		ID:         id,
		Name:       name,
		Admin:      u.Admin,
		Guest:      u.Guest,
		Restricted: u.Restricted,
		UpdatedAt:  u.UpdatedAt,
	}
}

type switchResponse struct {
	AuthToken string `json:"authToken"`
}

type resource struct {
	Name             string `json:"name"`
	ClientIdentifier string `json:"clientIdentifier"`
	AccessToken      string `json:"accessToken"`
}
