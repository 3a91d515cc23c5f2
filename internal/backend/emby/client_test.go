// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package emby

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/cache"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/state"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Emby-Token") != "emby-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/System/Info":
			_, _ = io.WriteString(w, `{"ServerName":"emby","Version":"4.8.0","Id":"emby-srv"}`)
		case "/Users/u9/items/show-1":
			_, _ = io.WriteString(w, `{"Id":"show-1","Name":"Dark","Type":"Series","ProviderIds":{"Tvdb":"334824"}}`)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	u, _ := url.Parse(server.URL)
	c := cache.New(time.Hour, 0)
	t.Cleanup(c.Close)

	client, err := New(backend.Context{
		Kind:      backend.KindEmby,
		Name:      "emby",
		URL:       u,
		Token:     "emby-key",
		User:      "u9",
		BackendID: "emby-srv",
		Options:   backend.DefaultOptions(),
	}, backend.Deps{Doer: server.Client(), Cache: c, GUID: guid.NewRegistry()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func payload(event, itemType string, userData string, extra string) string {
	return `{"Event":"` + event + `","Server":{"Id":"emby-srv"},"User":{"Id":"u9"},` +
		`"Item":{"Id":"i1","Name":"Item","Type":"` + itemType + `","ProviderIds":{"Imdb":"tt0000001"},` +
		`"DateCreated":"2023-01-01T00:00:00Z","UserData":` + userData + `}` + extra + `}`
}

func jsonRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/emby", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestEmbyDialect(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)

	info := c.GetInfo(context.Background())
	if !info.Success || info.Value.Identifier != "emby-srv" {
		t.Fatalf("GetInfo = %+v", info)
	}

	link := c.GetWebURL(state.TypeEpisode, "i1")
	if !link.Success || !strings.HasSuffix(link.Value, "/web/index.html#!/item?id=i1&serverId=emby-srv") {
		t.Errorf("link = %+v", link)
	}

	req, err := c.ProgressRequest(backend.ProgressTarget{ID: "i1", Position: 1000, Date: 1700000000})
	if err != nil {
		t.Fatalf("ProgressRequest: %v", err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["PlaybackPositionTicks"] != float64(10000000) {
		t.Errorf("ticks = %v", body["PlaybackPositionTicks"])
	}
	if body["LastPlayedDate"] != "2023-11-14T22:13:20Z" {
		t.Errorf("LastPlayedDate = %v", body["LastPlayedDate"])
	}
}

func TestParseWebhook(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	created := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name        string
		body        string
		wantSuccess bool
		wantCode    int
		wantWatched bool
		wantTainted bool
		check       func(t *testing.T, e *state.Item)
	}{
		{name: "invalid json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "no event", body: `{"Item":{"Id":"i1","Type":"Movie"}}`, wantCode: http.StatusBadRequest},
		{name: "event not allowed", body: payload("user.authenticated", "Movie", `{}`, ""), wantCode: http.StatusOK},
		{name: "type not allowed", body: payload("item.markplayed", "Audio", `{}`, ""), wantCode: http.StatusOK},
		{
			name:        "mark played",
			body:        payload("item.markplayed", "Movie", `{"Played":false}`, ""),
			wantSuccess: true,
			wantWatched: true,
			check: func(t *testing.T, e *state.Item) {
				if e.Updated < time.Now().Add(-time.Minute).Unix() {
					t.Errorf("mark played should be dated now, got %d", e.Updated)
				}
			},
		},
		{
			name:        "mark unplayed",
			body:        payload("item.markunplayed", "Movie", `{"Played":true,"LastPlayedDate":"2024-01-01T00:00:00Z"}`, ""),
			wantSuccess: true,
			wantWatched: false,
			check: func(t *testing.T, e *state.Item) {
				if e.Updated != created {
					t.Errorf("unplayed date = %d, want DateCreated %d", e.Updated, created)
				}
			},
		},
		{
			name:        "pause is tainted with progress",
			body:        payload("playback.pause", "Movie", `{"Played":false}`, `,"PlaybackInfo":{"PositionTicks":300000000}`),
			wantSuccess: true,
			wantTainted: true,
			check: func(t *testing.T, e *state.Item) {
				if e.Metadata["emby"].Progress != 30000 {
					t.Errorf("progress = %d", e.Metadata["emby"].Progress)
				}
			},
		},
		{
			name:        "stop played to completion",
			body:        payload("playback.stop", "Movie", `{"Played":false}`, `,"PlaybackInfo":{"PlayedToCompletion":true}`),
			wantSuccess: true,
			wantWatched: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := c.ParseWebhook(context.Background(), jsonRequest(tt.body))
			if r.Success != tt.wantSuccess {
				t.Fatalf("success = %v, want %v (error %v)", r.Success, tt.wantSuccess, r.Error)
			}
			if !tt.wantSuccess {
				if got := r.HTTPCode(0); got != tt.wantCode {
					t.Errorf("http_code = %d, want %d", got, tt.wantCode)
				}
				return
			}
			e := r.Value
			if e.Watched != tt.wantWatched || e.Tainted != tt.wantTainted {
				t.Errorf("watched=%v tainted=%v, want %v/%v", e.Watched, e.Tainted, tt.wantWatched, tt.wantTainted)
			}
			if e.GUIDs[guid.IMDB] != "tt0000001" {
				t.Errorf("guids = %v", e.GUIDs)
			}
			if tt.check != nil {
				tt.check(t, e)
			}
		})
	}
}

func TestParseWebhook_MultipartEpisode(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)

	data := `{"Event":"playback.scrobble","Item":{"Id":"ep1","Name":"Secrets","Type":"Episode","SeriesId":"show-1",` +
		`"ParentIndexNumber":1,"IndexNumber":1,"ProviderIds":{"Tvdb":"5897352"},"DateCreated":"2023-01-01T00:00:00Z"}}`

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("data", data); err != nil {
		t.Fatalf("write field: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/emby", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	info := c.InspectRequest(req)
	if !info.Success || info.Value.ItemID != "ep1" || info.Value.Event != "playback.scrobble" {
		t.Fatalf("InspectRequest = %+v", info)
	}

	r := c.ParseWebhook(context.Background(), req)
	if !r.Success {
		t.Fatalf("ParseWebhook: %v", r.Error)
	}
	e := r.Value
	if !e.Watched || e.Tainted {
		t.Errorf("scrobble should be an untainted play, got %+v", e)
	}
	if e.Title != "Dark" || e.Parent[guid.TVDB] != "334824" {
		t.Errorf("episode should resolve its show, got title %q parent %v", e.Title, e.Parent)
	}
}

func TestParseWebhook_ContentType(t *testing.T) {
	t.Parallel()

	c := newTestClient(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/emby", strings.NewReader("x"))
	req.Header.Set("Content-Type", "text/plain")

	r := c.ParseWebhook(context.Background(), req)
	if r.Success || r.HTTPCode(0) != http.StatusOK || r.Error.Level != backend.LevelInfo {
		t.Errorf("unsupported content type = %+v", r)
	}
}
