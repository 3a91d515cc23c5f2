// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package backends

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/backend/emby"
	"github.com/tomtom215/statesync/internal/backend/jellyfin"
	"github.com/tomtom215/statesync/internal/backend/plex"
	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/guid"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		Backends: []config.BackendConfig{
			{Name: "plex_home", Kind: "plex", URL: url + "/plex/", Token: "p", BackendID: "machine-1"},
			{Name: "jf", Kind: "Jellyfin", URL: url + "/jf", Token: "j", User: "u1"},
			{Name: "emby", Kind: "emby", URL: url + "/emby", Token: "e", User: "u2", BackendID: "emby-srv",
				Options: config.BackendOptions{LibrarySegment: 50, IgnoreLibraries: []string{"9"}}},
		},
		Sync: config.SyncConfig{
			Concurrency:       2,
			TimeDrift:         time.Minute,
			ExportAllowedDiff: 5 * time.Second,
		},
		GUID: config.GUIDConfig{
			RulesFile: "/config/guid.yaml",
			Ignore:    []string{"movie://imdb:tt0000001@jf"},
		},
		Cache:     config.CacheConfig{TTL: time.Minute},
		Transport: config.TransportConfig{RequestsPerSecond: 100, Burst: 100},
		Logging:   config.LoggingConfig{Level: "info"},
	}
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/jf/System/Info" {
			_, _ = io.WriteString(w, `{"ServerName":"jf","Version":"10.9","Id":"jf-srv"}`)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	kinds := NewRegistry().Kinds()
	want := []string{"emby", "jellyfin", "plex"}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	set, err := Build(context.Background(), testConfig(srv.URL), afero.NewMemMapFs(), srv.Client())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(set.Close)

	if names := set.Names(); len(names) != 3 || names[0] != "plex_home" || names[2] != "emby" {
		t.Errorf("names = %v", names)
	}

	p, ok := set.Get("plex_home")
	if !ok {
		t.Fatal("plex_home missing")
	}
	if _, isPlex := p.(*plex.Client); !isPlex {
		t.Errorf("plex_home is %T", p)
	}
	if got := p.Context().URL.String(); got != srv.URL+"/plex" {
		t.Errorf("url = %q", got)
	}

	jf, _ := set.Get("jf")
	if _, isJF := jf.(*jellyfin.Client); !isJF {
		t.Errorf("jf is %T", jf)
	}
	if jf.Context().BackendID != "jf-srv" {
		t.Errorf("backend id should be looked up, got %q", jf.Context().BackendID)
	}
	if jf.Context().Kind != backend.KindJellyfin {
		t.Errorf("kind = %q", jf.Context().Kind)
	}

	e, _ := set.Get("emby")
	if _, isEmby := e.(*emby.Client); !isEmby {
		t.Errorf("emby is %T", e)
	}
	opts := e.Context().Options
	if opts.LibrarySegment != 50 || !opts.IsLibraryIgnored("9") || opts.Concurrency != 2 ||
		opts.TimeDrift != time.Minute || opts.ExportAllowedTimeDiff != 5*time.Second {
		t.Errorf("options = %+v", opts)
	}

	others := set.Others("jf")
	if len(others) != 2 || others[0].Context().Name != "emby" || others[1].Context().Name != "plex_home" {
		t.Errorf("others = %v", others)
	}

	if doers := set.Doers(); len(doers) != 3 || doers["jf"] == nil {
		t.Errorf("doers = %v", doers)
	}

	if !set.GUIDRegistry().Has(guid.IMDB) {
		t.Error("registry should carry built-in authorities")
	}
}

func TestSet_Invalidate(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	set, err := Build(context.Background(), testConfig(srv.URL), afero.NewMemMapFs(), srv.Client())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(set.Close)

	set.cache.Set(backend.CacheKey("jf", backend.CacheMeta, "m1"), 1)
	set.cache.Set(backend.CacheKey("jf", backend.CacheShow, "s1"), 2)
	set.cache.Set(backend.CacheKey("jf_kids", backend.CacheMeta, "m1"), 3)
	set.cache.Set(backend.CacheKey("emby", backend.CacheMeta, "m1"), 4)

	if n := set.Invalidate("jf"); n != 2 {
		t.Errorf("Invalidate() = %d, want 2", n)
	}
	if set.cache.Has(backend.CacheKey("jf", backend.CacheMeta, "m1")) {
		t.Error("jf entry survived")
	}
	if !set.cache.Has(backend.CacheKey("jf_kids", backend.CacheMeta, "m1")) ||
		!set.cache.Has(backend.CacheKey("emby", backend.CacheMeta, "m1")) {
		t.Error("other backends should keep their entries")
	}
}

func TestBuild_IdentifierFailureKeepsClient(t *testing.T) {
	t.Parallel()

	srv := newServer(t)
	cfg := testConfig(srv.URL)
	cfg.Backends = cfg.Backends[:1]
	cfg.Backends[0].BackendID = ""

	set, err := Build(context.Background(), cfg, afero.NewMemMapFs(), srv.Client())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(set.Close)

	c, ok := set.Get("plex_home")
	if !ok || c.Context().BackendID != "" {
		t.Errorf("client = %v", c)
	}
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	srv := newServer(t)

	dup := testConfig(srv.URL)
	dup.Backends = append(dup.Backends, dup.Backends[0])
	if _, err := Build(context.Background(), dup, afero.NewMemMapFs(), srv.Client()); err == nil {
		t.Error("duplicate names should fail")
	}

	kind := testConfig(srv.URL)
	kind.Backends[0].Kind = "kodi"
	if _, err := Build(context.Background(), kind, afero.NewMemMapFs(), srv.Client()); err == nil {
		t.Error("unknown kind should fail")
	}

	noUser := testConfig(srv.URL)
	noUser.Backends[1].User = ""
	if _, err := Build(context.Background(), noUser, afero.NewMemMapFs(), srv.Client()); err == nil {
		t.Error("jellyfin without user should fail")
	}

	rules := testConfig(srv.URL)
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/config/guid.yaml", []byte("version: 99.0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Build(context.Background(), rules, fs, srv.Client()); err == nil {
		t.Error("unsupported rule file version should fail")
	}
}
