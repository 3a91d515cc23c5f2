// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/guid"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/state"
)

// ============================================================================
// Import
// ============================================================================

func TestImport_CommitsMovie(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1704067200))
	m := &memMapper{}

	res := New(c, m, nil).Import(context.Background())
	if !res.Success {
		t.Fatalf("Import failed: %v", res.Err())
	}
	if got := res.Value.Total("added"); got != 1 {
		t.Errorf("added = %d, want 1", got)
	}

	stored, _ := m.Get(context.Background(), "1")
	if stored == nil {
		t.Fatal("item not stored")
	}
	if stored.Type != state.TypeMovie || stored.Watched {
		t.Errorf("stored = %+v", stored)
	}
	if stored.GUIDs[guid.IMDB] != "tt0113277" {
		t.Errorf("guids = %v", stored.GUIDs)
	}
	if ex := stored.Extra["jf"]; ex.Event != EventImport || ex.Date != 1704067200 {
		t.Errorf("extra = %+v", ex)
	}
}

func TestImport_NoGuid(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "", false, 1704067200))
	m := &memMapper{}

	run := New(c, m, nil)
	res := run.Import(context.Background())
	if !res.Success {
		t.Fatalf("Import failed: %v", res.Err())
	}
	if m.len() != 0 {
		t.Errorf("stored %d items, want 0", m.len())
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNoGuid, 1)
}

func TestImport_FilterOrder(t *testing.T) {
	after := time.Unix(2000, 0)

	tests := []struct {
		name string
		item backend.Item
		want Outcome
	}{
		{"no date", movie("m1", "tt1", false, 0), IgnoredNoDate},
		{"before watermark", movie("m1", "tt1", false, 1500), IgnoredNotSynced},
		{"at watermark", movie("m1", "tt1", false, 2000), IgnoredNotSynced},
		{"after watermark", movie("m1", "tt1", false, 2500), Committed},
		{"invalid imdb", movie("m1", "nope", false, 2500), IgnoredNoGuid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient("jf")
			c.addLibrary("lib-m", backend.LibraryMovie, tt.item)

			opts := c.bctx.Options
			opts.After = after
			run := New(c, &memMapper{}, nil).WithOptions(opts)
			if res := run.Import(context.Background()); !res.Success {
				t.Fatalf("Import failed: %v", res.Err())
			}
			checkOutcome(t, run.Stats(), state.TypeMovie, tt.want, 1)
		})
	}
}

func TestImport_Idempotent(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie,
		movie("m1", "tt0113277", true, 1704067200),
		movie("m2", "tt0133093", false, 1704067300))
	c.parents["show1"] = guid.Set{guid.TVDB: "79126"}
	c.addLibrary("lib-s", backend.LibraryShow, episode("e1", "349232", "show1", 1, 1, true, 1704067400))
	m := &memMapper{}

	first := New(c, m, nil).Import(context.Background())
	if !first.Success || first.Value.Total("added") != 3 {
		t.Fatalf("first import = %+v", first)
	}

	second := New(c, m, nil).Import(context.Background())
	if !second.Success {
		t.Fatalf("second import failed: %v", second.Err())
	}
	if got := second.Value.Total("added"); got != 0 {
		t.Errorf("second import added %d, want 0", got)
	}
	if got := second.Value.Total("unchanged"); got != 3 {
		t.Errorf("second import unchanged %d, want 3", got)
	}
	if m.len() != 3 {
		t.Errorf("stored %d items, want 3", m.len())
	}
}

func TestImport_SkipsUnsupportedAndIgnoredLibraries(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1704067200))
	c.addLibrary("lib-x", backend.LibraryUnsupported, movie("m2", "tt0133093", false, 1704067200))
	c.addLibrary("lib-i", backend.LibraryMovie, movie("m3", "tt0110912", false, 1704067200))
	delete(c.items, "lib-x")

	opts := c.bctx.Options
	opts.IgnoreLibraries = []string{"lib-i"}
	m := &memMapper{}
	res := New(c, m, nil).WithOptions(opts).Import(context.Background())
	if !res.Success {
		t.Fatalf("Import failed: %v", res.Err())
	}
	if m.len() != 1 {
		t.Errorf("stored %d items, want 1", m.len())
	}
}

func TestImport_LibraryFailureKeepsOthers(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1704067200))
	c.addLibrary("lib-bad", backend.LibraryMovie)
	delete(c.items, "lib-bad")
	m := &memMapper{}

	res := New(c, m, nil).Import(context.Background())
	if res.Success {
		t.Fatal("expected failure")
	}
	if m.len() != 1 {
		t.Errorf("stored %d items, want 1", m.len())
	}
	if res.Extra[backend.ExtraMessage] == nil {
		t.Errorf("expected message extra, got %v", res.Extra)
	}
}

// ============================================================================
// Empty libraries
// ============================================================================

func TestActions_EmptyLibraryList(t *testing.T) {
	c := newFakeClient("jf")
	c.libsErr = backend.NoLibraries("jf")
	m := &memMapper{}

	imp := New(c, m, nil).Import(context.Background())
	if !imp.Success || imp.Value == nil || imp.Value.Total("added") != 0 {
		t.Errorf("import = %+v", imp)
	}

	exp := New(c, m, nil).Export(context.Background())
	if !exp.Success || exp.Value == nil || len(exp.Value) != 0 {
		t.Errorf("export = %+v", exp)
	}

	var buf bytes.Buffer
	bak := New(c, m, nil).Backup(context.Background(), &buf)
	if !bak.Success || bak.Value != 0 || buf.Len() != 0 {
		t.Errorf("backup = %+v, %q", bak, buf.String())
	}
}

func TestActions_LibraryListFailure(t *testing.T) {
	c := newFakeClient("jf")
	c.libsErr = backend.UpstreamError("jf", http.StatusUnauthorized, "bad token")

	res := New(c, &memMapper{}, nil).Export(context.Background())
	if res.Success {
		t.Fatal("expected failure")
	}
	if got := res.HTTPCode(0); got != http.StatusUnauthorized {
		t.Errorf("http code = %d, want 401", got)
	}
}

// ============================================================================
// Export
// ============================================================================

func TestDecidePlayState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		local      *state.Item
		watched    bool
		date       int64
		tolerance  time.Duration
		ignoreDate bool
		want       Outcome
	}{
		{"flags match", localMovie("tt1", true, 2000), true, 2000, 0, false, IgnoredUnchanged},
		{"remote newer", localMovie("tt1", false, 1000), true, 3000, 0, false, IgnoredDateNewer},
		{"remote equal date differs", localMovie("tt1", true, 2000), false, 2000, 0, false, Queued},
		{"remote older", localMovie("tt1", true, 2000), false, 1000, 0, false, Queued},
		{"no remote date", localMovie("tt1", true, 2000), false, 0, 0, false, IgnoredNoDate},
		{"within tolerance", localMovie("tt1", true, 2000), false, 2005, 10 * time.Second, false, Queued},
		{"beyond tolerance", localMovie("tt1", true, 2000), false, 2011, 10 * time.Second, false, IgnoredDateNewer},
		{"ignore date", localMovie("tt1", false, 1000), true, 3000, 0, true, Queued},
		{"ignore date no date", localMovie("tt1", false, 1000), true, 0, 0, true, Queued},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := DecidePlayState(tt.local, tt.watched, tt.date, tt.tolerance, tt.ignoreDate)
			if got != tt.want {
				t.Errorf("DecidePlayState() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExport_Unchanged(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", true, 2000))
	m := &memMapper{}
	m.seed(localMovie("tt0113277", true, 2000))

	run := New(c, m, nil)
	res := run.Export(context.Background())
	if !res.Success || len(res.Value) != 0 {
		t.Fatalf("export = %+v", res)
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredUnchanged, 1)
}

func TestExport_RemoteNewer(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", true, 3000))
	m := &memMapper{}
	m.seed(localMovie("tt0113277", false, 1000))

	run := New(c, m, nil)
	res := run.Export(context.Background())
	if !res.Success || len(res.Value) != 0 {
		t.Fatalf("export = %+v", res)
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredDateNewer, 1)
}

func TestExport_QueuesWrite(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie,
		movie("m1", "tt0113277", false, 1000),
		movie("m2", "tt0133093", false, 1000),
		movie("m3", "", false, 1000))
	m := &memMapper{}
	m.seed(localMovie("tt0113277", true, 2000))

	q := queue.New()
	run := New(c, m, q)
	res := run.Export(context.Background())
	if !res.Success {
		t.Fatalf("Export failed: %v", res.Err())
	}
	if len(res.Value) != 1 {
		t.Fatalf("queued %d, want 1", len(res.Value))
	}
	req := res.Value[0]
	if req.Method != http.MethodPost || !strings.HasSuffix(req.URL, "/played/m1") {
		t.Errorf("request = %s %s", req.Method, req.URL)
	}
	if req.Tag.Library != "lib-m" || req.Tag.Purpose != queue.PurposePlayState {
		t.Errorf("tag = %+v", req.Tag)
	}
	if q.Count() != 1 {
		t.Errorf("queue count = %d, want 1", q.Count())
	}

	checkOutcome(t, run.Stats(), state.TypeMovie, Queued, 1)
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNotFound, 1)
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNoGuid, 1)
}

func TestExport_DryRun(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1000))
	m := &memMapper{}
	m.seed(localMovie("tt0113277", true, 2000))

	opts := c.bctx.Options
	opts.DryRun = true
	q := queue.New()
	res := New(c, m, q).WithOptions(opts).Export(context.Background())
	if !res.Success || len(res.Value) != 1 {
		t.Fatalf("export = %+v", res)
	}
	if q.Count() != 0 {
		t.Errorf("dry run enqueued %d requests", q.Count())
	}
}

func TestExport_Watermark(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1000))
	m := &memMapper{}
	m.seed(localMovie("tt0113277", true, 2000))

	opts := c.bctx.Options
	opts.After = time.Unix(2000, 0)
	run := New(c, m, nil).WithOptions(opts)
	if res := run.Export(context.Background()); !res.Success || len(res.Value) != 0 {
		t.Fatalf("export = %+v", res)
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNotSynced, 1)
}

// TestExport_ConflictSymmetry imports from one backend and exports to a
// second backend whose copy disagrees. Whichever side changed last wins.
func TestExport_ConflictSymmetry(t *testing.T) {
	tests := []struct {
		name       string
		item       func(watched bool, date int64) backend.Item
		parents    map[string]guid.Set
		itemType   string
		localDate  int64
		remoteDate int64
		wantQueued int
		wantReason Outcome
	}{
		{
			name:       "movie local newer",
			item:       func(w bool, d int64) backend.Item { return movie("x", "tt0113277", w, d) },
			itemType:   state.TypeMovie,
			localDate:  5000,
			remoteDate: 4000,
			wantQueued: 1,
			wantReason: Queued,
		},
		{
			name:       "movie remote newer",
			item:       func(w bool, d int64) backend.Item { return movie("x", "tt0113277", w, d) },
			itemType:   state.TypeMovie,
			localDate:  4000,
			remoteDate: 5000,
			wantReason: IgnoredDateNewer,
		},
		{
			name:       "episode local newer",
			item:       func(w bool, d int64) backend.Item { return episode("x", "349232", "show1", 1, 1, w, d) },
			parents:    map[string]guid.Set{"show1": {guid.TVDB: "79126"}},
			itemType:   state.TypeEpisode,
			localDate:  5000,
			remoteDate: 4000,
			wantQueued: 1,
			wantReason: Queued,
		},
		{
			name:       "episode remote newer",
			item:       func(w bool, d int64) backend.Item { return episode("x", "349232", "show1", 1, 1, w, d) },
			parents:    map[string]guid.Set{"show1": {guid.TVDB: "79126"}},
			itemType:   state.TypeEpisode,
			localDate:  4000,
			remoteDate: 5000,
			wantReason: IgnoredDateNewer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &memMapper{}

			src := newFakeClient("src")
			src.parents = tt.parents
			src.addLibrary("lib", tt.itemType, tt.item(true, tt.localDate))
			if res := New(src, m, nil).Import(context.Background()); !res.Success {
				t.Fatalf("import failed: %v", res.Err())
			}

			dst := newFakeClient("dst")
			dst.parents = tt.parents
			dst.addLibrary("lib", tt.itemType, tt.item(false, tt.remoteDate))
			run := New(dst, m, nil)
			res := run.Export(context.Background())
			if !res.Success {
				t.Fatalf("export failed: %v", res.Err())
			}
			if len(res.Value) != tt.wantQueued {
				t.Errorf("queued %d, want %d", len(res.Value), tt.wantQueued)
			}
			checkOutcome(t, run.Stats(), tt.itemType, tt.wantReason, 1)
		})
	}
}

// ============================================================================
// Push and UpdateState
// ============================================================================

func pushedItem(backendName, id string, watched bool, updated int64) *state.Item {
	item := localMovie("tt0113277", watched, updated)
	item.Metadata[backendName] = state.Metadata{ID: id, Library: "lib-m"}
	return item
}

func TestPush(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie,
		movie("m1", "tt0113277", false, 1000),
		movie("m2", "tt0113277", true, 1000),
		movie("m3", "tt0113277", false, 2005),
		movie("m4", "tt0113277", false, 2020))

	tests := []struct {
		name string
		item *state.Item
		want Outcome
	}{
		{"differs", pushedItem("jf", "m1", true, 2000), Queued},
		{"same", pushedItem("jf", "m2", true, 2000), IgnoredUnchanged},
		{"within allowed diff", pushedItem("jf", "m3", true, 2000), Queued},
		{"remote newer", pushedItem("jf", "m4", true, 2000), IgnoredDateNewer},
		{"no backend id", localMovie("tt0113277", true, 2000), IgnoredNotFound},
		{"missing remotely", pushedItem("jf", "gone", true, 2000), IgnoredNotFound},
		{"no ids", &state.Item{Type: state.TypeMovie, Metadata: map[string]state.Metadata{}}, IgnoredNoGuid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := New(c, &memMapper{}, nil)
			res := run.Push(context.Background(), []*state.Item{tt.item})
			if !res.Success {
				t.Fatalf("Push failed: %v", res.Err())
			}
			checkOutcome(t, run.Stats(), state.TypeMovie, tt.want, 1)
		})
	}
}

func TestPush_DeduplicatesStagedRequests(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1000))

	run := New(c, &memMapper{}, nil)
	res := run.Push(context.Background(), []*state.Item{
		pushedItem("jf", "m1", true, 2000),
		pushedItem("jf", "m1", true, 2000),
	})
	if !res.Success {
		t.Fatalf("Push failed: %v", res.Err())
	}
	if len(res.Value) != 1 {
		t.Errorf("staged = %d requests, want 1", len(res.Value))
	}
	if n := run.Queue().Count(); n != 1 {
		t.Errorf("queue = %d requests, want 1", n)
	}
}

func TestRun_ScopedLogger(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1000))

	var buf bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), zerolog.New(&buf))
	ctx = logging.ContextWithRunID(ctx, "run00042")

	New(c, &memMapper{}, nil).Push(ctx, []*state.Item{pushedItem("jf", "m1", true, 2000)})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) < 3 {
		t.Fatalf("expected start, queued and finish lines, got:\n%s", buf.String())
	}
	for _, line := range lines {
		for _, want := range []string{`"backend":"jf"`, `"action":"push"`, `"run_id":"run00042"`} {
			if !strings.Contains(line, want) {
				t.Errorf("line %s lacks %s", line, want)
			}
		}
		if strings.Count(line, `"backend"`) != 1 {
			t.Errorf("backend field repeated: %s", line)
		}
	}
}

func TestUpdateState(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie,
		movie("m1", "tt0113277", false, 1000),
		movie("m2", "tt0113277", true, 1000))

	tainted := pushedItem("jf", "m1", true, 2000)
	tainted.Tainted = true

	run := New(c, &memMapper{}, nil)
	res := run.UpdateState(context.Background(), []*state.Item{
		pushedItem("jf", "m1", true, 2000),
		pushedItem("jf", "m2", true, 2000),
		tainted,
		localMovie("tt0113277", true, 2000),
	})
	if !res.Success {
		t.Fatalf("UpdateState failed: %v", res.Err())
	}
	if len(res.Value) != 1 {
		t.Errorf("queued %d, want 1", len(res.Value))
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredUnchanged, 2)
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNotFound, 1)
}

// ============================================================================
// Progress
// ============================================================================

// progressItem is a local item last reported by "plex" with a playback
// offset, and known to the "jf" backend as m1.
func progressItem(senderDate int64) *state.Item {
	item := localMovie("tt0113277", false, senderDate)
	item.Via = "plex"
	item.Metadata["plex"] = state.Metadata{ID: "p1", Progress: 60000, Duration: 600000}
	item.Metadata["jf"] = state.Metadata{ID: "m1", Library: "lib-m"}
	item.Extra["plex"] = state.Extra{Event: "media.pause", Date: senderDate}
	return item
}

func TestProgress(t *testing.T) {
	remote := movie("m1", "tt0113277", false, 1000)
	remote.Progress = 10000

	tests := []struct {
		name     string
		item     func() *state.Item
		remote   func(backend.Item) backend.Item
		sessions []backend.Session
		opts     func(*backend.Options)
		want     Outcome
	}{
		{name: "queues", item: func() *state.Item { return progressItem(5000) }, want: Queued},
		{
			name: "echo via",
			item: func() *state.Item {
				i := progressItem(5000)
				i.Via = "jf"
				return i
			},
			want: IgnoredNotSynced,
		},
		{
			name: "echo only extra",
			item: func() *state.Item {
				i := progressItem(5000)
				i.Extra = map[string]state.Extra{"jf": {Date: 5000}}
				return i
			},
			want: IgnoredNotSynced,
		},
		{
			name: "no sender date",
			item: func() *state.Item {
				i := progressItem(5000)
				delete(i.Extra, "plex")
				return i
			},
			want: IgnoredNoDate,
		},
		{
			name: "own event newer",
			item: func() *state.Item {
				i := progressItem(5000)
				i.Extra["jf"] = state.Extra{Date: 4990}
				return i
			},
			want: IgnoredDateNewer,
		},
		{
			name:     "active session",
			item:     func() *state.Item { return progressItem(5000) },
			sessions: []backend.Session{{UserID: "u1", ItemID: "m1"}},
			want:     IgnoredActiveSession,
		},
		{
			name:     "other user session",
			item:     func() *state.Item { return progressItem(5000) },
			sessions: []backend.Session{{UserID: "u2", ItemID: "m1"}},
			want:     Queued,
		},
		{
			name: "remote changed later",
			item: func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item {
				it.LatestDate = 6000
				return it
			},
			want: IgnoredDateNewer,
		},
		{
			name:   "remote changed inside drift window",
			item:   func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item { it.LatestDate = 4980; return it },
			want:   IgnoredDateNewer,
		},
		{
			name:   "remote changed before drift window",
			item:   func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item { it.LatestDate = 4960; return it },
			want:   Queued,
		},
		{
			name: "not changed since last sync",
			item: func() *state.Item { return progressItem(5000) },
			opts: func(o *backend.Options) { o.After = time.Unix(5000, 0) },
			want: IgnoredNotSynced,
		},
		{
			name: "changed since last sync",
			item: func() *state.Item { return progressItem(5000) },
			opts: func(o *backend.Options) { o.After = time.Unix(4000, 0) },
			want: Queued,
		},
		{
			name: "last sync ignore date",
			item: func() *state.Item { return progressItem(5000) },
			opts: func(o *backend.Options) { o.After = time.Unix(5000, 0); o.IgnoreDate = true },
			want: Queued,
		},
		{
			name:   "remote changed later ignore date",
			item:   func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item { it.LatestDate = 6000; return it },
			opts:   func(o *backend.Options) { o.IgnoreDate = true },
			want:   Queued,
		},
		{
			name:   "remote watched",
			item:   func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item { it.Watched = true; return it },
			want:   IgnoredRemoteWatched,
		},
		{
			name:   "same offset",
			item:   func() *state.Item { return progressItem(5000) },
			remote: func(it backend.Item) backend.Item { it.Progress = 60000; return it },
			want:   IgnoredUnchanged,
		},
		{
			name: "no local backend id",
			item: func() *state.Item {
				i := progressItem(5000)
				delete(i.Metadata, "jf")
				return i
			},
			want: IgnoredNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient("jf")
			r := remote
			if tt.remote != nil {
				r = tt.remote(r)
			}
			c.addLibrary("lib-m", backend.LibraryMovie, r)
			c.sessions = tt.sessions

			opts := c.bctx.Options
			if tt.opts != nil {
				tt.opts(&opts)
			}
			run := New(c, &memMapper{}, nil).WithOptions(opts)
			res := run.Progress(context.Background(), []*state.Item{tt.item()})
			if !res.Success {
				t.Fatalf("Progress failed: %v", res.Err())
			}
			checkOutcome(t, run.Stats(), state.TypeMovie, tt.want, 1)
		})
	}
}

func TestProgress_Request(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie, movie("m1", "tt0113277", false, 1000))

	res := New(c, &memMapper{}, nil).Progress(context.Background(), []*state.Item{progressItem(5000)})
	if !res.Success || len(res.Value) != 1 {
		t.Fatalf("progress = %+v", res)
	}
	req := res.Value[0]
	if !strings.Contains(req.URL, "/progress/m1") || !strings.Contains(req.URL, "position=60000") {
		t.Errorf("url = %s", req.URL)
	}
	if req.Tag.Purpose != queue.PurposeProgress {
		t.Errorf("purpose = %s", req.Tag.Purpose)
	}
}

// ============================================================================
// Backup
// ============================================================================

func TestBackup(t *testing.T) {
	c := newFakeClient("jf")
	c.addLibrary("lib-m", backend.LibraryMovie,
		movie("m1", "tt0113277", true, 1000),
		movie("m2", "", false, 1000))
	c.parents["show1"] = guid.Set{guid.TVDB: "79126"}
	c.addLibrary("lib-s", backend.LibraryShow, episode("e1", "349232", "show1", 2, 3, false, 1200))

	var buf bytes.Buffer
	run := New(c, &memMapper{}, nil)
	res := run.Backup(context.Background(), &buf)
	if !res.Success {
		t.Fatalf("Backup failed: %v", res.Err())
	}
	if res.Value != 2 {
		t.Errorf("written = %d, want 2", res.Value)
	}

	records := map[string]BackupRecord{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var rec BackupRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		records[rec.Type] = rec
	}
	if len(records) != 2 {
		t.Fatalf("records = %v", records)
	}
	if mv := records[state.TypeMovie]; !mv.Watched || mv.GUIDs[guid.IMDB] != "tt0113277" {
		t.Errorf("movie = %+v", mv)
	}
	if ep := records[state.TypeEpisode]; ep.Season != 2 || ep.Episode != 3 || ep.Parent[guid.TVDB] != "79126" {
		t.Errorf("episode = %+v", ep)
	}
	checkOutcome(t, run.Stats(), state.TypeMovie, IgnoredNoGuid, 1)
}

// ============================================================================
// Stats
// ============================================================================

func TestStats(t *testing.T) {
	t.Parallel()

	s := NewStats("jf", ActionImport)
	s.Add(state.TypeMovie, Committed)
	s.Add(state.TypeMovie, Committed)
	s.Add(state.TypeEpisode, Committed)
	s.Add(state.TypeEpisode, IgnoredNoGuid)

	if s.Count(state.TypeMovie, Committed) != 2 {
		t.Errorf("movie committed = %d", s.Count(state.TypeMovie, Committed))
	}
	if s.Total(Committed) != 3 {
		t.Errorf("total committed = %d", s.Total(Committed))
	}
	want := []string{"episode.committed", "episode.ignored_no_guid", "movie.committed"}
	keys := s.Keys()
	if len(keys) != len(want) {
		t.Fatalf("keys = %v", keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
	if !IgnoredNoGuid.Ignored() || Committed.Ignored() || Failed.Ignored() {
		t.Error("Ignored() classification wrong")
	}
}
