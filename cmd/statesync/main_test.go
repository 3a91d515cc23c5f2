// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/queue"
	"github.com/tomtom215/statesync/internal/reconcile"
	"github.com/tomtom215/statesync/internal/state"
	"github.com/tomtom215/statesync/internal/sync"
)

// writeTestConfig writes a config with one plex backend at url and an
// in-memory store.
func writeTestConfig(t *testing.T, url string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "statesync.yaml")
	body := `backends:
  - name: plex_home
    kind: plex
    url: ` + url + `
    token: secret
    backend_id: abc123
    import: true
store:
  in_memory: true
guid:
  rules_file: ` + filepath.Join(dir, "guid.yaml") + `
logging:
  level: disabled
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// failingServer answers every request with 500.
func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ===================================================================================================
// Flags
// ===================================================================================================

func TestParseAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "2026-02-01T00:00:00Z", want: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		{in: "1700000000", want: time.Unix(1700000000, 0)},
		{in: "24h", want: now.Add(-24 * time.Hour)},
		{in: "-1h", wantErr: true},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAfter(tt.in, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAfter(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseAfter(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.lock")

	first, err := acquireLock(path)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}

	if _, err := acquireLock(path); !errors.Is(err, errLocked) {
		t.Errorf("second lock error = %v, want errLocked", err)
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	again, err := acquireLock(path)
	if err != nil {
		t.Fatalf("lock after unlock: %v", err)
	}
	_ = again.Unlock()
}

func TestLockPath(t *testing.T) {
	if got := lockPath(config.StoreConfig{Path: "/data/statesync/"}); got != "/data/statesync.lock" {
		t.Errorf("lockPath() = %q", got)
	}
}

// ===================================================================================================
// Report tables
// ===================================================================================================

func TestReportRows(t *testing.T) {
	stats := reconcile.NewStats("plex_home", reconcile.ActionExport)
	stats.Add(state.TypeMovie, reconcile.Queued)
	stats.Add(state.TypeMovie, reconcile.Queued)
	stats.Add(state.TypeEpisode, reconcile.IgnoredUnchanged)

	summary := state.Summary{}
	summary.Add(state.TypeMovie, "added", 3)

	reports := []sync.Report{
		{
			Backend: "plex_home",
			Action:  reconcile.ActionExport,
			Stats:   stats,
			Summary: summary,
			Dispatched: []queue.Outcome{
				{StatusCode: http.StatusOK},
				{StatusCode: http.StatusNotFound},
			},
		},
		{Backend: "jf", Action: reconcile.ActionExport, Err: errors.New("unknown backend jf")},
	}

	rows := reportRows(reports)
	got := map[string]string{}
	for _, r := range rows {
		got[r[0]+"/"+r[2]] = r[3]
	}

	want := map[string]string{
		"plex_home/episode.ignored_unchanged": "1",
		"plex_home/movie.queued":              "2",
		"plex_home/store.movie.added":         "3",
		"plex_home/writes.sent":               "1",
		"plex_home/writes.failed":             "1",
		"jf/error":                            "unknown backend jf",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("row %s = %q, want %q", k, got[k], v)
		}
	}
	if len(rows) != len(want) {
		t.Errorf("got %d rows, want %d: %v", len(rows), len(want), rows)
	}

	err := reportsError(reports)
	if err == nil || !strings.Contains(err.Error(), "export jf") {
		t.Errorf("reportsError() = %v", err)
	}
	if reportsError(reports[:1]) != nil {
		t.Error("reportsError() should be nil without failed runs")
	}
}

func TestRenderReports_Empty(t *testing.T) {
	if got := renderReports(nil); got != "Nothing to do." {
		t.Errorf("renderReports(nil) = %q", got)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"Backend", "Count"}, [][]string{{"plex_home", "12"}, {"jf"}},
		[]columnAlignment{alignLeft, alignRight})
	for _, want := range []string{"Backend", "plex_home", "12", "jf"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil, nil) != "" {
		t.Error("table without headers should be empty")
	}
}

// ===================================================================================================
// Serve wiring
// ===================================================================================================

func TestScheduledTasks(t *testing.T) {
	manager := sync.NewManager(nil, nil, nil, nil, nil, sync.Overrides{})

	tasks := scheduledTasks(config.SyncConfig{
		ImportInterval: time.Hour,
		PushInterval:   10 * time.Second,
	}, manager)

	var names []string
	for _, task := range tasks {
		names = append(names, task.String())
	}
	if got := strings.Join(names, ","); got != "import,push,progress" {
		t.Errorf("tasks = %s, want import,push,progress", got)
	}
}

// ===================================================================================================
// Commands
// ===================================================================================================

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	want := []string{"import", "export", "push", "progress", "backup", "info", "libraries", "serve", "version"}
	for _, name := range want {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not registered", name)
		}
	}
}

func TestVersionCommand_SkipsConfig(t *testing.T) {
	out, err := execute(t, "version", "--config", "/does/not/exist.yaml")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "statesync dev") {
		t.Errorf("output = %q", out)
	}
}

func TestEnsureConfig_LogLevelOverride(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	path := writeTestConfig(t, failingServer(t).URL)
	ctx := newCommandContext(&globalFlags{config: path, logLevel: "warn"})
	if _, err := ctx.ensureConfig(); err != nil {
		t.Fatalf("ensureConfig: %v", err)
	}
	if got := zerolog.GlobalLevel(); got != zerolog.WarnLevel {
		t.Errorf("level = %s, want warn over the configured disabled", got)
	}
}

func TestCommand_MissingConfig(t *testing.T) {
	if _, err := execute(t, "info", "--config", "/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestCommand_UnknownBackend(t *testing.T) {
	path := writeTestConfig(t, failingServer(t).URL)

	_, err := execute(t, "import", "--config", path, "--backend", "kodi")
	if err == nil || !strings.Contains(err.Error(), `unknown backend "kodi"`) {
		t.Errorf("error = %v", err)
	}
}

func TestCommand_InvalidAfter(t *testing.T) {
	path := writeTestConfig(t, failingServer(t).URL)

	if _, err := execute(t, "export", "--config", path, "--after", "soon"); err == nil {
		t.Error("expected error for invalid --after")
	}
}

func TestImportCommand_BackendFailure(t *testing.T) {
	path := writeTestConfig(t, failingServer(t).URL)

	out, err := execute(t, "import", "--config", path, "--dry-run")
	if err == nil || !strings.Contains(err.Error(), "import plex_home") {
		t.Errorf("error = %v, want failed import of plex_home", err)
	}
	if !strings.Contains(out, "plex_home") || !strings.Contains(out, "error") {
		t.Errorf("report table missing failure row:\n%s", out)
	}
}

func TestInfoCommand_ReportsFailurePerBackend(t *testing.T) {
	path := writeTestConfig(t, failingServer(t).URL)

	out, err := execute(t, "info", "--config", path)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(out, "plex_home") || !strings.Contains(out, "plex") {
		t.Errorf("info output:\n%s", out)
	}
}
