// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordOutcome(t *testing.T) {
	before := testutil.ToFloat64(ReconcileItems.WithLabelValues("jf_t1", "import", "movie", "committed"))

	RecordOutcome("jf_t1", "import", "movie", "committed")
	RecordOutcome("jf_t1", "import", "movie", "committed")

	after := testutil.ToFloat64(ReconcileItems.WithLabelValues("jf_t1", "import", "movie", "committed"))
	if after-before != 2 {
		t.Errorf("expected +2, got %v", after-before)
	}
}

func TestRecordRun(t *testing.T) {
	RecordRun("plex_t2", "export", 2*time.Second, false)
	if got := testutil.ToFloat64(ReconcileRunErrors.WithLabelValues("plex_t2", "export")); got != 1 {
		t.Errorf("run errors = %v, want 1", got)
	}

	RecordRun("plex_t2", "export", time.Second, true)
	if got := testutil.ToFloat64(ReconcileLastSuccess.WithLabelValues("plex_t2", "export")); got <= 0 {
		t.Errorf("last success not set: %v", got)
	}
}

func TestRecordBackendRequest(t *testing.T) {
	RecordBackendRequest("emby_t3", "GET", 0, time.Millisecond)
	RecordBackendRequest("emby_t3", "GET", 404, time.Millisecond)

	if got := testutil.ToFloat64(BackendRequests.WithLabelValues("emby_t3", "GET", "error")); got != 1 {
		t.Errorf("error requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(BackendRequests.WithLabelValues("emby_t3", "GET", "404")); got != 1 {
		t.Errorf("404 requests = %v, want 1", got)
	}
}

func TestRecordDispatchAndCache(t *testing.T) {
	RecordDispatch("jf_t4", "progress", true)
	RecordDispatch("jf_t4", "progress", false)
	RecordCacheLookup("jf_t4", "meta", true)
	RecordCacheLookup("jf_t4", "meta", false)
	RecordCacheLookup("jf_t4", "meta", false)

	if got := testutil.ToFloat64(QueueDispatched.WithLabelValues("jf_t4", "progress", "failure")); got != 1 {
		t.Errorf("dispatch failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("jf_t4", "meta")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
}

func TestRecordWebhook(t *testing.T) {
	RecordWebhook("plex_t5", 200)
	if got := testutil.ToFloat64(WebhookRequests.WithLabelValues("plex_t5", "200")); got != 1 {
		t.Errorf("webhook 200 = %v, want 1", got)
	}
}
