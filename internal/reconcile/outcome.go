// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"sort"
	"strings"
	"sync"

	"github.com/tomtom215/statesync/internal/metrics"
)

// Outcome is the final state of one item in a run.
type Outcome string

// Outcomes. Ignored outcomes are benign and never errors.
const (
	Committed            Outcome = "committed"
	Queued               Outcome = "queued"
	IgnoredNoGuid        Outcome = "ignored_no_guid"
	IgnoredNoDate        Outcome = "ignored_no_date"
	IgnoredNotSynced     Outcome = "ignored_not_synced"
	IgnoredNotFound      Outcome = "ignored_not_found"
	IgnoredDateNewer     Outcome = "ignored_date_newer"
	IgnoredUnchanged     Outcome = "ignored_unchanged"
	IgnoredActiveSession Outcome = "ignored_active_session"
	IgnoredRemoteWatched Outcome = "ignored_remote_watched"
	Failed               Outcome = "failed"
)

// Ignored reports whether o is one of the Ignored* outcomes.
func (o Outcome) Ignored() bool {
	return strings.HasPrefix(string(o), "ignored_")
}

// Stats counts outcomes per item type for one run. It is safe for
// concurrent use and mirrors every count into Prometheus.
type Stats struct {
	backend string
	action  string

	mu     sync.Mutex
	counts map[string]int
}

// NewStats creates the counters of one backend action run.
func NewStats(backend, action string) *Stats {
	return &Stats{backend: backend, action: action, counts: map[string]int{}}
}

// Add counts one item.
func (s *Stats) Add(itemType string, o Outcome) {
	s.mu.Lock()
	s.counts[itemType+"."+string(o)]++
	s.mu.Unlock()

	metrics.RecordOutcome(s.backend, s.action, itemType, string(o))
}

// Count returns the count of one type and outcome.
func (s *Stats) Count(itemType string, o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[itemType+"."+string(o)]
}

// Total returns the count of one outcome across types.
func (s *Stats) Total(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	suffix := "." + string(o)
	total := 0
	for k, n := range s.counts {
		if strings.HasSuffix(k, suffix) {
			total += n
		}
	}
	return total
}

// Snapshot returns a copy of the counters keyed "<type>.<outcome>".
func (s *Stats) Snapshot() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.counts))
	for k, n := range s.counts {
		out[k] = n
	}
	return out
}

// Keys returns the counter keys, sorted.
func (s *Stats) Keys() []string {
	snap := s.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Backend returns the backend name.
func (s *Stats) Backend() string { return s.backend }

// Action returns the action name.
func (s *Stats) Action() string { return s.action }
