// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package events

import (
	"context"
	"sort"
	"sync"

	"github.com/tomtom215/statesync/internal/metrics"
)

// Pending collects the ids of items touched since the last drain. Tainted
// changes only feed progress; play-state changes feed push and progress.
type Pending struct {
	mu       sync.Mutex
	played   map[string]struct{}
	progress map[string]struct{}
}

// NewPending creates an empty set.
func NewPending() *Pending {
	return &Pending{played: map[string]struct{}{}, progress: map[string]struct{}{}}
}

// Handle implements Handler.
func (p *Pending) Handle(_ context.Context, c Change) error {
	p.Add(c)
	return nil
}

// Add records c.
func (p *Pending) Add(c Change) {
	if c.ItemID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[c.ItemID] = struct{}{}
	if !c.Tainted {
		p.played[c.ItemID] = struct{}{}
	}
	p.report()
}

// DrainPlayed returns and forgets the ids waiting for push.
func (p *Pending) DrainPlayed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := drain(p.played)
	p.report()
	return out
}

// DrainProgress returns and forgets the ids waiting for progress.
func (p *Pending) DrainProgress() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := drain(p.progress)
	p.report()
	return out
}

// Len returns the number of distinct ids waiting.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.len()
}

func (p *Pending) len() int {
	n := len(p.progress)
	for id := range p.played {
		if _, ok := p.progress[id]; !ok {
			n++
		}
	}
	return n
}

func (p *Pending) report() {
	metrics.PendingItems.Set(float64(p.len()))
}

func drain(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
		delete(set, id)
	}
	sort.Strings(out)
	return out
}
