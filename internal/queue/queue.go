// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package queue stages outbound backend writes.
//
// Reconciliation decides which writes are needed and enqueues them; nothing
// is sent until the caller drains the queue and hands the requests to a
// Dispatcher. Enqueueing a request whose tag matches an earlier one replaces
// it in place, so one run never writes the same item twice for the same
// purpose.
package queue

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/statesync/internal/metrics"
)

// Request purposes.
const (
	PurposePlayState = "play_state"
	PurposeProgress  = "progress"
)

// Tag correlates a request with the item it writes.
type Tag struct {
	Backend string `json:"backend"`
	Library string `json:"library,omitempty"`
	Item    string `json:"item"`
	Purpose string `json:"purpose"`
}

// Key is the dedup key. Library is not part of it.
func (t Tag) Key() string {
	return t.Backend + "\x00" + t.Item + "\x00" + t.Purpose
}

// Request is one staged backend write.
type Request struct {
	ID        string         `json:"id"`
	Method    string         `json:"method"`
	URL       string         `json:"url"`
	Header    http.Header    `json:"header,omitempty"`
	Body      []byte         `json:"body,omitempty"`
	Tag       Tag            `json:"tag"`
	Context   map[string]any `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewRequest creates a Request with a fresh id.
func NewRequest(method, url string, header http.Header, body []byte, tag Tag) Request {
	if header == nil {
		header = http.Header{}
	}
	return Request{
		ID:        uuid.NewString(),
		Method:    method,
		URL:       url,
		Header:    header,
		Body:      body,
		Tag:       tag,
		Context:   map[string]any{},
		CreatedAt: time.Now().UTC(),
	}
}

// HTTPRequest builds the *http.Request. Bodies are replayable.
func (r Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body *bytes.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}

	var (
		req *http.Request
		err error
	)
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, r.Method, r.URL, http.NoBody)
	}
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", r.ID, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

// Queue is a concurrency-safe staging buffer.
type Queue struct {
	mu    sync.Mutex
	items []Request
	index map[string]int
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{index: map[string]int{}}
}

// Enqueue stages r. A request with the same (backend, item, purpose) tag
// replaces the earlier one at its original position.
func (q *Queue) Enqueue(r Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := r.Tag.Key()
	if i, ok := q.index[k]; ok {
		q.items[i] = r
		return
	}
	q.index[k] = len(q.items)
	q.items = append(q.items, r)
	metrics.QueueDepth.Set(float64(len(q.items)))
}

// Count returns the number of staged requests.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Requests returns a snapshot without removing anything.
func (q *Queue) Requests() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, len(q.items))
	copy(out, q.items)
	return out
}

// Drain removes and returns every staged request in insertion order.
func (q *Queue) Drain() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	q.index = map[string]int{}
	metrics.QueueDepth.Set(0)
	if out == nil {
		out = []Request{}
	}
	return out
}

// Reset discards every staged request.
func (q *Queue) Reset() {
	_ = q.Drain()
}
