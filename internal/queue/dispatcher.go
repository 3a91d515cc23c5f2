// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/sourcegraph/conc/pool"

	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
	"github.com/tomtom215/statesync/internal/transport"
)

// Outcome is the result of sending one Request.
type Outcome struct {
	Request    Request
	StatusCode int
	Err        error
}

// OK reports a 2xx response.
func (o Outcome) OK() bool {
	return o.Err == nil && o.StatusCode >= 200 && o.StatusCode < 300
}

// Dispatcher sends drained requests through each backend's transport.
type Dispatcher struct {
	doers       map[string]transport.Doer
	fallback    transport.Doer
	concurrency int
}

// NewDispatcher creates a dispatcher. doers maps backend names to their
// transport; requests for other backends use fallback (http.DefaultClient
// when nil).
func NewDispatcher(doers map[string]transport.Doer, fallback transport.Doer, concurrency int) *Dispatcher {
	if fallback == nil {
		fallback = http.DefaultClient
	}
	if concurrency < 1 {
		concurrency = 4
	}
	return &Dispatcher{doers: doers, fallback: fallback, concurrency: concurrency}
}

// Dispatch sends reqs concurrently and returns one Outcome per request, in
// input order.
func (d *Dispatcher) Dispatch(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	p := pool.New().WithMaxGoroutines(d.concurrency)
	for i := range reqs {
		p.Go(func() {
			outcomes[i] = d.send(ctx, reqs[i])
		})
	}
	p.Wait()

	return outcomes
}

func (d *Dispatcher) send(ctx context.Context, r Request) Outcome {
	out := Outcome{Request: r}
	log := logging.CtxWith(ctx).
		Str("backend", r.Tag.Backend).
		Str("item", r.Tag.Item).
		Str("purpose", r.Tag.Purpose).
		Logger()

	req, err := r.HTTPRequest(ctx)
	if err != nil {
		out.Err = err
		metrics.RecordDispatch(r.Tag.Backend, r.Tag.Purpose, false)
		return out
	}

	doer := d.fallback
	if bd, ok := d.doers[r.Tag.Backend]; ok && bd != nil {
		doer = bd
	}

	resp, err := doer.Do(req)
	if err != nil {
		out.Err = fmt.Errorf("dispatch %s %s: %w", r.Method, r.Tag.Item, err)
		log.Error().Err(err).Msg("Write request failed")
		metrics.RecordDispatch(r.Tag.Backend, r.Tag.Purpose, false)
		return out
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	out.StatusCode = resp.StatusCode
	if !out.OK() {
		out.Err = fmt.Errorf("dispatch %s %s: unexpected status %d", r.Method, r.Tag.Item, resp.StatusCode)
		log.Warn().Int("status", resp.StatusCode).Msg("Write request rejected")
	} else {
		log.Debug().Int("status", resp.StatusCode).Msg("Write request sent")
	}
	metrics.RecordDispatch(r.Tag.Backend, r.Tag.Purpose, out.OK())
	return out
}
