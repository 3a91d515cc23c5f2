// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
request.go - Shared HTTP Request Helpers

Every backend talks to its server through Send and FetchJSON so that status
handling and error shapes are identical across kinds.

  - Authentication headers are supplied by the caller (X-Plex-Token,
    X-Emby-Token).
  - Non-accepted statuses become a backend Error carrying the status code and
    the first 4 KiB of the response body.
  - 404 errors wrap ErrNotFound.
  - Retry, rate limiting and circuit breaking live in the transport.Doer.
*/

//nolint:staticcheck // File documentation, not package doc
package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"

	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/transport"
)

const maxErrorBody = 4096

// MaxWebhookBody bounds inbound webhook payloads.
const MaxWebhookBody = 1 << 20

// RequestConfig describes one backend API call.
type RequestConfig struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// Expect lists accepted statuses; empty accepts any 2xx.
	Expect []int
}

// Send executes cfg against the backend. On success the caller owns the
// response body.
func Send(ctx context.Context, doer transport.Doer, bctx Context, cfg RequestConfig) (*http.Response, *Error) {
	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(cfg.Body) > 0 {
		body = bytes.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, bctx.Endpoint(cfg.Path, cfg.Query), body)
	if err != nil {
		return nil, Wrap(bctx.Name, err, "create request")
	}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if bctx.Options.Trace {
		logging.Ctx(ctx).Trace().
			Str("backend", bctx.Name).
			Str("method", method).
			Str("url", req.URL.Redacted()).
			Int("body_bytes", len(cfg.Body)).
			Msg("Backend request")
	}

	resp, err := doer.Do(req)
	if err != nil {
		return nil, Wrap(bctx.Name, err, "%s %s", method, cfg.Path)
	}

	if accepted(resp.StatusCode, cfg.Expect) {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := UpstreamError(bctx.Name, resp.StatusCode, "%s %s failed", method, cfg.Path)
	if len(data) > 0 {
		e.Context = map[string]any{"body": string(data)}
	}
	if resp.StatusCode == http.StatusNotFound {
		e.Previous = ErrNotFound
	}
	return nil, e
}

// FetchJSON executes cfg and decodes the JSON response into T.
func FetchJSON[T any](ctx context.Context, doer transport.Doer, bctx Context, cfg RequestConfig) (T, *Error) {
	var out T

	if cfg.Header == nil {
		cfg.Header = http.Header{}
	}
	if cfg.Header.Get("Accept") == "" {
		cfg.Header.Set("Accept", "application/json")
	}

	resp, e := Send(ctx, doer, bctx, cfg)
	if e != nil {
		return out, e
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return out, UpstreamError(bctx.Name, resp.StatusCode, "%s returned an empty body", cfg.Path)
		}
		return out, Wrap(bctx.Name, err, "decode %s", cfg.Path)
	}
	return out, nil
}

// Forward executes cfg and returns the upstream response whatever its
// status. Only transport failures fail the Result.
func Forward(ctx context.Context, doer transport.Doer, bctx Context, cfg RequestConfig) Result[ProxyResponse] {
	cfg.Expect = anyStatus
	resp, e := Send(ctx, doer, bctx, cfg)
	if e != nil {
		return Failed[ProxyResponse](e)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fail[ProxyResponse](Wrap(bctx.Name, err, "read %s", cfg.Path))
	}
	header := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		header[k] = resp.Header.Get(k)
	}
	return OK(ProxyResponse{StatusCode: resp.StatusCode, Header: header, Body: data})
}

var anyStatus = func() []int {
	out := make([]int, 0, 500)
	for s := 100; s < 600; s++ {
		out = append(out, s)
	}
	return out
}()

// Failed converts e into a failed Result, carrying its status as http_code.
func Failed[T any](e *Error) Result[T] {
	r := Fail[T](e)
	if e != nil && e.StatusCode != 0 {
		r = r.With(ExtraHTTPCode, e.StatusCode)
	}
	return r
}

// IsNotFound reports whether err is a 404 or ErrNotFound.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var be *Error
	return errors.As(err, &be) && be.StatusCode == http.StatusNotFound
}

// ReadBody reads an inbound request body and restores it so it can be read
// again.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, MaxWebhookBody))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func accepted(status int, expect []int) bool {
	if len(expect) == 0 {
		return status >= 200 && status < 300
	}
	for _, s := range expect {
		if s == status {
			return true
		}
	}
	return false
}
