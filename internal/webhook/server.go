// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package webhook receives backend webhooks, stores the reported state and
// announces each stored item on the event bus.
//
//	POST /webhooks/{backend}   backend.Client.ParseWebhook -> Mapper.Add + Commit -> events.Change
//	GET  /healthz
//	GET  /metrics
//
// The response status is the result's http_code: ignored events answer 200
// so backends do not retry them.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/events"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
	"github.com/tomtom215/statesync/internal/reconcile"
	"github.com/tomtom215/statesync/internal/state"
)

// Backends looks up configured clients by name.
type Backends interface {
	Get(name string) (backend.Client, bool)
}

// Publisher announces stored items.
type Publisher interface {
	Publish(ctx context.Context, c events.Change) error
}

// Server is the webhook receiver. It implements suture.Service.
type Server struct {
	cfg      config.ServerConfig
	backends Backends
	mapper   reconcile.Mapper
	bus      Publisher
	metrics  bool
	handler  http.Handler
}

// New creates the receiver. bus may be nil.
func New(cfg config.ServerConfig, backends Backends, mapper reconcile.Mapper, bus Publisher, withMetrics bool) *Server {
	s := &Server{cfg: cfg, backends: backends, mapper: mapper, bus: bus, metrics: withMetrics}
	s.handler = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/webhooks", func(r chi.Router) {
		if s.cfg.WebhookRateLimit > 0 {
			r.Use(httprate.Limit(
				s.cfg.WebhookRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					respond(w, http.StatusTooManyRequests, backend.Fail[any](backend.NewError(chi.URLParam(r, "backend"), "rate limit exceeded")))
				}),
			))
		}
		r.Post("/{backend}", s.receive)
	})
	return r
}

// requestID tags the request context and response with X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

func (s *Server) receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "backend")

	client, ok := s.backends.Get(name)
	if !ok {
		s.finish(w, name, http.StatusNotFound, backend.Fail[any](backend.NewError(name, "unknown backend %q", name)))
		return
	}

	parsed := client.ParseWebhook(ctx, r)
	if !parsed.Success {
		code := parsed.HTTPCode(http.StatusInternalServerError)
		if code >= http.StatusInternalServerError {
			logging.Ctx(ctx).Error().Err(parsed.Err()).Str("backend", name).Msg("Webhook failed")
		} else {
			logging.Ctx(ctx).Debug().Err(parsed.Err()).Str("backend", name).Int("status", code).Msg("Webhook not processed")
		}
		s.finish(w, name, code, backend.Convert[*state.Item, any](parsed))
		return
	}

	item := parsed.Value
	summary, err := s.store(ctx, name, item)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("backend", name).Str("item", item.Name()).Msg("Webhook store failed")
		s.finish(w, name, http.StatusInternalServerError, backend.Fail[any](backend.Wrap(name, err, "store item")))
		return
	}

	logging.Ctx(ctx).Info().
		Str("backend", name).
		Str("event", item.Event).
		Str("item", item.Name()).
		Bool("tainted", item.Tainted).
		Bool("watched", item.Watched).
		Msg("Webhook stored")
	s.finish(w, name, http.StatusOK, backend.OK[any](summary))
}

// store commits item and publishes the stored id.
func (s *Server) store(ctx context.Context, name string, item *state.Item) (state.Summary, error) {
	if err := s.mapper.Add(ctx, name, item); err != nil {
		return nil, err
	}
	summary, err := s.mapper.Commit(ctx)
	if err != nil {
		return nil, err
	}

	stored, err := s.mapper.Find(ctx, item)
	if err != nil {
		return summary, err
	}
	if stored == nil || s.bus == nil {
		return summary, nil
	}

	change := events.Change{
		ItemID:  stored.ID,
		Backend: name,
		Event:   item.Event,
		Type:    item.Type,
		Tainted: item.Tainted,
		Date:    item.Updated,
	}
	if err := s.bus.Publish(ctx, change); err != nil {
		// The item is stored; the next scheduled push still sees it.
		logging.Ctx(ctx).Warn().Err(err).Str("item", stored.ID).Msg("Change publish failed")
	}
	return summary, nil
}

func (s *Server) finish(w http.ResponseWriter, name string, status int, body backend.Result[any]) {
	metrics.RecordWebhook(name, status)
	respond(w, status, body)
}

func respond(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal webhook response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("listen", s.cfg.Listen).Msg("Webhook server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown: %w", err)
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "webhook-server" }
