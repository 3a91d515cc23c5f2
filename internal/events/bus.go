// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package events carries state changes from the webhook receiver to the
// push and progress services over a watermill pub/sub.
//
// The "memory" driver uses watermill's gochannel and only reaches
// subscribers in the same process. The "nats" driver publishes on core NATS
// subjects through watermill-nats, so several instances can share one
// receiver; subscribers join a queue group so each change is handled once.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/metrics"
)

// Drivers.
const (
	DriverMemory = "memory"
	DriverNATS   = "nats"
)

// ErrClosed is returned by Publish and Consume after Close.
var ErrClosed = errors.New("event bus closed")

// Change announces that a stored item was written from a backend event.
type Change struct {
	ItemID  string `json:"item_id"`
	Backend string `json:"backend"`
	Event   string `json:"event,omitempty"`
	Type    string `json:"type,omitempty"`
	Tainted bool   `json:"tainted,omitempty"`
	Date    int64  `json:"date,omitempty"`
}

// Handler processes one change. A returned error nacks the message.
type Handler func(ctx context.Context, c Change) error

// Bus publishes and consumes Changes on one topic.
type Bus struct {
	pub    message.Publisher
	sub    message.Subscriber
	shared bool
	topic  string

	mu     sync.RWMutex
	closed bool
}

// New creates the bus for cfg.Driver.
func New(cfg config.EventsConfig) (*Bus, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger("events"))

	switch cfg.Driver {
	case "", DriverMemory:
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Bus{pub: ch, sub: ch, shared: true, topic: cfg.Topic}, nil
	case DriverNATS:
		return newNATS(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown event driver %q", cfg.Driver)
	}
}

func newNATS(cfg config.EventsConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	natsOpts := []natsgo.Option{
		natsgo.Name("statesync"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}
	js := wmNats.JetStreamConfig{Disabled: true}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.NATSURL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   js,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.NATSURL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        js,
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	logging.Info().Str("url", cfg.NATSURL).Str("topic", cfg.Topic).Msg("NATS event bus connected")
	return &Bus{pub: pub, sub: sub, topic: cfg.Topic}, nil
}

// Topic returns the topic changes are published on.
func (b *Bus) Topic() string { return b.topic }

// Publish sends c.
func (b *Bus) Publish(ctx context.Context, c Change) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("backend", c.Backend)
	if id := logging.RequestIDFromContext(ctx); id != "" {
		msg.Metadata.Set("request_id", id)
	}
	msg.SetContext(ctx)

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	metrics.EventsPublished.WithLabelValues(b.topic).Inc()
	return nil
}

// Consume delivers changes to fn until ctx is done. Malformed messages are
// acked and dropped; handler errors nack the message.
func (b *Bus) Consume(ctx context.Context, fn Handler) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			b.handle(ctx, msg, fn)
		}
	}
}

func (b *Bus) handle(ctx context.Context, msg *message.Message, fn Handler) {
	metrics.EventsConsumed.WithLabelValues(b.topic).Inc()

	var c Change
	if err := json.Unmarshal(msg.Payload, &c); err != nil {
		logging.Warn().Err(err).Str("message", msg.UUID).Msg("Dropping malformed change")
		msg.Ack()
		return
	}

	if id := msg.Metadata.Get("request_id"); id != "" {
		ctx = logging.ContextWithRequestID(ctx, id)
	}
	if err := fn(ctx, c); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("item", c.ItemID).Msg("Change handler failed")
		msg.Nack()
		return
	}
	msg.Ack()
}

// Close closes the publisher and subscriber.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	err := b.pub.Close()
	if !b.shared {
		err = errors.Join(err, b.sub.Close())
	}
	return err
}
