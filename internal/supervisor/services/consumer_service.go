// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/statesync/internal/events"
)

// Consumer is the subscribing half of the event bus.
type Consumer interface {
	Consume(ctx context.Context, fn events.Handler) error
	Topic() string
}

// ConsumerService keeps a bus subscription alive. When Consume returns with
// an error (broken NATS connection, closed subscriber) suture restarts it.
type ConsumerService struct {
	consumer Consumer
	handler  events.Handler
}

// NewConsumerService creates a consumer for handler.
//
//	svc := services.NewConsumerService(bus, pending.Handle)
//	tree.AddEventsService(svc)
func NewConsumerService(consumer Consumer, handler events.Handler) *ConsumerService {
	return &ConsumerService{consumer: consumer, handler: handler}
}

// Serve implements suture.Service.
func (s *ConsumerService) Serve(ctx context.Context) error {
	err := s.consumer.Consume(ctx, s.handler)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, events.ErrClosed) {
		// A closed bus will not come back; stop asking suture to restart.
		return fmt.Errorf("consumer %s: %w", s.consumer.Topic(), errors.Join(err, suture.ErrDoNotRestart))
	}
	if err == nil {
		err = errors.New("subscription ended")
	}
	return fmt.Errorf("consumer %s: %w", s.consumer.Topic(), err)
}

// String implements fmt.Stringer for suture's event log.
func (s *ConsumerService) String() string {
	return "event-consumer"
}
