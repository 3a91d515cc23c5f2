// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/statesync/internal/logging"
)

// TaskFunc is one scheduled unit of work.
type TaskFunc func(ctx context.Context) error

// TaskService runs fn every interval until the context is canceled.
//
// A failing run is logged and the schedule continues; only a panic inside fn
// makes suture restart the service. Runs never overlap: a run that outlasts
// the interval delays the next tick.
type TaskService struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	// RunOnStart triggers a run as soon as Serve starts instead of waiting
	// for the first tick.
	RunOnStart bool
}

// NewTaskService creates a scheduled task.
//
//	svc := services.NewTaskService("import", cfg.Sync.ImportInterval, func(ctx context.Context) error {
//		_, err := manager.Import(ctx)
//		return err
//	})
//	tree.AddSyncService(svc)
func NewTaskService(name string, interval time.Duration, fn TaskFunc) *TaskService {
	return &TaskService{name: name, interval: interval, fn: fn}
}

// Serve implements suture.Service.
func (s *TaskService) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New(s.name + ": interval must be positive")
	}

	if s.RunOnStart {
		s.run(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *TaskService) run(ctx context.Context) {
	ctx = logging.ContextWithNewRunID(ctx)
	start := time.Now()

	err := s.fn(ctx)
	switch {
	case err == nil:
		logging.Ctx(ctx).Debug().Str("task", s.name).Dur("duration", time.Since(start)).Msg("Scheduled task finished")
	case ctx.Err() != nil:
		// Shutting down; the error is a consequence of cancellation.
	default:
		logging.Ctx(ctx).Error().Err(err).Str("task", s.name).Dur("duration", time.Since(start)).Msg("Scheduled task failed")
	}
}

// String implements fmt.Stringer for suture's event log.
func (s *TaskService) String() string {
	return s.name
}
