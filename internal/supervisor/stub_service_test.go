// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

// stubService is a suture.Service that can be told to fail a number of
// times before it settles into blocking on ctx.
type stubService struct {
	name       string
	startCount atomic.Int32
	failCount  atomic.Int32
	maxFails   int32
}

func newStubService(name string) *stubService {
	return &stubService{name: name}
}

func (s *stubService) Serve(ctx context.Context) error {
	s.startCount.Add(1)

	if s.maxFails > 0 && s.failCount.Add(1) <= s.maxFails {
		return errors.New("simulated failure")
	}

	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) StartCount() int32 {
	return s.startCount.Load()
}

func (s *stubService) String() string {
	return s.name
}
