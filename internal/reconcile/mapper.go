// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package reconcile

import (
	"context"

	"github.com/tomtom215/statesync/internal/state"
)

// Mapper is the local system of record.
//
// Find looks an item up by its identifier pointers and returns nil when
// nothing matches. Add stages an item reported by backend; staged items are
// merged into the record by Commit. Implementations serialize their own
// writes.
type Mapper interface {
	Find(ctx context.Context, item *state.Item) (*state.Item, error)
	Add(ctx context.Context, backend string, item *state.Item) error
	Commit(ctx context.Context) (state.Summary, error)
	Changed(ctx context.Context, since int64) ([]*state.Item, error)
	Get(ctx context.Context, id string) (*state.Item, error)
}
