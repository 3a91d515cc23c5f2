// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package services adapts StateSync components to suture.Service so they can
// run under the supervisor tree.
//
//   - TaskService runs a function on a fixed interval (scheduled import,
//     export and pending-change flushes).
//   - ConsumerService feeds event bus messages into a handler.
//
// The webhook server implements suture.Service itself and needs no wrapper.
package services
