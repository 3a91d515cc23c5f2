// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

// Package main is the statesync command.
//
// StateSync keeps watched/unwatched state and resume positions consistent
// across Plex, Jellyfin and Emby servers. Every backend is imported into a
// local badger store keyed by external ids (imdb, tvdb, tmdb, ...), and the
// store's view is exported back to each backend.
//
// # Commands
//
//	statesync import    [--backend name] [--after time] [--dry-run]
//	statesync export    [--backend name] [--after time] [--dry-run] [--ignore-date]
//	statesync push      [--backend name] [--after time] [--dry-run] [--ignore-date]
//	statesync progress  [--backend name] [--after time] [--dry-run]
//	statesync backup    --backend name [--output file]
//	statesync info      [--backend name]
//	statesync libraries [--backend name]
//	statesync serve
//
// Global flags: --config, --log-level.
//
// One-shot commands take a file lock next to the store so two runs cannot
// race on it. "serve" holds the same lock, runs the scheduled actions under
// a supervisor tree and accepts webhooks on server.listen.
//
// # Configuration
//
// Configuration is loaded with koanf from defaults, a YAML file (--config,
// $STATESYNC_CONFIG, or the first of statesync.yaml, config.yaml and
// /etc/statesync/config.yaml) and STATESYNC_* environment variables, highest
// priority last.
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running action. Writes already dispatched
// stay applied; the store is closed cleanly.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/statesync/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	_ = logging.Close()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
