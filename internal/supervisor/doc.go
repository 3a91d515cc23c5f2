// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
Package supervisor runs the long-lived parts of "statesync serve" under a
suture v4 supervisor tree.

# Overview

	RootSupervisor ("statesync")
	├── SyncSupervisor ("sync-layer")
	│   ├── TaskService "import"    (sync.import_interval)
	│   ├── TaskService "export"    (sync.export_interval)
	│   ├── TaskService "push"      (sync.push_interval, pending play state)
	│   └── TaskService "progress"  (sync.push_interval, pending offsets)
	├── EventsSupervisor ("events-layer")
	│   └── ConsumerService         (event bus -> pending set)
	└── APISupervisor ("api-layer")
	    └── webhook.Server

A failing scheduled task restarts on its own without dropping the webhook
receiver, and a broken NATS connection restarts only the consumer.

# Logging

Supervisor events (service start, failure, restart backoff) go through
sutureslog into the zerolog stream:

	logger := logging.NewSlogLogger("supervisor")
	tree, err := supervisor.NewSupervisorTree(logger, supervisor.DefaultTreeConfig())
	tree.AddSyncService(services.NewTaskService("import", time.Hour, run))
	tree.AddAPIService(webhookServer)
	err = tree.Serve(ctx)

# Services

All services implement suture.Service (Serve(ctx) error) and fmt.Stringer
so suture can name them in its events. See package services.
*/
package supervisor
