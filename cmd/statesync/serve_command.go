// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/statesync/internal/config"
	"github.com/tomtom215/statesync/internal/events"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/supervisor"
	"github.com/tomtom215/statesync/internal/supervisor/services"
	"github.com/tomtom215/statesync/internal/sync"
	"github.com/tomtom215/statesync/internal/webhook"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled syncs and the webhook receiver until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := ctx.overrides(time.Now())
			if err != nil {
				return err
			}
			rt, err := ctx.open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			bus, err := events.New(rt.cfg.Events)
			if err != nil {
				return err
			}
			defer func() {
				if err := bus.Close(); err != nil {
					logging.Error().Err(err).Msg("Error closing event bus")
				}
			}()

			pending := events.NewPending()
			manager := rt.manager(pending, overrides)
			server := webhook.New(rt.cfg.Server, rt.set, rt.store, bus, rt.cfg.Metrics.Enabled)

			tree, err := buildTree(rt.cfg, manager, bus, pending, server)
			if err != nil {
				return err
			}

			logging.Info().
				Strs("backends", rt.set.Names()).
				Str("listen", rt.cfg.Server.Listen).
				Str("events", rt.cfg.Events.Driver).
				Msg("Starting StateSync")

			err = tree.Serve(cmd.Context())
			if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
				logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("supervisor: %w", err)
			}
			logging.Info().Msg("StateSync stopped")
			return nil
		},
	}
}

// buildTree registers one task per enabled interval, the bus consumer and
// the webhook server.
func buildTree(cfg *config.Config, manager *sync.Manager, bus *events.Bus, pending *events.Pending,
	server *webhook.Server) (*supervisor.SupervisorTree, error) {
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.DefaultTreeConfig())
	if err != nil {
		return nil, fmt.Errorf("create supervisor tree: %w", err)
	}

	for _, task := range scheduledTasks(cfg.Sync, manager) {
		tree.AddSyncService(task)
	}
	tree.AddEventsService(services.NewConsumerService(bus, pending.Handle))
	tree.AddAPIService(server)

	return tree, nil
}

// scheduledTasks returns the sync services. A zero interval disables the
// matching task.
func scheduledTasks(cfg config.SyncConfig, manager *sync.Manager) []*services.TaskService {
	var tasks []*services.TaskService
	add := func(name string, interval time.Duration, fn func(context.Context) []sync.Report) {
		if interval <= 0 {
			return
		}
		tasks = append(tasks, services.NewTaskService(name, interval, func(ctx context.Context) error {
			return reportsError(fn(ctx))
		}))
	}

	add("import", cfg.ImportInterval, func(ctx context.Context) []sync.Report { return manager.Import(ctx) })
	add("export", cfg.ExportInterval, func(ctx context.Context) []sync.Report { return manager.Export(ctx) })
	add("push", cfg.PushInterval, manager.PushPending)
	add("progress", cfg.PushInterval, manager.ProgressPending)

	return tasks
}
