// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/reconcile"
	"github.com/tomtom215/statesync/internal/sync"
)

type actionFunc func(m *sync.Manager, ctx context.Context, names ...string) []sync.Report

func newRunCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newRunCommand(ctx, reconcile.ActionImport,
			"Import play state from backends into the local store",
			(*sync.Manager).Import),
		newRunCommand(ctx, reconcile.ActionExport,
			"Compare every backend item with the local store and write differences",
			(*sync.Manager).Export),
		newRunCommand(ctx, reconcile.ActionPush,
			"Write locally changed items to backends",
			(*sync.Manager).Push),
		newRunCommand(ctx, reconcile.ActionProgress,
			"Write resume positions of locally changed items to backends",
			(*sync.Manager).Progress),
	}
}

func newRunCommand(ctx *commandContext, action, short string, fn actionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   action,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reports, err := runAction(cmd.Context(), ctx, fn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderReports(reports))
			return reportsError(reports)
		},
	}
}

func runAction(ctx context.Context, cc *commandContext, fn actionFunc) ([]sync.Report, error) {
	names, err := cc.selectedBackends()
	if err != nil {
		return nil, err
	}
	overrides, err := cc.overrides(time.Now())
	if err != nil {
		return nil, err
	}

	rt, err := cc.open(ctx)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	return fn(rt.manager(nil, overrides), logging.ContextWithNewRunID(ctx), names...), nil
}
