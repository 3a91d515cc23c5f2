// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tomtom215/statesync/internal/backend"
	"github.com/tomtom215/statesync/internal/logging"
	"github.com/tomtom215/statesync/internal/reconcile"
)

func newInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server name, version and identifier of each backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, names, err := ctx.clients(cmd.Context())
			if err != nil {
				return err
			}
			defer set.Close()

			rows := make([][]string, 0, len(names))
			for _, name := range names {
				client, _ := set.Get(name)
				info := client.GetInfo(cmd.Context())
				if !info.Success {
					rows = append(rows, []string{name, client.Context().Kind, "", "", failure(info)})
					continue
				}
				rows = append(rows, []string{name, client.Context().Kind, info.Value.Name, info.Value.Version, info.Value.Identifier})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Backend", "Kind", "Server", "Version", "Identifier"},
				rows, nil))
			return nil
		},
	}
}

func newLibrariesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "libraries",
		Short: "List backend libraries and whether they are synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, names, err := ctx.clients(cmd.Context())
			if err != nil {
				return err
			}
			defer set.Close()

			var rows [][]string
			for _, name := range names {
				client, _ := set.Get(name)
				libs := client.GetLibrariesList(cmd.Context())
				if !libs.Success {
					rows = append(rows, []string{name, "", "", "", "", failure(libs)})
					continue
				}
				for _, lib := range libs.Value {
					rows = append(rows, []string{name, lib.ID, lib.Title, lib.Type, yesNo(lib.Supported && !lib.Ignored), libraryNote(lib)})
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Backend", "ID", "Title", "Type", "Synced", "Note"},
				rows, nil))
			return nil
		},
	}
}

func failure[T any](r backend.Result[T]) string {
	if r.Error == nil {
		return "failed"
	}
	return r.Error.Error()
}

func libraryNote(lib backend.Library) string {
	switch {
	case lib.Ignored:
		return "ignored by configuration"
	case !lib.Supported:
		return "unsupported type " + lib.NativeType
	default:
		return ""
	}
}

func newBackupCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write each backend's play state as JSON lines",
		Long: "Writes one <backend>.<date>.jsonl file per backend into --output. " +
			"Each line carries the item's external ids, so it can be matched again on a rebuilt server.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, names, err := ctx.clients(cmd.Context())
			if err != nil {
				return err
			}
			defer set.Close()

			if err := ctx.fs.MkdirAll(output, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", output, err)
			}

			runCtx := logging.ContextWithNewRunID(cmd.Context())
			stamp := time.Now().Format("20060102")
			rows := make([][]string, 0, len(names))
			var failed error
			for _, name := range names {
				client, _ := set.Get(name)
				path := filepath.Join(output, name+"."+stamp+".jsonl")

				n, err := writeBackup(runCtx, ctx.fs, path, reconcile.New(client, nil, nil))
				if err != nil {
					failed = err
					rows = append(rows, []string{name, path, "", err.Error()})
					continue
				}
				rows = append(rows, []string{name, path, fmt.Sprint(n), ""})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Backend", "File", "Items", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			return failed
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", ".", "Directory for backup files")
	return cmd
}

func writeBackup(ctx context.Context, fs afero.Fs, path string, run *reconcile.Run) (int, error) {
	f, err := fs.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}
	res := run.Backup(ctx, f)
	if err := f.Close(); err != nil && res.Success {
		return 0, fmt.Errorf("close %s: %w", path, err)
	}
	if !res.Success {
		return res.Value, fmt.Errorf("backup %s: %s", run.Stats().Backend(), failure(res))
	}
	return res.Value, nil
}
