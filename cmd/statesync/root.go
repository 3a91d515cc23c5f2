// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "statesync",
		Short:         "Reconcile watch state across Plex, Jellyfin and Emby",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringSliceVarP(&flags.backends, "backend", "b", nil, "Limit the command to these backends (repeatable)")
	pf.StringVar(&flags.after, "after", "", "Only consider changes after this time (RFC3339, epoch seconds or a duration like 24h)")
	pf.BoolVar(&flags.dryRun, "dry-run", false, "Decide and count, but send no writes")
	pf.BoolVar(&flags.ignoreDate, "ignore-date", false, "Export play state regardless of which side changed last")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override logging.level (trace, debug, info, warn, error)")

	for _, cmd := range newRunCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newBackupCommand(ctx))
	rootCmd.AddCommand(newInfoCommand(ctx))
	rootCmd.AddCommand(newLibrariesCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
