// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tomtom215/statesync/internal/sync"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// reportRows flattens run reports into backend/action/counter/count rows.
// Outcome counters come first, then store commit buckets, then writes.
func reportRows(reports []sync.Report) [][]string {
	var rows [][]string
	for _, rep := range reports {
		add := func(counter string, value string) {
			rows = append(rows, []string{rep.Backend, rep.Action, counter, value})
		}

		if rep.Stats != nil {
			snap := rep.Stats.Snapshot()
			for _, key := range rep.Stats.Keys() {
				add(key, strconv.Itoa(snap[key]))
			}
		}

		types := make([]string, 0, len(rep.Summary))
		for typ := range rep.Summary {
			types = append(types, typ)
		}
		sort.Strings(types)
		for _, typ := range types {
			buckets := make([]string, 0, len(rep.Summary[typ]))
			for b := range rep.Summary[typ] {
				buckets = append(buckets, b)
			}
			sort.Strings(buckets)
			for _, b := range buckets {
				add("store."+typ+"."+b, strconv.Itoa(rep.Summary[typ][b]))
			}
		}

		if len(rep.Dispatched) > 0 {
			add("writes.sent", strconv.Itoa(len(rep.Dispatched)-rep.Failed()))
			add("writes.failed", strconv.Itoa(rep.Failed()))
		}
		if rep.Err != nil {
			add("error", rep.Err.Error())
		}
	}
	return rows
}

func renderReports(reports []sync.Report) string {
	rows := reportRows(reports)
	if len(rows) == 0 {
		return "Nothing to do."
	}
	return renderTable(
		[]string{"Backend", "Action", "Counter", "Count"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	)
}

// reportsError joins the errors of failed runs.
func reportsError(reports []sync.Report) error {
	var errs []error
	for _, rep := range reports {
		if rep.Err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", rep.Action, rep.Backend, rep.Err))
		}
	}
	return errors.Join(errs...)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
