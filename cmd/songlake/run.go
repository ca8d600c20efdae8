//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of songlake.
//
// songlake is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// songlake is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with songlake. If not, see https://www.gnu.org/licenses/.

package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aaronlmathis/songlake/config"
	"github.com/aaronlmathis/songlake/lake"
	"github.com/aaronlmathis/songlake/logging"
	"github.com/aaronlmathis/songlake/metrics"
	"github.com/aaronlmathis/songlake/storage"
	"github.com/aaronlmathis/songlake/writers"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the star schema tables, replacing any previous output",
		Example: `  songlake run --input s3a://udacity-dend/ --output s3a://my-lake/
  songlake run --input ./data --output ./lake --dry-run`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindFlags(v, cmd.Flags(), map[string]string{
				"input":                  "input",
				"output":                 "output",
				"sink.kind":              "sink",
				"sink.max_rows_per_file": "max-rows-per-file",
				"run.parallelism":        "parallelism",
				"run.max_workers":        "max-workers",
				"run.task_timeout":       "task-timeout",
				"metrics.push_url":       "push-url",
			})
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			dryRun, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return err
			}
			return runJob(cmd, v, dryRun)
		},
	}

	f := cmd.Flags()
	f.String("input", "", "raw data location: a path or s3://bucket/prefix")
	f.String("output", "", "table location: a path or s3://bucket/prefix")
	f.String("sink", config.SinkParquet, "sink kind: parquet or postgres")
	f.Int("max-rows-per-file", 0, "split partitions into files of at most this many rows (0 for one file)")
	f.Int("parallelism", 4, "record workers per transform task and concurrent partition writes")
	f.Int("max-workers", 4, "tasks running at once")
	f.Duration("task-timeout", 0, "per task timeout (0 for none)")
	f.String("push-url", "", "Pushgateway url for run metrics")
	f.Bool("dry-run", false, "discover input and print the task graph without running it")
	return cmd
}

func runJob(cmd *cobra.Command, v *viper.Viper, dryRun bool) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	ctx, logger, err := commandLogger(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	logger, runID := logging.ForRun(logger)
	ctx = logger.WithContext(ctx)

	input, err := storage.ParseLocation(ctx, cfg.Input, s3Options(cfg.AWS)...)
	if err != nil {
		return err
	}
	sink, closeSink, err := openSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	run := metrics.NewRun()
	job := lake.NewJob(input, sink,
		lake.WithPatterns(cfg.Patterns.Songs, cfg.Patterns.Logs),
		lake.WithParallelism(cfg.Run.Parallelism),
		lake.WithMaxWorkers(cfg.Run.MaxWorkers),
		lake.WithTaskTimeout(cfg.Run.TaskTimeout),
		lake.WithObserver(run.ObserveTask),
		lake.WithDropHandler(func(stage string, err error) {
			logger.Debug().Str("stage", stage).Err(err).Msg("dropped malformed record")
		}),
	)

	if dryRun {
		d, err := job.Build(ctx)
		if err != nil {
			return err
		}
		defer lake.Release(d)
		return d.Describe(cmd.OutOrStdout())
	}

	logger.Info().Str("input", input.URI()).Str("sink", cfg.Sink.Kind).Msg("run started")
	report, runErr := job.Run(ctx)
	for _, name := range report.Written() {
		run.ObserveTable(report.Tables[name])
	}
	if cfg.Metrics.PushURL != "" {
		if err := run.Push(ctx, cfg.Metrics.PushURL, cfg.Metrics.Job); err != nil {
			logger.Warn().Err(err).Msg("metrics push failed")
		}
	}

	if err := printReport(cmd.OutOrStdout(), runID, report); err != nil {
		return err
	}
	return runErr
}

// openSink returns the table writer selected by cfg and a function that
// releases it.
func openSink(ctx context.Context, cfg config.Config) (writers.TableWriter, func() error, error) {
	if cfg.Sink.Kind == config.SinkPostgres {
		w, err := writers.NewPostgresTableWriter(ctx,
			writers.WithPostgresDSN(cfg.Sink.Postgres.DSN),
			writers.WithPostgresSchema(cfg.Sink.Postgres.Schema),
		)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	}

	out, err := storage.ParseLocation(ctx, cfg.Output, s3Options(cfg.AWS)...)
	if err != nil {
		return nil, nil, err
	}
	opts := []writers.PartitionedOption{writers.WithPartitionParallelism(cfg.Run.Parallelism)}
	if cfg.Sink.MaxRowsPerFile > 0 {
		opts = append(opts, writers.WithMaxRowsPerFile(cfg.Sink.MaxRowsPerFile))
	}
	return writers.NewPartitionedWriter(out, opts...), func() error { return nil }, nil
}

func printReport(w io.Writer, runID string, report *lake.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", runID)
	fmt.Fprintln(tw, "TABLE\tROWS\tFILES\tPARTITIONS\tSIZE")
	for _, name := range report.Written() {
		res := report.Tables[name]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", name, res.Rows, res.Files, res.Partitions, humanize.Bytes(uint64(res.Bytes)))
	}
	stages := make([]string, 0, len(report.Dropped))
	for stage := range report.Dropped {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(tw, "dropped\t%d\t\t\t%s\n", report.Dropped[stage], stage)
	}
	return tw.Flush()
}
