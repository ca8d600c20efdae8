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

// Command songlake builds the star schema tables from raw song and log data
// and inspects the tables it wrote.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aaronlmathis/songlake/config"
	"github.com/aaronlmathis/songlake/logging"
	"github.com/aaronlmathis/songlake/storage"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "songlake",
		Short: "Build a partitioned star schema from song catalog and listening logs",
		Long: `songlake reads the raw song catalog and listening event logs from a local
directory or S3 prefix and writes five Parquet tables (songs, artists, users,
time and songplays) partitioned in hive layout.

Settings come from flags, SONGLAKE_* environment variables and an optional
config file, in that order of precedence.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.ReadFile(v, cfgFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "json", "log format: json or console")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(newRunCmd(v), newInspectCmd(v))
	return root
}

// bindFlags binds viper keys to the flags of the command being run. Binding
// happens here rather than at construction because several commands share
// keys such as output.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// commandLogger builds the process logger and returns ctx carrying it.
func commandLogger(ctx context.Context, cfg config.Config, errOut io.Writer) (context.Context, zerolog.Logger, error) {
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: logging.Format(cfg.Log.Format),
		Output: errOut,
	})
	if err != nil {
		return ctx, logger, err
	}
	return logger.WithContext(ctx), logger, nil
}

func s3Options(cfg config.AWSConfig) []storage.S3Option {
	opts := []storage.S3Option{
		storage.WithS3Region(cfg.Region),
		storage.WithS3Profile(cfg.Profile),
		storage.WithS3Endpoint(cfg.Endpoint),
		storage.WithS3PathStyle(cfg.PathStyle),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, storage.WithS3Credentials(aws.Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			SessionToken:    cfg.SessionToken,
			Source:          "songlake config",
		}))
	}
	return opts
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(config.New()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
