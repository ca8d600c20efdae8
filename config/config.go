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

// Package config defines the run configuration and loads it through viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/aaronlmathis/songlake/readers"
)

// EnvPrefix prefixes every environment variable, e.g. SONGLAKE_OUTPUT or
// SONGLAKE_AWS_REGION.
const EnvPrefix = "SONGLAKE"

// Sink kinds.
const (
	SinkParquet  = "parquet"
	SinkPostgres = "postgres"
)

// Config is the full configuration of a run.
type Config struct {
	Input    string         `mapstructure:"input"`
	Output   string         `mapstructure:"output"`
	Patterns PatternsConfig `mapstructure:"patterns"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Run      RunConfig      `mapstructure:"run"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// PatternsConfig holds the doublestar patterns used to discover raw files.
type PatternsConfig struct {
	Songs string `mapstructure:"songs"`
	Logs  string `mapstructure:"logs"`
}

// AWSConfig configures S3 access. Static keys are optional; the default
// credential chain is used without them.
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	SessionToken    string `mapstructure:"session_token"`
}

// SinkConfig selects where tables are written.
type SinkConfig struct {
	Kind           string         `mapstructure:"kind"`
	MaxRowsPerFile int            `mapstructure:"max_rows_per_file"`
	Postgres       PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN    string `mapstructure:"dsn"`
	Schema string `mapstructure:"schema"`
}

// RunConfig bounds the concurrency of a run.
type RunConfig struct {
	Parallelism int           `mapstructure:"parallelism"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig enables pushing run metrics to a Pushgateway.
type MetricsConfig struct {
	PushURL string `mapstructure:"push_url"`
	Job     string `mapstructure:"job"`
}

// SetDefaults registers the default of every key on v. Registering every key
// also lets AutomaticEnv resolve it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input", "")
	v.SetDefault("output", "")
	v.SetDefault("patterns.songs", readers.SongDataPattern)
	v.SetDefault("patterns.logs", readers.LogDataPattern)
	v.SetDefault("aws.region", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.path_style", false)
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.session_token", "")
	v.SetDefault("sink.kind", SinkParquet)
	v.SetDefault("sink.max_rows_per_file", 0)
	v.SetDefault("sink.postgres.dsn", "")
	v.SetDefault("sink.postgres.schema", "")
	v.SetDefault("run.parallelism", 4)
	v.SetDefault("run.max_workers", 4)
	v.SetDefault("run.task_timeout", time.Duration(0))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("metrics.push_url", "")
	v.SetDefault("metrics.job", "songlake")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the config file at path into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Decode decodes the configuration held by v without validating it.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg, err := Decode(v)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}
	switch c.Sink.Kind {
	case SinkParquet:
		if c.Output == "" {
			errs = append(errs, errors.New("output is required for the parquet sink"))
		}
	case SinkPostgres:
		if c.Sink.Postgres.DSN == "" {
			errs = append(errs, errors.New("sink.postgres.dsn is required for the postgres sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink kind %q", c.Sink.Kind))
	}
	if c.Patterns.Songs == "" || c.Patterns.Logs == "" {
		errs = append(errs, errors.New("patterns.songs and patterns.logs must not be empty"))
	}
	if c.Run.Parallelism < 1 {
		errs = append(errs, errors.New("run.parallelism must be at least 1"))
	}
	if c.Run.MaxWorkers < 1 {
		errs = append(errs, errors.New("run.max_workers must be at least 1"))
	}
	if c.Run.TaskTimeout < 0 {
		errs = append(errs, errors.New("run.task_timeout must not be negative"))
	}
	if c.Sink.MaxRowsPerFile < 0 {
		errs = append(errs, errors.New("sink.max_rows_per_file must not be negative"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	return errors.Join(errs...)
}
