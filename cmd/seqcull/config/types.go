// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"github.com/go-playground/validator/v10"
)

// CurrentConfigVersion tags config files written by this build.
const CurrentConfigVersion = "1"

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// SeqcullConfig is the on-disk configuration for the seqcull CLI.
type SeqcullConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Curation holds the default stage parameters. CLI flags override
	// these per invocation.
	Curation CurationConfig `yaml:"curation"`

	// Server configures `seqcull serve`.
	Server ServerConfig `yaml:"server"`

	// Archive configures durable run snapshots for `seqcull run`.
	Archive ArchiveConfig `yaml:"archive"`

	// Watch configures `seqcull watch` re-run pacing.
	Watch WatchConfig `yaml:"watch"`

	// Telemetry selects trace and metric exporters.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Logging configures slog output.
	Logging LoggingConfig `yaml:"logging"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type CurationConfig struct {
	// InSpeciesThreshold is the similarity cutoff for the in-species stage.
	InSpeciesThreshold float64 `yaml:"in_species_threshold" validate:"gte=0,lte=1"`

	// RedundantThreshold is the similarity cutoff for the cross-store stage.
	RedundantThreshold float64 `yaml:"redundant_threshold" validate:"gte=0,lte=1"`

	// MaxGapFraction bounds the gap share an alignment may carry.
	MaxGapFraction float64 `yaml:"max_gap_fraction" validate:"gte=0,lte=1"`

	// MaxLengthDeviation bounds the relative deviation from the median
	// ungapped length.
	MaxLengthDeviation float64 `yaml:"max_length_deviation" validate:"gte=0,lte=1"`

	// Workers caps the scoring worker pool. Zero means automatic.
	Workers int `yaml:"workers" validate:"gte=0"`
}

type ServerConfig struct {
	Port  int  `yaml:"port" validate:"gte=1,lte=65535"`
	Debug bool `yaml:"debug"`

	// MaxJobs bounds concurrent shrink and pipeline requests.
	MaxJobs int64 `yaml:"max_jobs" validate:"gte=1"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type WatchConfig struct {
	// DebounceMS is how long to wait for the table to stop changing
	// before a re-run, in milliseconds.
	DebounceMS int `yaml:"debounce_ms" validate:"gte=1"`

	// MinIntervalMS is the minimum spacing between re-runs, in
	// milliseconds. Bursts of writes collapse into one run.
	MinIntervalMS int `yaml:"min_interval_ms" validate:"gte=1"`
}

type TelemetryConfig struct {
	TraceExporter  string  `yaml:"trace_exporter" validate:"oneof=stdout none"`
	MetricExporter string  `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	SampleRate     float64 `yaml:"sample_rate" validate:"gte=0,lte=1"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`

	// Dir enables file logging when set. A leading ~ expands to the
	// home directory.
	Dir string `yaml:"dir"`
}

// Validate checks the struct tags and returns the first violation.
func (c *SeqcullConfig) Validate() error {
	return validate.Struct(c)
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SeqcullConfig {
	return SeqcullConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Curation: CurationConfig{
			InSpeciesThreshold: 0.95,
			RedundantThreshold: 0.90,
			MaxGapFraction:     0.5,
			MaxLengthDeviation: 0.5,
			Workers:            0,
		},
		Server: ServerConfig{
			Port:    12180,
			Debug:   false,
			MaxJobs: 4,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Dir:     "~/.seqcull/archive",
		},
		Watch: WatchConfig{
			DebounceMS:    400,
			MinIntervalMS: 2000,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRate:     1.0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
