// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the seqcull service.
//
// Description:
//
//	Provides standard counters and histograms for HTTP requests, record
//	store loads, shrink stages, and pipeline runs. All metrics use the
//	"seqcull_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// HTTPActiveRequests tracks currently active HTTP requests.
	HTTPActiveRequests metric.Int64UpDownCounter

	// --- Store Metrics ---

	// StoreLoadsTotal counts record table loads by format and status.
	StoreLoadsTotal metric.Int64Counter

	// RecordsLoadedTotal counts total sequence records loaded into stores.
	RecordsLoadedTotal metric.Int64Counter

	// --- Curation Metrics ---

	// ShrinkRunsTotal counts shrink stage executions by stage and status.
	ShrinkRunsTotal metric.Int64Counter

	// ShrinkDuration records shrink stage duration in seconds by stage.
	ShrinkDuration metric.Float64Histogram

	// RecordsExcludedTotal counts records excluded by shrink stages.
	RecordsExcludedTotal metric.Int64Counter

	// --- Pipeline Metrics ---

	// PipelineRunsTotal counts pipeline runs by status.
	PipelineRunsTotal metric.Int64Counter

	// PipelineDuration records end-to-end pipeline duration in seconds.
	PipelineDuration metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Description:
//
//	Registers all pre-defined metrics with the provided meter.
//	Returns an error if any metric registration fails.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all counters and histograms initialized.
//	error - Non-nil if metric registration fails.
//
// Example:
//
//	meter := otel.Meter("seqcull")
//	metrics, err := telemetry.NewMetrics(meter)
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.ShrinkRunsTotal.Add(ctx, 1, ...)
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	// --- HTTP Metrics ---
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"seqcull_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"seqcull_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.HTTPActiveRequests, err = meter.Int64UpDownCounter(
		"seqcull_http_active_requests",
		metric.WithDescription("Currently active HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_requests: %w", err)
	}

	// --- Store Metrics ---
	m.StoreLoadsTotal, err = meter.Int64Counter(
		"seqcull_store_loads_total",
		metric.WithDescription("Total record table loads"),
		metric.WithUnit("{load}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store_loads_total: %w", err)
	}

	m.RecordsLoadedTotal, err = meter.Int64Counter(
		"seqcull_records_loaded_total",
		metric.WithDescription("Total sequence records loaded"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create records_loaded_total: %w", err)
	}

	// --- Curation Metrics ---
	m.ShrinkRunsTotal, err = meter.Int64Counter(
		"seqcull_shrink_runs_total",
		metric.WithDescription("Total shrink stage executions"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create shrink_runs_total: %w", err)
	}

	m.ShrinkDuration, err = meter.Float64Histogram(
		"seqcull_shrink_duration_seconds",
		metric.WithDescription("Shrink stage duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create shrink_duration: %w", err)
	}

	m.RecordsExcludedTotal, err = meter.Int64Counter(
		"seqcull_records_excluded_total",
		metric.WithDescription("Total records excluded by shrink stages"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create records_excluded_total: %w", err)
	}

	// --- Pipeline Metrics ---
	m.PipelineRunsTotal, err = meter.Int64Counter(
		"seqcull_pipeline_runs_total",
		metric.WithDescription("Total pipeline runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_runs_total: %w", err)
	}

	m.PipelineDuration, err = meter.Float64Histogram(
		"seqcull_pipeline_duration_seconds",
		metric.WithDescription("End-to-end pipeline duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline_duration: %w", err)
	}

	return m, nil
}
