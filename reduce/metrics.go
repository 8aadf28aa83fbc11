// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reduce

import (
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("seqcull.reduce")
	meter  = otel.Meter("seqcull.reduce")
)

// Metrics (initialized lazily)
var (
	metricsOnce   sync.Once
	stageLatency  metric.Float64Histogram
	pairsScored   metric.Int64Counter
	rowsExcluded  metric.Int64Counter
	stageFailures metric.Int64Counter
)

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func initMetrics() {
	metricsOnce.Do(func() {
		var initErrors []string

		var err error
		stageLatency, err = meter.Float64Histogram("reduce_stage_duration_seconds",
			metric.WithDescription("Time spent in each curation stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		pairsScored, err = meter.Int64Counter("reduce_pairs_scored_total",
			metric.WithDescription("Number of pairwise similarity comparisons"),
		)
		if err != nil {
			initErrors = append(initErrors, "pairs_scored: "+err.Error())
		}

		rowsExcluded, err = meter.Int64Counter("reduce_rows_excluded_total",
			metric.WithDescription("Number of rows excluded by curation stages"),
		)
		if err != nil {
			initErrors = append(initErrors, "rows_excluded: "+err.Error())
		}

		stageFailures, err = meter.Int64Counter("reduce_stage_failure_total",
			metric.WithDescription("Number of stage runs that returned an error"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		// Log all errors at once at Error level for visibility
		if len(initErrors) > 0 {
			slog.Error("failed to initialize some reduce metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}
