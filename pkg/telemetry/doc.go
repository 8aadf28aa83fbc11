// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry provides OpenTelemetry tracing and metrics for seqcull.
//
// The package wraps the OTel SDK setup behind a single Init call and exposes
// the instruments the rest of the codebase records against. Traces go to
// stdout (development) or nowhere; metrics are exported in Prometheus format
// via MetricsHandler or printed to stdout.
//
// Basic usage:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("seqcull"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
//	metrics.ShrinkRunsTotal.Add(ctx, 1)
//
// Standard OTel environment variables are supported:
//
//	OTEL_TRACES_EXPORTER   - trace exporter ("stdout" or "none")
//	OTEL_METRICS_EXPORTER  - metric exporter ("prometheus", "stdout", or "none")
//
// All functions are safe for concurrent use after Init returns.
package telemetry
