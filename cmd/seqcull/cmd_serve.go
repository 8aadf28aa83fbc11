// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cladeworks/seqcull/archive"
	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pkg/telemetry"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/cladeworks/seqcull/reduce"
	"github.com/cladeworks/seqcull/seqio"
	"github.com/cladeworks/seqcull/server"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
)

func runServe(cmd *cobra.Command, args []string) {
	port := servePort
	if port == 0 {
		port = config.Global.Server.Port
	}
	debug := serveDebug || config.Global.Server.Debug

	// Set Gin mode
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = config.Global.Telemetry.TraceExporter
	tcfg.MetricExporter = config.Global.Telemetry.MetricExporter
	tcfg.SampleRate = config.Global.Telemetry.SampleRate
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		ux.Error(fmt.Sprintf("Telemetry init failed: %v", err))
		return
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := shutdown(sctx); shutdownErr != nil {
			slog.Warn("Telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	metrics, err := telemetry.NewMetrics(otel.Meter("seqcull"))
	if err != nil {
		slog.Warn("Metrics unavailable, serving without them", "error", err)
		metrics = nil
	}

	srvCfg := server.DefaultConfig()
	srvCfg.MaxConcurrentJobs = int64(config.Global.Server.MaxJobs)
	srvCfg.InSpeciesThreshold = config.Global.Curation.InSpeciesThreshold
	srvCfg.RedundantThreshold = config.Global.Curation.RedundantThreshold
	srvCfg.Criteria = reduce.Criteria{
		MaxGapFraction:     config.Global.Curation.MaxGapFraction,
		MaxLengthDeviation: config.Global.Curation.MaxLengthDeviation,
	}

	var arc *archive.Archive
	if config.Global.Archive.Enabled {
		arc, err = archive.Open(archive.DefaultConfig(expandHome(config.Global.Archive.Dir)))
		if err != nil {
			slog.Error("Failed to open archive", "dir", config.Global.Archive.Dir, "error", err)
			ux.Error(fmt.Sprintf("Cannot open archive: %v", err))
			return
		}
		defer func() {
			if closeErr := arc.Close(); closeErr != nil {
				slog.Warn("Failed to close archive", "error", closeErr)
			}
		}()
	}

	// A nil *Archive must not reach NewHandlers as a non-nil interface.
	var handlers *server.Handlers
	if arc != nil {
		handlers = server.NewHandlers(srvCfg, arc, slog.Default())
	} else {
		handlers = server.NewHandlers(srvCfg, nil, slog.Default())
	}
	if metrics != nil {
		handlers.UseMetrics(metrics)
	}

	preloaded := preloadStores(handlers, serveLoad)

	// Setup router
	router := gin.New()
	router.Use(gin.Recovery())
	if debug {
		router.Use(gin.Logger())
	}
	router.Use(otelgin.Middleware("seqcull"))
	router.Use(server.MetricsMiddleware(metrics))

	v1 := router.Group("/v1")
	server.RegisterRoutes(v1, handlers)

	if telemetry.MetricsHandler() != nil {
		router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	}

	printBanner(port, arc != nil, preloaded)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down seqcull server")
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", port)
	slog.Info("Starting seqcull server", slog.String("address", addr))
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// preloadStores registers tables from disk so the API starts with data.
// Unreadable tables are skipped. Returns how many were registered.
func preloadStores(handlers *server.Handlers, paths []string) int {
	loaded := 0
	for _, path := range paths {
		s, err := seqio.ReadTableFile(path)
		if err != nil {
			slog.Warn("Failed to preload table", "path", path, "error", err)
			continue
		}
		id := handlers.Registry().Put(s, path)
		slog.Info("Preloaded store", slog.String("id", id),
			slog.String("path", path), slog.Int("records", s.Len()))
		loaded++
	}
	return loaded
}

func printBanner(port int, archiveEnabled bool, preloaded int) {
	archiveStatus := "DISABLED (enable in config to keep run manifests)"
	if archiveEnabled {
		archiveStatus = "ENABLED (manifests and snapshots kept)"
	}
	preloadStatus := "none (POST a table to /v1/seqcull/stores)"
	if preloaded > 0 {
		preloadStatus = fmt.Sprintf("%d tables, ids in the startup log", preloaded)
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                        SEQCULL API SERVER                         ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Sequence record curation over HTTP.                              ║
║  Archive: %-55s ║
║  Preloaded: %-53s ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/v1/seqcull/health                │  ║
║  │                                                             │  ║
║  │ # Upload a table                                            │  ║
║  │ curl -X POST http://localhost:%d/v1/seqcull/stores \      │  ║
║  │   -F table=@seqs.csv                                        │  ║
║  │                                                             │  ║
║  │ # Run the curation pipeline on it                           │  ║
║  │ curl -X POST \                                              │  ║
║  │   http://localhost:%d/v1/seqcull/stores/<id>/pipeline \   │  ║
║  │   -H "Content-Type: application/json" -d '{}'               │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Stores: POST /stores, GET/DELETE /stores/:id, /records       ║
║  ├── Curation: POST /stores/:id/shrink, /stores/:id/pipeline      ║
║  ├── Runs: GET /runs                                              ║
║  └── Ops: GET /health, GET /metrics                               ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, archiveStatus, preloadStatus, port, port, port)
}
