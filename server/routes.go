// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all seqcull routes with the router.
//
// Description:
//
//	Registers all /v1/seqcull/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET    /v1/seqcull/health - Health check
//	POST   /v1/seqcull/stores - Upload a CSV/TSV table as a new store
//	GET    /v1/seqcull/stores/:id - Summarize a store
//	DELETE /v1/seqcull/stores/:id - Evict a store
//	GET    /v1/seqcull/stores/:id/records - List rows, filterable by species/kept
//	POST   /v1/seqcull/stores/:id/shrink - Run one curation stage
//	POST   /v1/seqcull/stores/:id/pipeline - Run a staged pipeline
//	GET    /v1/seqcull/runs - List archived run ids
//
// Example:
//
//	handlers := server.NewHandlers(server.DefaultConfig(), arc, logger)
//
//	v1 := router.Group("/v1")
//	server.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	seqcull := rg.Group("/seqcull")
	{
		// Store lifecycle
		seqcull.POST("/stores", handlers.HandleCreateStore)
		seqcull.GET("/stores/:id", handlers.HandleGetStore)
		seqcull.DELETE("/stores/:id", handlers.HandleDeleteStore)
		seqcull.GET("/stores/:id/records", handlers.HandleListRecords)

		// Curation jobs
		seqcull.POST("/stores/:id/shrink", handlers.HandleShrink)
		seqcull.POST("/stores/:id/pipeline", handlers.HandlePipeline)

		// Archived runs
		seqcull.GET("/runs", handlers.HandleListRuns)

		// Health checks
		seqcull.GET("/health", handlers.HandleHealth)
	}
}
