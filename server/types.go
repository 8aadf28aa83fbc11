// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"time"

	"github.com/cladeworks/seqcull/pipeline"
	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
)

// ServiceVersion is the seqcull API version reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Config tunes the handler set. Zero values fall back to the defaults from
// DefaultConfig.
type Config struct {
	// MaxConcurrentJobs bounds how many shrink or pipeline runs may be in
	// flight at once. Requests beyond the bound are rejected, not queued.
	MaxConcurrentJobs int64

	// MaxUploadBytes bounds the size of an uploaded table.
	MaxUploadBytes int64

	// InSpeciesThreshold is the similarity cutoff applied within a species
	// when a request does not carry its own.
	InSpeciesThreshold float64

	// RedundantThreshold is the cross-store similarity cutoff applied when
	// a request does not carry its own.
	RedundantThreshold float64

	// Criteria bounds the alignment-quality metrics for the aligner stage.
	Criteria reduce.Criteria

	// PipelineName names pipelines started through the API. Manifest
	// resume checks match on it.
	PipelineName string

	// PipelineStages is the stage list used when a pipeline request does
	// not name its own. The aligner stage is not in the default list
	// because uploaded tables often carry no alignments.
	PipelineStages []string
}

// DefaultConfig returns the handler configuration used when the caller has
// no opinion.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs:  4,
		MaxUploadBytes:     64 << 20,
		InSpeciesThreshold: 0.95,
		RedundantThreshold: 0.90,
		Criteria:           reduce.DefaultCriteria(),
		PipelineName:       "curation",
		PipelineStages:     []string{reduce.StageInSpecies, reduce.StageRedundant},
	}
}

// ErrorResponse is the error payload for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// HealthResponse reports service liveness and registry size.
type HealthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	Stores         int    `json:"stores"`
	ArchiveEnabled bool   `json:"archive_enabled"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// StoreCreatedResponse acknowledges an uploaded table.
type StoreCreatedResponse struct {
	StoreID string `json:"store_id"`
	Rows    int    `json:"rows"`
	Kept    int    `json:"kept"`
}

// SpeciesCount summarizes one species within a store.
type SpeciesCount struct {
	Species string `json:"species"`
	Rows    int    `json:"rows"`
	Kept    int    `json:"kept"`
}

// StoreSummaryResponse describes a registered store without its rows.
type StoreSummaryResponse struct {
	StoreID       string         `json:"store_id"`
	Source        string         `json:"source"`
	CreatedAt     time.Time      `json:"created_at"`
	Rows          int            `json:"rows"`
	Kept          int            `json:"kept"`
	AlignedLength int            `json:"aligned_length,omitempty"`
	Species       []SpeciesCount `json:"species"`
}

// RecordsResponse lists store rows after query filters.
type RecordsResponse struct {
	StoreID string                  `json:"store_id"`
	Count   int                     `json:"count"`
	Records []record.SequenceRecord `json:"records"`
}

// ShrinkRequest asks for one curation stage over a registered store. Nil
// numeric fields fall back to the server defaults.
type ShrinkRequest struct {
	Stage              string   `json:"stage"`
	Threshold          *float64 `json:"threshold,omitempty"`
	MaxGapFraction     *float64 `json:"max_gap_fraction,omitempty"`
	MaxLengthDeviation *float64 `json:"max_length_deviation,omitempty"`
}

// ShrinkResponse carries the id of the curated store and the stage report.
// The input store is untouched and stays registered.
type ShrinkResponse struct {
	StoreID string         `json:"store_id"`
	Report  *reduce.Report `json:"report"`
}

// PipelineRequest asks for a staged pipeline run over a registered store.
// An empty body runs the configured default stages.
type PipelineRequest struct {
	Stages             []string `json:"stages,omitempty"`
	InSpeciesThreshold *float64 `json:"in_species_threshold,omitempty"`
	RedundantThreshold *float64 `json:"redundant_threshold,omitempty"`
	MaxGapFraction     *float64 `json:"max_gap_fraction,omitempty"`
	MaxLengthDeviation *float64 `json:"max_length_deviation,omitempty"`
}

// PipelineResponse carries the run outcome: the curated store's id, the
// per-stage reports, and the sealed manifest.
type PipelineResponse struct {
	RunID    string             `json:"run_id"`
	StoreID  string             `json:"store_id"`
	Rows     int                `json:"rows"`
	Kept     int                `json:"kept"`
	Reports  []*reduce.Report   `json:"reports"`
	Manifest *pipeline.Manifest `json:"manifest"`
}

// RunsResponse lists archived run ids.
type RunsResponse struct {
	Runs []string `json:"runs"`
}

// StoreDeletedResponse acknowledges a registry eviction.
type StoreDeletedResponse struct {
	StoreID string `json:"store_id"`
	Deleted bool   `json:"deleted"`
}
