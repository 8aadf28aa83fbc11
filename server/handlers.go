// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/cladeworks/seqcull/pipeline"
	"github.com/cladeworks/seqcull/pkg/telemetry"
	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
	"github.com/cladeworks/seqcull/seqio"
)

// RunArchive is the slice of the archive the API uses: snapshot and manifest
// persistence for pipeline runs plus run listing.
type RunArchive interface {
	pipeline.Archiver
	Runs(ctx context.Context) ([]string, error)
}

// Handlers contains the HTTP handlers for the seqcull API.
//
// Thread Safety: handlers are safe for concurrent use. Stores are immutable
// once registered, and the registry serializes its own map access.
type Handlers struct {
	cfg      Config
	registry *Registry
	arc      RunArchive
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	jobs     *semaphore.Weighted
	started  time.Time
}

// NewHandlers creates the handler set. arc may be nil, which disables
// snapshot archival and the runs endpoint. A nil logger falls back to
// slog.Default(). Zero-valued Config fields take their DefaultConfig values.
func NewHandlers(cfg Config, arc RunArchive, logger *slog.Logger) *Handlers {
	def := DefaultConfig()
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = def.MaxConcurrentJobs
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.InSpeciesThreshold == 0 {
		cfg.InSpeciesThreshold = def.InSpeciesThreshold
	}
	if cfg.RedundantThreshold == 0 {
		cfg.RedundantThreshold = def.RedundantThreshold
	}
	if cfg.Criteria == (reduce.Criteria{}) {
		cfg.Criteria = def.Criteria
	}
	if cfg.PipelineName == "" {
		cfg.PipelineName = def.PipelineName
	}
	if len(cfg.PipelineStages) == 0 {
		cfg.PipelineStages = def.PipelineStages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		cfg:      cfg,
		registry: NewRegistry(),
		arc:      arc,
		logger:   logger,
		jobs:     semaphore.NewWeighted(cfg.MaxConcurrentJobs),
		started:  time.Now(),
	}
}

// Registry exposes the store registry so callers can preload stores before
// serving, as `seqcull serve --load` does.
func (h *Handlers) Registry() *Registry {
	return h.registry
}

// UseMetrics enables metric recording on the handler set. Without it the
// handlers serve requests but record nothing.
func (h *Handlers) UseMetrics(m *telemetry.Metrics) {
	h.metrics = m
}

// getOrCreateRequestID returns the request ID from the X-Request-ID header,
// generating one if absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}

// statusForError maps domain errors onto HTTP status codes and stable
// machine-readable error codes.
func statusForError(err error) (int, string) {
	var schemaErr *record.SchemaError
	var lengthErr *record.AlignmentLengthError
	switch {
	case errors.Is(err, ErrStoreNotFound):
		return http.StatusNotFound, "STORE_NOT_FOUND"
	case errors.Is(err, ErrUnknownStage):
		return http.StatusBadRequest, "UNKNOWN_STAGE"
	case errors.Is(err, ErrUnknownFormat):
		return http.StatusBadRequest, "UNKNOWN_FORMAT"
	case errors.Is(err, ErrEmptyUpload):
		return http.StatusBadRequest, "EMPTY_UPLOAD"
	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE"
	case errors.Is(err, ErrTooManyJobs):
		return http.StatusTooManyRequests, "TOO_MANY_JOBS"
	case errors.Is(err, ErrArchiveDisabled):
		return http.StatusServiceUnavailable, "ARCHIVE_DISABLED"
	case errors.Is(err, record.ErrInvalidThreshold):
		return http.StatusBadRequest, "INVALID_THRESHOLD"
	case errors.As(err, &schemaErr), errors.As(err, &lengthErr):
		return http.StatusBadRequest, "SCHEMA_ERROR"
	case errors.Is(err, pipeline.ErrInvalidName),
		errors.Is(err, pipeline.ErrNoStages),
		errors.Is(err, pipeline.ErrDuplicateStage):
		return http.StatusBadRequest, "INVALID_PIPELINE"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// respondError logs the failure and writes the mapped ErrorResponse.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "status", status)
	} else {
		logger.Warn("request rejected", "error", err, "status", status)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

// normalizeStage maps request stage names, including the short CLI forms,
// onto the canonical stage constants.
func normalizeStage(name string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "species", "in-species", reduce.StageInSpecies:
		return reduce.StageInSpecies, true
	case "redundant", reduce.StageRedundant:
		return reduce.StageRedundant, true
	case "aligners", reduce.StageAligners:
		return reduce.StageAligners, true
	default:
		return "", false
	}
}

// HandleHealth reports service liveness and registry size.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:         "healthy",
		Version:        ServiceVersion,
		Stores:         h.registry.Len(),
		ArchiveEnabled: h.arc != nil,
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
	})
}

// HandleCreateStore ingests an uploaded CSV or TSV table and registers it.
//
// The format comes from the `format` query parameter when present, otherwise
// from the Content-Type header, defaulting to CSV.
func (h *Handlers) HandleCreateStore(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleCreateStore")

	format := strings.ToLower(c.DefaultQuery("format", ""))
	if format == "" {
		if strings.Contains(c.ContentType(), "tab-separated") {
			format = "tsv"
		} else {
			format = "csv"
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.cfg.MaxUploadBytes+1))
	if err != nil {
		respondError(c, logger, fmt.Errorf("reading upload: %w", err))
		return
	}
	if int64(len(body)) > h.cfg.MaxUploadBytes {
		respondError(c, logger, ErrUploadTooLarge)
		return
	}
	if len(body) == 0 {
		respondError(c, logger, ErrEmptyUpload)
		return
	}

	var s *record.Store
	switch format {
	case "csv":
		s, err = seqio.ReadCSV(bytes.NewReader(body))
	case "tsv":
		s, err = seqio.ReadTSV(bytes.NewReader(body))
	default:
		respondError(c, logger, fmt.Errorf("%w: %q", ErrUnknownFormat, format))
		return
	}
	if err != nil {
		respondError(c, logger, err)
		return
	}

	id := h.registry.Put(s, "upload")
	if h.metrics != nil {
		h.metrics.StoreLoadsTotal.Add(c.Request.Context(), 1, metric.WithAttributes(
			attribute.String("format", format),
			attribute.String("status", "success"),
		))
		h.metrics.RecordsLoadedTotal.Add(c.Request.Context(), int64(s.Len()))
	}
	logger.Info("store created",
		"store_id", id,
		"format", format,
		"rows", s.Len(),
		"kept", s.KeptCount())
	c.JSON(http.StatusCreated, StoreCreatedResponse{
		StoreID: id,
		Rows:    s.Len(),
		Kept:    s.KeptCount(),
	})
}

// HandleGetStore summarizes a registered store: row counts, aligned length,
// and per-species totals in first-appearance order.
func (h *Handlers) HandleGetStore(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleGetStore")

	id := c.Param("id")
	e, ok := h.registry.Get(id)
	if !ok {
		respondError(c, logger, fmt.Errorf("%w: %s", ErrStoreNotFound, id))
		return
	}

	c.JSON(http.StatusOK, StoreSummaryResponse{
		StoreID:       id,
		Source:        e.Source,
		CreatedAt:     e.CreatedAt,
		Rows:          e.Store.Len(),
		Kept:          e.Store.KeptCount(),
		AlignedLength: e.Store.AlignedLength(),
		Species:       speciesCounts(e.Store),
	})
}

// speciesCounts tallies rows and kept rows per species, preserving the
// species' first-appearance order in the store.
func speciesCounts(s *record.Store) []SpeciesCount {
	index := make(map[string]int)
	counts := make([]SpeciesCount, 0)
	for _, r := range s.Records() {
		i, ok := index[r.Species]
		if !ok {
			i = len(counts)
			index[r.Species] = i
			counts = append(counts, SpeciesCount{Species: r.Species})
		}
		counts[i].Rows++
		if r.Keep {
			counts[i].Kept++
		}
	}
	return counts
}

// HandleListRecords lists a store's rows, optionally filtered by the
// `species` and `kept` query parameters.
func (h *Handlers) HandleListRecords(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleListRecords")

	id := c.Param("id")
	e, ok := h.registry.Get(id)
	if !ok {
		respondError(c, logger, fmt.Errorf("%w: %s", ErrStoreNotFound, id))
		return
	}

	species := c.Query("species")
	keptParam := c.Query("kept")
	filterKept := keptParam != ""
	var wantKept bool
	if filterKept {
		v, err := strconv.ParseBool(keptParam)
		if err != nil {
			logger.Warn("request rejected", "error", err)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: fmt.Sprintf("invalid kept filter %q", keptParam),
				Code:  "INVALID_QUERY",
			})
			return
		}
		wantKept = v
	}

	records := make([]record.SequenceRecord, 0, e.Store.Len())
	for _, r := range e.Store.Records() {
		if species != "" && r.Species != species {
			continue
		}
		if filterKept && r.Keep != wantKept {
			continue
		}
		records = append(records, r)
	}

	c.JSON(http.StatusOK, RecordsResponse{
		StoreID: id,
		Count:   len(records),
		Records: records,
	})
}

// HandleShrink runs one curation stage over a registered store and registers
// the curated result as a new store.
//
// Description:
//
//	The request names the stage, accepting both the canonical names and the
//	short CLI forms (species, redundant, aligners). Numeric parameters fall
//	back to the server defaults when absent. The job semaphore bounds
//	concurrent stage runs; saturated servers reject rather than queue.
//
// Outputs:
//   - 200 with the new store id and the stage report.
//   - 400 for unknown stages, bad thresholds, or schema violations.
//   - 404 when the store id is not registered.
//   - 429 when the job semaphore is exhausted.
func (h *Handlers) HandleShrink(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleShrink")

	id := c.Param("id")
	e, ok := h.registry.Get(id)
	if !ok {
		respondError(c, logger, fmt.Errorf("%w: %s", ErrStoreNotFound, id))
		return
	}

	var req ShrinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("request rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	stage, ok := normalizeStage(req.Stage)
	if !ok {
		respondError(c, logger, fmt.Errorf("%w: %q", ErrUnknownStage, req.Stage))
		return
	}

	if !h.jobs.TryAcquire(1) {
		respondError(c, logger, ErrTooManyJobs)
		return
	}
	defer h.jobs.Release(1)

	ctx, span := telemetry.StartSpan(c.Request.Context(), "seqcull.server", "server.shrink",
		trace.WithAttributes(attribute.String("stage", stage)))
	defer span.End()

	start := time.Now()
	out, rep, err := h.runStage(ctx, e.Store, stage, req)
	h.recordShrink(ctx, stage, time.Since(start), rep, err)
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, logger, err)
		return
	}

	resultID := h.registry.Put(out, "shrink:"+stage)
	logger.Info("shrink completed",
		"stage", stage,
		"store_id", id,
		"result_store_id", resultID,
		"kept_before", rep.KeptBefore,
		"kept_after", rep.KeptAfter,
		"excluded", len(rep.Excluded))
	c.JSON(http.StatusOK, ShrinkResponse{StoreID: resultID, Report: rep})
}

// runStage dispatches one stage with request parameters over the defaults.
func (h *Handlers) runStage(ctx context.Context, s *record.Store, stage string, req ShrinkRequest) (*record.Store, *reduce.Report, error) {
	switch stage {
	case reduce.StageInSpecies:
		threshold := h.cfg.InSpeciesThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		return reduce.ShrinkInSpecies(ctx, s, threshold)
	case reduce.StageRedundant:
		threshold := h.cfg.RedundantThreshold
		if req.Threshold != nil {
			threshold = *req.Threshold
		}
		return reduce.ShrinkRedundant(ctx, s, threshold)
	case reduce.StageAligners:
		crit := h.cfg.Criteria
		if req.MaxGapFraction != nil {
			crit.MaxGapFraction = *req.MaxGapFraction
		}
		if req.MaxLengthDeviation != nil {
			crit.MaxLengthDeviation = *req.MaxLengthDeviation
		}
		return reduce.ShrinkAligners(ctx, s, crit)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
}

// recordShrink records stage metrics when metrics are enabled.
func (h *Handlers) recordShrink(ctx context.Context, stage string, elapsed time.Duration, rep *reduce.Report, err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.ShrinkRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
	h.metrics.ShrinkDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
	))
	if rep != nil && len(rep.Excluded) > 0 {
		h.metrics.RecordsExcludedTotal.Add(ctx, int64(len(rep.Excluded)), metric.WithAttributes(
			attribute.String("stage", stage),
		))
	}
}

// HandlePipeline runs a staged pipeline over a registered store and registers
// the curated result as a new store.
//
// An empty request body runs the configured default stages. When the server
// has an archive, per-stage snapshots and the manifest are persisted and the
// run becomes resumable through the CLI.
func (h *Handlers) HandlePipeline(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandlePipeline")

	id := c.Param("id")
	e, ok := h.registry.Get(id)
	if !ok {
		respondError(c, logger, fmt.Errorf("%w: %s", ErrStoreNotFound, id))
		return
	}

	var req PipelineRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("request rejected", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	stages, err := h.buildStages(req)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	if !h.jobs.TryAcquire(1) {
		respondError(c, logger, ErrTooManyJobs)
		return
	}
	defer h.jobs.Release(1)

	b := pipeline.NewBuilder(h.cfg.PipelineName).
		Add(stages...).
		WithLogger(logger)
	if h.arc != nil {
		b = b.WithArchive(h.arc)
	}
	p, err := b.Build()
	if err != nil {
		respondError(c, logger, err)
		return
	}

	ctx, span := telemetry.StartSpan(c.Request.Context(), "seqcull.server", "server.pipeline",
		trace.WithAttributes(attribute.Int("stages", len(stages))))
	defer span.End()

	start := time.Now()
	res, err := p.Run(ctx, e.Store)
	h.recordPipeline(ctx, time.Since(start), err)
	if err != nil {
		telemetry.RecordError(span, err)
		respondError(c, logger, err)
		return
	}

	resultID := h.registry.Put(res.Store, "pipeline:"+res.RunID)
	logger.Info("pipeline completed",
		"run_id", res.RunID,
		"store_id", id,
		"result_store_id", resultID,
		"stages", len(res.Reports),
		"kept", res.Store.KeptCount())
	c.JSON(http.StatusOK, PipelineResponse{
		RunID:    res.RunID,
		StoreID:  resultID,
		Rows:     res.Store.Len(),
		Kept:     res.Store.KeptCount(),
		Reports:  res.Reports,
		Manifest: res.Manifest,
	})
}

// recordPipeline records pipeline run metrics when metrics are enabled.
func (h *Handlers) recordPipeline(ctx context.Context, elapsed time.Duration, err error) {
	if h.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	h.metrics.PipelineRunsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
	h.metrics.PipelineDuration.Record(ctx, elapsed.Seconds())
}

// buildStages resolves the requested stage list, or the configured default,
// into pipeline stages with request parameters over the defaults.
func (h *Handlers) buildStages(req PipelineRequest) ([]pipeline.Stage, error) {
	names := req.Stages
	if len(names) == 0 {
		names = h.cfg.PipelineStages
	}
	stages := make([]pipeline.Stage, 0, len(names))
	for _, raw := range names {
		name, ok := normalizeStage(raw)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, raw)
		}
		switch name {
		case reduce.StageInSpecies:
			threshold := h.cfg.InSpeciesThreshold
			if req.InSpeciesThreshold != nil {
				threshold = *req.InSpeciesThreshold
			}
			stages = append(stages, pipeline.InSpecies(threshold))
		case reduce.StageRedundant:
			threshold := h.cfg.RedundantThreshold
			if req.RedundantThreshold != nil {
				threshold = *req.RedundantThreshold
			}
			stages = append(stages, pipeline.Redundant(threshold))
		case reduce.StageAligners:
			crit := h.cfg.Criteria
			if req.MaxGapFraction != nil {
				crit.MaxGapFraction = *req.MaxGapFraction
			}
			if req.MaxLengthDeviation != nil {
				crit.MaxLengthDeviation = *req.MaxLengthDeviation
			}
			stages = append(stages, pipeline.Aligners(crit))
		}
	}
	return stages, nil
}

// HandleListRuns lists archived run ids. Servers without an archive reject
// the query.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleListRuns")

	if h.arc == nil {
		respondError(c, logger, ErrArchiveDisabled)
		return
	}

	runs, err := h.arc.Runs(c.Request.Context())
	if err != nil {
		respondError(c, logger, err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs})
}

// HandleDeleteStore evicts a store from the registry.
func (h *Handlers) HandleDeleteStore(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With("request_id", requestID, "handler", "HandleDeleteStore")

	id := c.Param("id")
	if !h.registry.Delete(id) {
		respondError(c, logger, fmt.Errorf("%w: %s", ErrStoreNotFound, id))
		return
	}
	logger.Info("store deleted", "store_id", id)
	c.JSON(http.StatusOK, StoreDeletedResponse{StoreID: id, Deleted: true})
}
