// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline chains curation stages into resumable runs.
//
// A Pipeline executes its stages in order, each one producing a new store
// from the previous one. Every run is described by a Manifest; when an
// archive is attached, post-stage snapshots make the run resumable after
// the last completed stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
)

var (
	tracer = otel.Tracer("seqcull.pipeline")
	meter  = otel.Meter("seqcull.pipeline")
)

// validNamePattern defines valid characters for pipeline and stage names:
// alphanumeric, underscore, hyphen.
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Archiver persists post-stage snapshots and run manifests. The archive
// package provides the BadgerDB implementation.
type Archiver interface {
	// SaveSnapshot stores a post-stage snapshot and returns its key.
	SaveSnapshot(ctx context.Context, runID, stage string, s *record.Store) (string, error)

	// LoadSnapshot restores a previously saved snapshot.
	LoadSnapshot(ctx context.Context, runID, stage string) (*record.Store, error)

	// SaveManifest stores the sealed manifest bytes for a run.
	SaveManifest(ctx context.Context, runID string, data []byte) error
}

// Result is the outcome of a completed pipeline run.
type Result struct {
	RunID    string
	Store    *record.Store
	Reports  []*reduce.Report
	Manifest *Manifest
	Duration time.Duration
}

// Builder assembles a named pipeline from stages.
type Builder struct {
	name        string
	stages      []Stage
	logger      *slog.Logger
	archive     Archiver
	manifestDir string
}

// NewBuilder creates a builder for a pipeline with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Add appends stages in execution order.
func (b *Builder) Add(stages ...Stage) *Builder {
	b.stages = append(b.stages, stages...)
	return b
}

// WithLogger sets the logger for run and stage logs. Defaults to
// slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithArchive attaches an archive for snapshots and manifests, making runs
// resumable.
func (b *Builder) WithArchive(a Archiver) *Builder {
	b.archive = a
	return b
}

// WithManifestDir also writes each run's manifest to a JSON file in dir.
func (b *Builder) WithManifestDir(dir string) *Builder {
	b.manifestDir = dir
	return b
}

// Build validates the configuration and returns the pipeline.
//
// Outputs:
//
//	*Pipeline - The configured pipeline.
//	error - Non-nil if the name is malformed, no stages were added, or
//	stage names collide.
func (b *Builder) Build() (*Pipeline, error) {
	if b.name == "" || !validNamePattern.MatchString(b.name) {
		return nil, fmt.Errorf("%w: pipeline name %q must match [a-zA-Z0-9_-]+", ErrInvalidName, b.name)
	}
	if len(b.stages) == 0 {
		return nil, ErrNoStages
	}

	seen := make(map[string]struct{}, len(b.stages))
	for _, stage := range b.stages {
		if stage == nil {
			return nil, fmt.Errorf("%w: nil stage", ErrInvalidName)
		}
		name := stage.Name()
		if name == "" || !validNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: stage name %q must match [a-zA-Z0-9_-]+", ErrInvalidName, name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateStage, name)
		}
		seen[name] = struct{}{}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		name:        b.name,
		stages:      b.stages,
		logger:      logger,
		archive:     b.archive,
		manifestDir: b.manifestDir,
	}, nil
}

// Pipeline runs curation stages in order with observability and manifest
// tracking.
//
// Thread Safety:
//
//	Pipeline is safe for concurrent use. Multiple runs can execute
//	concurrently on the same Pipeline.
type Pipeline struct {
	name        string
	stages      []Stage
	logger      *slog.Logger
	archive     Archiver
	manifestDir string

	// Metrics (initialized lazily)
	metricsOnce    sync.Once
	stageLatency   metric.Float64Histogram
	stageSuccesses metric.Int64Counter
	stageFailures  metric.Int64Counter
	runLatency     metric.Float64Histogram
}

// Name returns the pipeline name recorded in manifests.
func (p *Pipeline) Name() string { return p.name }

// StageNames returns the stage names in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, stage := range p.stages {
		names[i] = stage.Name()
	}
	return names
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (p *Pipeline) initMetrics() {
	p.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		p.stageLatency, err = meter.Float64Histogram("pipeline_stage_duration_seconds",
			metric.WithDescription("Time spent executing each pipeline stage"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_latency: "+err.Error())
		}

		p.stageSuccesses, err = meter.Int64Counter("pipeline_stage_success_total",
			metric.WithDescription("Number of completed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_successes: "+err.Error())
		}

		p.stageFailures, err = meter.Int64Counter("pipeline_stage_failure_total",
			metric.WithDescription("Number of failed stage executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "stage_failures: "+err.Error())
		}

		p.runLatency, err = meter.Float64Histogram("pipeline_run_duration_seconds",
			metric.WithDescription("Total pipeline run time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "run_latency: "+err.Error())
		}

		if len(initErrors) > 0 {
			p.logger.Error("failed to initialize some pipeline metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes every stage against the store.
//
// Description:
//
//	Stages run in order, each receiving the previous stage's output. After
//	each stage the manifest is persisted, and when an archive is attached a
//	snapshot of the stage output is stored. A stage failure stops the run;
//	the failure is recorded in the manifest before the error is returned.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	s - Input store. Must not be nil. Never mutated.
//
// Outputs:
//
//	*Result - Run id, final store, per-stage reports and the sealed
//	manifest. Nil on failure.
//	error - Non-nil if any stage, snapshot or manifest write fails.
func (p *Pipeline) Run(ctx context.Context, s *record.Store) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if s == nil {
		return nil, record.ErrNilStore
	}

	return p.run(ctx, s, newManifest(uuid.NewString(), p.name), 0)
}

// Resume restarts a run after its last completed stage.
//
// Description:
//
//	Verifies the manifest, matches its completed stages against this
//	pipeline, loads the snapshot of the last completed stage from the
//	archive and runs the remaining stages under the same run id. A failed
//	entry in the manifest is dropped so its stage is retried.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	m - Manifest from a previous run. Must not be nil.
//
// Outputs:
//
//	*Result - As for Run. When every stage already completed, the result
//	carries the last snapshot and no new reports.
//	error - Non-nil if verification, snapshot loading or a stage fails.
func (p *Pipeline) Resume(ctx context.Context, m *Manifest) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if m == nil {
		return nil, fmt.Errorf("%w: manifest must not be nil", ErrPipelineMismatch)
	}

	ctx, span := tracer.Start(ctx, "pipeline.Resume",
		trace.WithAttributes(
			attribute.String("pipeline.name", p.name),
			attribute.String("run.id", m.RunID),
		),
	)
	defer span.End()

	if m.Version != ManifestVersion {
		err := fmt.Errorf("%w: got %s, want %s", ErrManifestVersion, m.Version, ManifestVersion)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !m.Verify() {
		span.SetStatus(codes.Error, ErrManifestCorrupt.Error())
		return nil, ErrManifestCorrupt
	}
	if m.Pipeline != p.name {
		err := fmt.Errorf("%w: manifest is for pipeline %q, want %q", ErrPipelineMismatch, m.Pipeline, p.name)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	completed := 0
	for _, entry := range m.Stages {
		if entry.Status != StageCompleted {
			break
		}
		if completed >= len(p.stages) || p.stages[completed].Name() != entry.Name {
			err := fmt.Errorf("%w: completed stage %q has no match at position %d",
				ErrPipelineMismatch, entry.Name, completed)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		completed++
	}
	if completed == 0 {
		span.SetStatus(codes.Error, ErrNoCompletedStages.Error())
		return nil, ErrNoCompletedStages
	}
	if p.archive == nil {
		span.SetStatus(codes.Error, ErrNilArchive.Error())
		return nil, ErrNilArchive
	}

	lastStage := m.Stages[completed-1].Name
	s, err := p.archive.LoadSnapshot(ctx, m.RunID, lastStage)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load snapshot for stage %s: %w", lastStage, err)
	}

	p.logger.Info("resuming pipeline run",
		slog.String("run_id", m.RunID),
		slog.Int("completed_stages", completed),
		slog.Int("remaining_stages", len(p.stages)-completed),
	)

	resumed := &Manifest{
		RunID:     m.RunID,
		Pipeline:  m.Pipeline,
		Version:   m.Version,
		StartedAt: m.StartedAt,
		Stages:    append([]StageEntry(nil), m.Stages[:completed]...),
	}

	if completed == len(p.stages) {
		if _, err := resumed.Encode(); err != nil {
			return nil, err
		}
		p.logger.Info("nothing to resume, all stages completed",
			slog.String("run_id", m.RunID))
		return &Result{RunID: m.RunID, Store: s, Manifest: resumed}, nil
	}

	return p.run(ctx, s, resumed, completed)
}

// run executes stages[startIdx:] against s, appending to the manifest as it
// goes. The manifest is persisted after every stage, including a failed one.
func (p *Pipeline) run(ctx context.Context, s *record.Store, m *Manifest, startIdx int) (*Result, error) {
	p.initMetrics()

	ctx, span := tracer.Start(ctx, "pipeline.Run",
		trace.WithAttributes(
			attribute.String("pipeline.name", p.name),
			attribute.String("run.id", m.RunID),
			attribute.Int("pipeline.stage_count", len(p.stages)),
		),
	)
	defer span.End()

	start := time.Now()

	p.logger.Info("pipeline started",
		slog.String("pipeline", p.name),
		slog.String("run_id", m.RunID),
		slog.Int("stages", len(p.stages)-startIdx),
		slog.Int("kept", s.KeptCount()),
	)

	cur := s
	reports := make([]*reduce.Report, 0, len(p.stages)-startIdx)

	for i := startIdx; i < len(p.stages); i++ {
		stage := p.stages[i]

		if err := ctx.Err(); err != nil {
			return nil, p.failStage(ctx, span, m, stage, cur, 0, err)
		}

		stageCtx, stageSpan := tracer.Start(ctx, "pipeline.Stage",
			trace.WithAttributes(
				attribute.String("stage.name", stage.Name()),
				attribute.String("run.id", m.RunID),
			),
		)

		stageStart := time.Now()
		out, rep, err := stage.Run(stageCtx, cur)
		elapsed := time.Since(stageStart)

		if err != nil {
			stageSpan.RecordError(err)
			stageSpan.SetStatus(codes.Error, err.Error())
			stageSpan.End()
			return nil, p.failStage(ctx, span, m, stage, cur, elapsed, err)
		}
		stageSpan.End()

		entry := StageEntry{
			Name:       stage.Name(),
			Status:     StageCompleted,
			DurationMS: elapsed.Milliseconds(),
		}
		if ps, ok := stage.(paramStage); ok {
			entry.Params = ps.Params()
		}
		if rep != nil {
			entry.KeptBefore = rep.KeptBefore
			entry.KeptAfter = rep.KeptAfter
			entry.Excluded = len(rep.Excluded)
			reports = append(reports, rep)
		} else {
			entry.KeptBefore = cur.KeptCount()
			entry.KeptAfter = out.KeptCount()
			entry.Excluded = entry.KeptBefore - entry.KeptAfter
		}

		if p.archive != nil {
			key, err := p.archive.SaveSnapshot(ctx, m.RunID, stage.Name(), out)
			if err != nil {
				return nil, fmt.Errorf("snapshot stage %s: %w", stage.Name(), err)
			}
			entry.SnapshotKey = key
		}

		m.Stages = append(m.Stages, entry)
		if err := p.persistManifest(ctx, m); err != nil {
			return nil, err
		}

		if p.stageLatency != nil {
			p.stageLatency.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(attribute.String("stage", stage.Name())))
		}
		if p.stageSuccesses != nil {
			p.stageSuccesses.Add(ctx, 1,
				metric.WithAttributes(attribute.String("stage", stage.Name())))
		}

		p.logger.Info("pipeline stage completed",
			slog.String("run_id", m.RunID),
			slog.String("stage", stage.Name()),
			slog.Int("kept_before", entry.KeptBefore),
			slog.Int("kept_after", entry.KeptAfter),
			slog.Int("excluded", entry.Excluded),
			slog.Duration("elapsed", elapsed),
		)

		cur = out
	}

	duration := time.Since(start)
	if p.runLatency != nil {
		p.runLatency.Record(ctx, duration.Seconds(),
			metric.WithAttributes(attribute.String("pipeline", p.name)))
	}
	span.SetAttributes(attribute.Int("pipeline.kept_after", cur.KeptCount()))

	p.logger.Info("pipeline completed",
		slog.String("pipeline", p.name),
		slog.String("run_id", m.RunID),
		slog.Int("kept", cur.KeptCount()),
		slog.Duration("elapsed", duration),
	)

	return &Result{
		RunID:    m.RunID,
		Store:    cur,
		Reports:  reports,
		Manifest: m,
		Duration: duration,
	}, nil
}

// failStage records the failed stage in the manifest, persists it best
// effort, and returns the wrapped stage error.
func (p *Pipeline) failStage(ctx context.Context, span trace.Span, m *Manifest, stage Stage, cur *record.Store, elapsed time.Duration, err error) error {
	entry := StageEntry{
		Name:       stage.Name(),
		Status:     StageFailed,
		KeptBefore: cur.KeptCount(),
		KeptAfter:  cur.KeptCount(),
		DurationMS: elapsed.Milliseconds(),
		Error:      err.Error(),
	}
	if ps, ok := stage.(paramStage); ok {
		entry.Params = ps.Params()
	}
	m.Stages = append(m.Stages, entry)

	if persistErr := p.persistManifest(ctx, m); persistErr != nil {
		p.logger.Error("failed to persist manifest after stage failure",
			slog.String("run_id", m.RunID),
			slog.String("error", persistErr.Error()),
		)
	}

	if p.stageFailures != nil {
		p.stageFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage.Name())))
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	p.logger.Error("pipeline stage failed",
		slog.String("run_id", m.RunID),
		slog.String("stage", stage.Name()),
		slog.String("error", err.Error()),
	)

	return fmt.Errorf("stage %s: %w", stage.Name(), err)
}

// persistManifest seals the manifest and writes it to every configured sink.
func (p *Pipeline) persistManifest(ctx context.Context, m *Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}

	if p.archive != nil {
		if err := p.archive.SaveManifest(ctx, m.RunID, data); err != nil {
			return fmt.Errorf("save manifest for run %s: %w", m.RunID, err)
		}
	}
	if p.manifestDir != "" {
		if err := m.Save(filepath.Join(p.manifestDir, m.RunID+".json")); err != nil {
			return err
		}
	}
	return nil
}
