// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package reduce implements the redundancy-reduction stages of the curation
// pipeline.
//
// Each stage is a pure function from a record store to a new record store:
// the input is never mutated, rows are never added or removed, and the only
// field a stage ever changes is the Keep flag, which it can flip from true
// to false. A stage that fails for any reason hands the caller the original
// store back together with the error, so there is no partially applied
// state to reason about.
package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cladeworks/seqcull/align"
	"github.com/cladeworks/seqcull/record"
)

// Stage names as they appear in reports, logs and metric labels.
const (
	StageInSpecies = "shrink-in-species"
	StageRedundant = "shrink-redundant"
	StageAligners  = "shrink-aligners"
)

// Report summarizes what one stage run did.
type Report struct {
	// Stage is one of the Stage* constants.
	Stage string `json:"stage"`

	// Threshold is the similarity cutoff used. Zero for the aligner stage.
	Threshold float64 `json:"threshold,omitempty"`

	// Groups is the number of comparison groups examined.
	Groups int `json:"groups"`

	// Pairs is the number of pairwise comparisons scored.
	Pairs int `json:"pairs"`

	// Clusters is the number of similarity clusters with two or more
	// members.
	Clusters int `json:"clusters"`

	// Excluded lists the rows whose keep flag was cleared, in cluster
	// resolution order.
	Excluded []string `json:"excluded,omitempty"`

	// KeptBefore and KeptAfter count kept rows on entry and exit.
	KeptBefore int `json:"kept_before"`
	KeptAfter  int `json:"kept_after"`

	// Elapsed is the wall time the stage took, in nanoseconds.
	Elapsed time.Duration `json:"elapsed"`
}

type options struct {
	scoring     align.Scoring
	serialLimit int
	maxWorkers  int
}

// Option adjusts how a stage scores similarity.
type Option func(*options)

// WithScoring overrides the global-alignment scoring parameters used when
// records carry no precomputed alignment.
func WithScoring(sc align.Scoring) Option {
	return func(o *options) { o.scoring = sc }
}

// WithWorkers caps the scoring worker pool. Zero or negative keeps the
// automatic bound derived from the CPU count.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{
		scoring:     align.DefaultScoring(),
		serialLimit: serialPairThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ShrinkInSpecies collapses near-duplicate rows inside each species.
//
// Description:
//
//	Kept rows are grouped by species and every pair within a group is
//	scored. Pairs at or above the threshold connect their rows, and the
//	transitive closure of those connections forms clusters, so two rows
//	can share a cluster through an intermediate row even when they score
//	below the threshold against each other. Each cluster keeps its
//	always-keep members if it has any, and otherwise its longest sequence,
//	with the lexicographically lowest UID breaking length ties. Everything
//	else in the cluster is excluded. Rows in other species never affect
//	the outcome.
//
// Inputs:
//   - ctx: Context for cancellation. Deadlines are the caller's business;
//     the stage itself never times out.
//   - s: the store to curate. Must pass validation.
//   - threshold: similarity cutoff on the closed interval [0, 1].
//
// Outputs:
//   - *record.Store: a new store on success, the untouched input on failure.
//   - *Report: stage statistics, nil on failure.
//   - error: nil, or why the stage refused to run.
func ShrinkInSpecies(ctx context.Context, s *record.Store, threshold float64, opts ...Option) (*record.Store, *Report, error) {
	initMetrics()
	ctx, span := tracer.Start(ctx, "reduce.ShrinkInSpecies",
		trace.WithAttributes(
			attribute.Float64("threshold", threshold),
		),
	)
	defer span.End()

	o := applyOptions(opts)
	if err := checkStageInput(s, threshold); err != nil {
		return failStage(ctx, span, StageInSpecies, s, err)
	}

	idx := record.GroupBySpecies(s)
	groups := make([][]string, 0, idx.Len())
	for _, g := range idx.Groups() {
		groups = append(groups, g.UIDs)
	}

	out, rep, err := shrinkGroups(ctx, s, StageInSpecies, groups, threshold, o)
	if err != nil {
		return failStage(ctx, span, StageInSpecies, s, err)
	}
	finishStageSpan(span, rep)
	return out, rep, nil
}

// ShrinkRedundant collapses near-duplicate rows across the whole kept set,
// ignoring species boundaries.
//
// Description:
//
//	Clustering and survivor selection work exactly as in ShrinkInSpecies,
//	over a single group holding every kept row. The stage is conventionally
//	run after ShrinkInSpecies to catch cross-species redundancy, but it is
//	a pure function of its input and does not care what produced the store.
//	Running it twice with the same threshold changes nothing the second
//	time: after one pass every surviving pair scores below the threshold.
//
// Inputs and outputs match ShrinkInSpecies.
func ShrinkRedundant(ctx context.Context, s *record.Store, threshold float64, opts ...Option) (*record.Store, *Report, error) {
	initMetrics()
	ctx, span := tracer.Start(ctx, "reduce.ShrinkRedundant",
		trace.WithAttributes(
			attribute.Float64("threshold", threshold),
		),
	)
	defer span.End()

	o := applyOptions(opts)
	if err := checkStageInput(s, threshold); err != nil {
		return failStage(ctx, span, StageRedundant, s, err)
	}

	groups := [][]string{s.KeptUIDs()}

	out, rep, err := shrinkGroups(ctx, s, StageRedundant, groups, threshold, o)
	if err != nil {
		return failStage(ctx, span, StageRedundant, s, err)
	}
	finishStageSpan(span, rep)
	return out, rep, nil
}

func checkStageInput(s *record.Store, threshold float64) error {
	if s == nil {
		return record.ErrNilStore
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: %g", record.ErrInvalidThreshold, threshold)
	}
	return s.Validate()
}

// shrinkGroups scores each group's pairs, clusters them and clears the keep
// flag on every cluster member the survivor policy does not protect.
// Cluster and survivor resolution run single-threaded on the sorted scores,
// so the outcome does not depend on scoring parallelism.
func shrinkGroups(ctx context.Context, s *record.Store, stage string, groups [][]string, threshold float64, o options) (*record.Store, *Report, error) {
	start := time.Now()

	pairs := collectPairs(s, groups)
	slog.Debug("scoring similarity pairs",
		slog.String("stage", stage),
		slog.Int("groups", len(groups)),
		slog.Int("pairs", len(pairs)),
	)

	scores, err := scorePairs(ctx, s, pairs, o)
	if err != nil {
		return s, nil, err
	}

	excluded, clusters := resolveClusters(s, groups, scores, threshold)

	out, err := s.Exclude(excluded)
	if err != nil {
		return s, nil, err
	}

	rep := &Report{
		Stage:      stage,
		Threshold:  threshold,
		Groups:     len(groups),
		Pairs:      len(pairs),
		Clusters:   clusters,
		Excluded:   excluded,
		KeptBefore: s.KeptCount(),
		KeptAfter:  out.KeptCount(),
		Elapsed:    time.Since(start),
	}
	recordStageMetrics(ctx, rep)

	slog.Info("curation stage completed",
		slog.String("stage", stage),
		slog.Int("kept_before", rep.KeptBefore),
		slog.Int("kept_after", rep.KeptAfter),
		slog.Int("excluded", len(rep.Excluded)),
		slog.Duration("elapsed", rep.Elapsed),
	)
	return out, rep, nil
}

// resolveClusters unions every pair at or above the threshold and collects
// the exclusions from each resulting cluster.
func resolveClusters(s *record.Store, groups [][]string, scores []pairScore, threshold float64) (excluded []string, clusters int) {
	ids := make(map[string]int)
	var uids []string
	for _, group := range groups {
		for _, uid := range group {
			if _, ok := ids[uid]; !ok {
				ids[uid] = len(uids)
				uids = append(uids, uid)
			}
		}
	}

	uf := newUnionFind(len(uids))
	for _, sc := range scores {
		if sc.Score >= threshold {
			uf.union(ids[sc.UIDA], ids[sc.UIDB])
		}
	}

	for _, comp := range uf.components() {
		if len(comp) < 2 {
			continue
		}
		clusters++
		members := make([]string, len(comp))
		for i, id := range comp {
			members[i] = uids[id]
		}
		excluded = append(excluded, chooseExclusions(s, members)...)
	}
	return excluded, clusters
}

// chooseExclusions picks which members of one cluster lose their keep flag.
//
// Any always-keep member survives, and when several are marked they all do.
// Otherwise the longest sequence survives, with the lexicographically lowest
// UID breaking length ties.
func chooseExclusions(s *record.Store, members []string) []string {
	protected := 0
	for _, uid := range members {
		if r, ok := s.Record(uid); ok && r.AlwaysKeep {
			protected++
		}
	}
	if protected > 0 {
		out := make([]string, 0, len(members)-protected)
		for _, uid := range members {
			if r, ok := s.Record(uid); ok && !r.AlwaysKeep {
				out = append(out, uid)
			}
		}
		return out
	}

	best := members[0]
	bestRec, _ := s.Record(best)
	for _, uid := range members[1:] {
		r, _ := s.Record(uid)
		if len(r.Sequence) > len(bestRec.Sequence) ||
			(len(r.Sequence) == len(bestRec.Sequence) && uid < best) {
			best, bestRec = uid, r
		}
	}

	out := make([]string, 0, len(members)-1)
	for _, uid := range members {
		if uid != best {
			out = append(out, uid)
		}
	}
	return out
}

func failStage(ctx context.Context, span trace.Span, stage string, s *record.Store, err error) (*record.Store, *Report, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if stageFailures != nil {
		stageFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
	slog.Error("curation stage failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	return s, nil, err
}

func finishStageSpan(span trace.Span, rep *Report) {
	span.SetAttributes(
		attribute.Int("groups", rep.Groups),
		attribute.Int("pairs", rep.Pairs),
		attribute.Int("clusters", rep.Clusters),
		attribute.Int("excluded", len(rep.Excluded)),
		attribute.Int("kept_after", rep.KeptAfter),
	)
	span.SetStatus(codes.Ok, "")
}

func recordStageMetrics(ctx context.Context, rep *Report) {
	attrs := metric.WithAttributes(attribute.String("stage", rep.Stage))
	if stageLatency != nil {
		stageLatency.Record(ctx, rep.Elapsed.Seconds(), attrs)
	}
	if pairsScored != nil {
		pairsScored.Add(ctx, int64(rep.Pairs), attrs)
	}
	if rowsExcluded != nil {
		rowsExcluded.Add(ctx, int64(len(rep.Excluded)), attrs)
	}
}
