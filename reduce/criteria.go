// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cladeworks/seqcull/align"
	"github.com/cladeworks/seqcull/record"
)

// Criteria bounds the alignment-quality metrics a kept row may have. A row
// whose metric exceeds a bound is excluded; a row exactly at a bound stays.
type Criteria struct {
	// MaxGapFraction is the largest share of gap columns an alignment may
	// carry, on the closed interval [0, 1].
	MaxGapFraction float64 `json:"max_gap_fraction" yaml:"max_gap_fraction"`

	// MaxLengthDeviation is the largest relative deviation of a row's
	// ungapped length from the median ungapped length of the kept set,
	// on the closed interval [0, 1].
	MaxLengthDeviation float64 `json:"max_length_deviation" yaml:"max_length_deviation"`
}

// DefaultCriteria returns the bounds used when the caller has no opinion.
func DefaultCriteria() Criteria {
	return Criteria{
		MaxGapFraction:     0.5,
		MaxLengthDeviation: 0.5,
	}
}

func (c Criteria) validate() error {
	if c.MaxGapFraction < 0 || c.MaxGapFraction > 1 {
		return fmt.Errorf("%w: max gap fraction %g", record.ErrInvalidThreshold, c.MaxGapFraction)
	}
	if c.MaxLengthDeviation < 0 || c.MaxLengthDeviation > 1 {
		return fmt.Errorf("%w: max length deviation %g", record.ErrInvalidThreshold, c.MaxLengthDeviation)
	}
	return nil
}

// ShrinkAligners excludes kept rows whose alignments look degenerate.
//
// Description:
//
//	Every kept row must carry a non-empty alignment; the stage refuses to
//	run otherwise. Two metrics are computed per row: the fraction of gap
//	columns in its alignment, and the relative deviation of its ungapped
//	length from the median ungapped length across the kept set. A row
//	exceeding either bound loses its keep flag unless it is marked
//	always-keep, in which case it stays untouched.
//
// Inputs:
//   - ctx: Context for tracing. The stage does no blocking work.
//   - s: the store to curate. Must pass validation.
//   - c: metric bounds, usually DefaultCriteria().
//
// Outputs:
//   - *record.Store: a new store on success, the untouched input on failure.
//   - *Report: stage statistics, nil on failure.
//   - error: nil, a *record.SchemaError when kept rows lack alignments, or
//     why the stage otherwise refused to run.
func ShrinkAligners(ctx context.Context, s *record.Store, c Criteria) (*record.Store, *Report, error) {
	initMetrics()
	ctx, span := tracer.Start(ctx, "reduce.ShrinkAligners",
		trace.WithAttributes(
			attribute.Float64("max_gap_fraction", c.MaxGapFraction),
			attribute.Float64("max_length_deviation", c.MaxLengthDeviation),
		),
	)
	defer span.End()

	if s == nil {
		return failStage(ctx, span, StageAligners, s, record.ErrNilStore)
	}
	if err := c.validate(); err != nil {
		return failStage(ctx, span, StageAligners, s, err)
	}
	if err := s.Validate(); err != nil {
		return failStage(ctx, span, StageAligners, s, err)
	}

	unaligned := 0
	for i := 0; i < s.Len(); i++ {
		if r := s.At(i); r.Keep && r.Alignment == "" {
			unaligned++
		}
	}
	if unaligned > 0 {
		err := &record.SchemaError{
			Missing: []string{"alignment"},
			Detail:  fmt.Sprintf("%d kept rows have no alignment", unaligned),
		}
		return failStage(ctx, span, StageAligners, s, err)
	}

	start := time.Now()
	median := medianUngappedLength(s)

	var excluded []string
	for i := 0; i < s.Len(); i++ {
		r := s.At(i)
		if !r.Keep || r.AlwaysKeep {
			continue
		}
		gaps := align.GapFraction(r.Alignment)
		dev := lengthDeviation(align.UngappedLength(r.Alignment), median)
		if gaps > c.MaxGapFraction || dev > c.MaxLengthDeviation {
			excluded = append(excluded, r.UID)
		}
	}

	out, err := s.Exclude(excluded)
	if err != nil {
		return failStage(ctx, span, StageAligners, s, err)
	}

	rep := &Report{
		Stage:      StageAligners,
		Excluded:   excluded,
		KeptBefore: s.KeptCount(),
		KeptAfter:  out.KeptCount(),
		Elapsed:    time.Since(start),
	}
	recordStageMetrics(ctx, rep)
	finishStageSpan(span, rep)

	slog.Info("curation stage completed",
		slog.String("stage", StageAligners),
		slog.Int("kept_before", rep.KeptBefore),
		slog.Int("kept_after", rep.KeptAfter),
		slog.Int("excluded", len(rep.Excluded)),
		slog.Duration("elapsed", rep.Elapsed),
	)
	return out, rep, nil
}

// medianUngappedLength computes the median over the kept rows, averaging the
// two middle values when the count is even.
func medianUngappedLength(s *record.Store) float64 {
	var lengths []int
	for i := 0; i < s.Len(); i++ {
		if r := s.At(i); r.Keep {
			lengths = append(lengths, align.UngappedLength(r.Alignment))
		}
	}
	if len(lengths) == 0 {
		return 0
	}

	sort.Ints(lengths)
	n := len(lengths)
	if n%2 == 1 {
		return float64(lengths[n/2])
	}
	return float64(lengths[n/2-1]+lengths[n/2]) / 2
}

// lengthDeviation is the distance from the median relative to the median. A
// zero median makes any non-zero length infinitely far away.
func lengthDeviation(length int, median float64) float64 {
	if median == 0 {
		if length == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(float64(length)-median) / median
}
