// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"strconv"

	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
)

// Stage is one step of a curation pipeline. Implementations must be pure:
// on success they return a new store, on failure they leave the input
// untouched and return the error.
type Stage interface {
	// Name identifies the stage inside manifests and snapshot keys.
	Name() string

	// Run applies the stage to a store.
	Run(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error)
}

// paramStage is implemented by stages that want their parameters recorded
// in the run manifest.
type paramStage interface {
	Params() map[string]string
}

type shrinkStage struct {
	name   string
	params map[string]string
	run    func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error)
}

func (st *shrinkStage) Name() string { return st.name }

func (st *shrinkStage) Params() map[string]string { return st.params }

func (st *shrinkStage) Run(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
	return st.run(ctx, s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// InSpecies returns the within-species redundancy stage.
func InSpecies(threshold float64, opts ...reduce.Option) Stage {
	return &shrinkStage{
		name:   reduce.StageInSpecies,
		params: map[string]string{"threshold": formatFloat(threshold)},
		run: func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkInSpecies(ctx, s, threshold, opts...)
		},
	}
}

// Redundant returns the store-wide redundancy stage.
func Redundant(threshold float64, opts ...reduce.Option) Stage {
	return &shrinkStage{
		name:   reduce.StageRedundant,
		params: map[string]string{"threshold": formatFloat(threshold)},
		run: func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkRedundant(ctx, s, threshold, opts...)
		},
	}
}

// Aligners returns the alignment-quality stage.
func Aligners(c reduce.Criteria) Stage {
	return &shrinkStage{
		name: reduce.StageAligners,
		params: map[string]string{
			"max_gap_fraction":     formatFloat(c.MaxGapFraction),
			"max_length_deviation": formatFloat(c.MaxLengthDeviation),
		},
		run: func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkAligners(ctx, s, c)
		},
	}
}
