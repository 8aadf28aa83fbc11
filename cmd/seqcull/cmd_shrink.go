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

	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
	"github.com/spf13/cobra"
)

func runShrinkSpecies(cmd *cobra.Command, args []string) {
	thr := resolveThreshold(cmd, config.Global.Curation.InSpeciesThreshold)
	runShrinkStage(args[0], reduce.StageInSpecies,
		func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkInSpecies(ctx, s, thr, curationOptions(cmd)...)
		})
}

func runShrinkRedundant(cmd *cobra.Command, args []string) {
	thr := resolveThreshold(cmd, config.Global.Curation.RedundantThreshold)
	runShrinkStage(args[0], reduce.StageRedundant,
		func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkRedundant(ctx, s, thr, curationOptions(cmd)...)
		})
}

func runShrinkAligners(cmd *cobra.Command, args []string) {
	crit := resolveCriteria(cmd)
	runShrinkStage(args[0], reduce.StageAligners,
		func(ctx context.Context, s *record.Store) (*record.Store, *reduce.Report, error) {
			return reduce.ShrinkAligners(ctx, s, crit)
		})
}

type stageFunc func(context.Context, *record.Store) (*record.Store, *reduce.Report, error)

// runShrinkStage loads the table, runs one stage, and writes the result.
func runShrinkStage(input, stage string, fn stageFunc) {
	s, err := loadStoreArg(input)
	if err != nil {
		slog.Error("Failed to load table", "path", input, "error", err)
		ux.Error(fmt.Sprintf("Cannot load %s: %v", input, err))
		return
	}
	fmt.Printf("Loaded %d records (%d kept) from %s\n", s.Len(), s.KeptCount(), input)

	out := resolveOutputPath(input)
	ctx := context.Background()
	var result *record.Store
	var rep *reduce.Report
	err = ux.WithSpinner(fmt.Sprintf("Running %s", stage), func() error {
		var stageErr error
		result, rep, stageErr = fn(ctx, s)
		return stageErr
	})
	if err != nil {
		slog.Error("Stage failed", "stage", stage, "error", err)
		return
	}

	stageReport(rep)

	if err := writeStoreOut(out, result); err != nil {
		slog.Error("Failed to write output", "path", out, "error", err)
		ux.Error(fmt.Sprintf("Cannot write %s: %v", out, err))
		return
	}

	summarizeStore(result)
	ux.Success(fmt.Sprintf("Wrote %s", out))
}
