// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pipeline"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
	"github.com/cladeworks/seqcull/seqio"
	"github.com/spf13/cobra"
)

// loadStoreArg reads the table at path into a validated store.
func loadStoreArg(path string) (*record.Store, error) {
	s, err := seqio.ReadTableFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return s, nil
}

// defaultOutputPath derives <name>.curated<ext> next to the input.
func defaultOutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if ext == "" {
		ext = ".csv"
	}
	return base + ".curated" + ext
}

// resolveOutputPath returns the -o flag value, or a derived default.
func resolveOutputPath(input string) string {
	if outputPath != "" {
		return outputPath
	}
	return defaultOutputPath(input)
}

func writeStoreOut(path string, s *record.Store) error {
	if err := seqio.WriteTableFile(path, s); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// stageReport prints one line of statistics for a completed stage.
func stageReport(rep *reduce.Report) {
	ux.Info(fmt.Sprintf("%s: %d groups, %d pairs, %d clusters, excluded %d (%.2fs)",
		rep.Stage, rep.Groups, rep.Pairs, rep.Clusters, len(rep.Excluded), rep.Elapsed.Seconds()))
}

// summarizeStore prints the kept/excluded/total counts for a store.
func summarizeStore(s *record.Store) {
	ux.Summary(s.KeptCount(), s.Len()-s.KeptCount(), s.Len())
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// resolveWorkers returns the --workers flag when set, else the config value.
func resolveWorkers(cmd *cobra.Command) int {
	if cmd.Flags().Changed("workers") {
		return workers
	}
	return config.Global.Curation.Workers
}

// curationOptions builds the reduce options shared by every similarity
// stage of this invocation.
func curationOptions(cmd *cobra.Command) []reduce.Option {
	var opts []reduce.Option
	if n := resolveWorkers(cmd); n > 0 {
		opts = append(opts, reduce.WithWorkers(n))
	}
	return opts
}

// resolveThreshold returns the --threshold flag when set, else the given
// config default.
func resolveThreshold(cmd *cobra.Command, fallback float64) float64 {
	if cmd.Flags().Changed("threshold") {
		return threshold
	}
	return fallback
}

// resolveCriteria merges the config bounds with explicit flags.
func resolveCriteria(cmd *cobra.Command) reduce.Criteria {
	c := reduce.Criteria{
		MaxGapFraction:     config.Global.Curation.MaxGapFraction,
		MaxLengthDeviation: config.Global.Curation.MaxLengthDeviation,
	}
	if cmd.Flags().Changed("max-gap-fraction") {
		c.MaxGapFraction = maxGapFraction
	}
	if cmd.Flags().Changed("max-length-deviation") {
		c.MaxLengthDeviation = maxLengthDeviation
	}
	return c
}

// stageFromName maps a user-facing stage name onto a pipeline stage with
// this invocation's parameters.
func stageFromName(cmd *cobra.Command, name string) (pipeline.Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "species", "in-species", reduce.StageInSpecies:
		thr := resolveThreshold(cmd, config.Global.Curation.InSpeciesThreshold)
		return pipeline.InSpecies(thr, curationOptions(cmd)...), nil
	case "redundant", reduce.StageRedundant:
		thr := resolveThreshold(cmd, config.Global.Curation.RedundantThreshold)
		return pipeline.Redundant(thr, curationOptions(cmd)...), nil
	case "aligners", reduce.StageAligners:
		return pipeline.Aligners(resolveCriteria(cmd)), nil
	default:
		return nil, fmt.Errorf("unknown stage %q (want species, redundant, or aligners)", name)
	}
}

// buildStageList maps the --stages flag onto pipeline stages.
func buildStageList(cmd *cobra.Command, names []string) ([]pipeline.Stage, error) {
	stages := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		st, err := stageFromName(cmd, name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, nil
}
