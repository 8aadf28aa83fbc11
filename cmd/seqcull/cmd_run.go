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

	"github.com/cladeworks/seqcull/archive"
	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pipeline"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/cladeworks/seqcull/record"
	"github.com/spf13/cobra"
)

// pipelineName labels CLI runs in manifests. Resume matches on it.
const pipelineName = "curation"

func runPipeline(cmd *cobra.Command, args []string) {
	input := args[0]

	stages, err := buildStageList(cmd, runStages)
	if err != nil {
		slog.Error("Invalid stage list", "error", err)
		ux.Error(err.Error())
		return
	}

	arc := openRunArchive()
	if arc != nil {
		defer func() {
			if closeErr := arc.Close(); closeErr != nil {
				slog.Warn("Failed to close archive", "error", closeErr)
			}
		}()
	}

	b := pipeline.NewBuilder(pipelineName).Add(stages...).WithLogger(slog.Default())
	if arc != nil {
		b = b.WithArchive(arc)
	}
	p, err := b.Build()
	if err != nil {
		slog.Error("Failed to build pipeline", "error", err)
		ux.Error(fmt.Sprintf("Cannot build pipeline: %v", err))
		return
	}

	ctx := context.Background()
	var res *pipeline.Result

	if resumeRunID != "" {
		if arc == nil {
			ux.Error("--resume needs an archive; pass --archive or enable it in the config")
			return
		}
		res, err = resumeRun(ctx, p, arc, resumeRunID)
	} else {
		var s *record.Store
		s, err = loadStoreArg(input)
		if err != nil {
			slog.Error("Failed to load table", "path", input, "error", err)
			ux.Error(fmt.Sprintf("Cannot load %s: %v", input, err))
			return
		}
		fmt.Printf("Loaded %d records (%d kept) from %s\n", s.Len(), s.KeptCount(), input)

		err = ux.WithSpinner("Running curation pipeline", func() error {
			var runErr error
			res, runErr = p.Run(ctx, s)
			return runErr
		})
	}
	if err != nil {
		slog.Error("Pipeline failed", "error", err)
		ux.Error(fmt.Sprintf("Pipeline failed: %v", err))
		return
	}

	for _, rep := range res.Reports {
		stageReport(rep)
	}

	out := resolveOutputPath(input)
	if err := writeStoreOut(out, res.Store); err != nil {
		slog.Error("Failed to write output", "path", out, "error", err)
		ux.Error(fmt.Sprintf("Cannot write %s: %v", out, err))
		return
	}

	summarizeStore(res.Store)
	ux.Success(fmt.Sprintf("Run %s complete, wrote %s in %.2fs", res.RunID, out, res.Duration.Seconds()))
}

// openRunArchive opens the archive named by --archive, falling back to the
// config when archiving is enabled there. Nil means no archiving.
func openRunArchive() *archive.Archive {
	dir := archiveDir
	if dir == "" && config.Global.Archive.Enabled {
		dir = config.Global.Archive.Dir
	}
	if dir == "" {
		return nil
	}
	arc, err := archive.Open(archive.DefaultConfig(expandHome(dir)))
	if err != nil {
		slog.Error("Failed to open archive", "dir", dir, "error", err)
		ux.Warning(fmt.Sprintf("Archive disabled: %v", err))
		return nil
	}
	return arc
}

// resumeRun loads an archived manifest and restarts the run after its last
// completed stage.
func resumeRun(ctx context.Context, p *pipeline.Pipeline, arc *archive.Archive, runID string) (*pipeline.Result, error) {
	data, err := arc.LoadManifest(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load manifest for run %s: %w", runID, err)
	}
	m, err := pipeline.DecodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("decode manifest for run %s: %w", runID, err)
	}

	fmt.Printf("Resuming run %s (%d archived stages)\n", runID, len(m.Stages))

	var res *pipeline.Result
	err = ux.WithSpinner("Resuming curation pipeline", func() error {
		var runErr error
		res, runErr = p.Resume(ctx, m)
		return runErr
	})
	return res, err
}
