// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/cladeworks/seqcull/pkg/logging"
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath       string
	logLevel         string
	logJSON          bool
	quietMode        bool
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	outputPath         string
	threshold          float64
	maxGapFraction     float64
	maxLengthDeviation float64
	workers            int

	runStages   []string
	archiveDir  string
	resumeRunID string

	servePort  int
	serveDebug bool
	serveLoad  []string

	watchDebounceMS    int
	watchMinIntervalMS int

	exportAligned bool

	appLogger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "seqcull",
		Short: "Curate tabular records of biological sequences",
		Long: `Seqcull reduces redundancy in tables of biological sequences while
preserving row identity, order, and always-keep protections.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize UX personality from flags or environment
			switch {
			case quietMode:
				ux.SetPersonalityLevel(ux.PersonalityMachine)
			case personalityLevel != "":
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			default:
				ux.InitPersonality()
			}

			if err := config.LoadFrom(configPath); err != nil {
				ux.Error(fmt.Sprintf("Configuration error: %v", err))
				os.Exit(1)
			}

			initLogging(cmd)
		},
	}

	// --- Shrink ---
	shrinkCmd = &cobra.Command{
		Use:   "shrink",
		Short: "Run a single redundancy-reduction stage on a table",
	}
	shrinkSpeciesCmd = &cobra.Command{
		Use:   "species [table]",
		Short: "Collapse near-duplicate rows inside each species",
		Args:  cobra.ExactArgs(1),
		Run:   runShrinkSpecies, // Defined in cmd_shrink.go
	}
	shrinkRedundantCmd = &cobra.Command{
		Use:   "redundant [table]",
		Short: "Collapse near-duplicate rows across the whole table",
		Args:  cobra.ExactArgs(1),
		Run:   runShrinkRedundant, // Defined in cmd_shrink.go
	}
	shrinkAlignersCmd = &cobra.Command{
		Use:   "aligners [table]",
		Short: "Exclude rows whose alignments fail the quality bounds",
		Args:  cobra.ExactArgs(1),
		Run:   runShrinkAligners, // Defined in cmd_shrink.go
	}

	// --- Pipeline ---
	runCmd = &cobra.Command{
		Use:   "run [table]",
		Short: "Run the configured curation pipeline on a table",
		Args:  cobra.ExactArgs(1),
		Run:   runPipeline, // Defined in cmd_run.go
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the seqcull HTTP API",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Watch ---
	watchCmd = &cobra.Command{
		Use:   "watch [table]",
		Short: "Re-run the pipeline whenever the input table changes",
		Args:  cobra.ExactArgs(1),
		Run:   runWatch, // Defined in cmd_watch.go
	}

	// --- Export ---
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export kept rows to other sequence formats",
	}
	exportFastaCmd = &cobra.Command{
		Use:   "fasta [table]",
		Short: "Write the kept rows as FASTA",
		Args:  cobra.ExactArgs(1),
		Run:   runExportFasta, // Defined in cmd_export.go
	}

	// --- Stats ---
	statsCmd = &cobra.Command{
		Use:   "stats [table]",
		Short: "Show per-species kept and excluded counts",
		Args:  cobra.ExactArgs(1),
		Run:   runStats, // Defined in cmd_stats.go
	}
)

// init runs when the Go program starts
func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file path (default ~/.seqcull/seqcull.yaml, created on first run)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, or error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false,
		"Emit logs as JSON")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false,
		"Suppress decorative output and informational logs")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full, standard, minimal, or machine (scripting)")

	// Shrink commands
	rootCmd.AddCommand(shrinkCmd)
	shrinkCmd.AddCommand(shrinkSpeciesCmd)
	shrinkCmd.AddCommand(shrinkRedundantCmd)
	shrinkCmd.AddCommand(shrinkAlignersCmd)
	shrinkCmd.PersistentFlags().StringVarP(&outputPath, "output", "o", "",
		"Output table path (default <input>.curated<ext>)")
	shrinkCmd.PersistentFlags().IntVar(&workers, "workers", 0,
		"Cap on scoring workers (default from config, 0 = automatic)")
	shrinkSpeciesCmd.Flags().Float64Var(&threshold, "threshold", 0,
		"Similarity cutoff in [0, 1] (default from config)")
	shrinkRedundantCmd.Flags().Float64Var(&threshold, "threshold", 0,
		"Similarity cutoff in [0, 1] (default from config)")
	shrinkAlignersCmd.Flags().Float64Var(&maxGapFraction, "max-gap-fraction", 0,
		"Largest allowed gap share in [0, 1] (default from config)")
	shrinkAlignersCmd.Flags().Float64Var(&maxLengthDeviation, "max-length-deviation", 0,
		"Largest allowed deviation from the median ungapped length (default from config)")

	// Pipeline command
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"Output table path (default <input>.curated<ext>)")
	runCmd.Flags().StringSliceVar(&runStages, "stages", []string{"species", "redundant"},
		"Stages to run, in order: species, redundant, aligners")
	runCmd.Flags().StringVar(&archiveDir, "archive", "",
		"Archive directory for snapshots and manifests (default from config)")
	runCmd.Flags().StringVar(&resumeRunID, "resume", "",
		"Resume an archived run after its last completed stage")
	runCmd.Flags().IntVar(&workers, "workers", 0,
		"Cap on scoring workers (default from config, 0 = automatic)")
	runCmd.Flags().Float64Var(&threshold, "threshold", 0,
		"Similarity cutoff for both similarity stages (default from config)")
	runCmd.Flags().Float64Var(&maxGapFraction, "max-gap-fraction", 0,
		"Largest allowed gap share for the aligner stage (default from config)")
	runCmd.Flags().Float64Var(&maxLengthDeviation, "max-length-deviation", 0,
		"Largest allowed length deviation for the aligner stage (default from config)")

	// Server command
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0,
		"Port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false,
		"Enable gin debug mode and request logging")
	serveCmd.Flags().StringSliceVar(&serveLoad, "load", nil,
		"Tables to preload into the store registry at startup")

	// Watch command
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"Output table path (default <input>.curated<ext>)")
	watchCmd.Flags().StringSliceVar(&runStages, "stages", []string{"species", "redundant"},
		"Stages to run, in order: species, redundant, aligners")
	watchCmd.Flags().IntVar(&watchDebounceMS, "debounce-ms", 0,
		"Quiet period before a re-run, in milliseconds (default from config)")
	watchCmd.Flags().IntVar(&watchMinIntervalMS, "min-interval-ms", 0,
		"Minimum spacing between re-runs, in milliseconds (default from config)")

	// Export commands
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportFastaCmd)
	exportFastaCmd.Flags().StringVarP(&outputPath, "output", "o", "",
		"Output FASTA path (default <input>.fasta)")
	exportFastaCmd.Flags().BoolVar(&exportAligned, "aligned", false,
		"Write alignment strings instead of raw sequences")

	// Stats command
	rootCmd.AddCommand(statsCmd)
}

// initLogging builds the process logger from config and flags and installs
// it as the slog default.
func initLogging(cmd *cobra.Command) {
	level := config.Global.Logging.Level
	if logLevel != "" {
		level = logLevel
	} else if quietMode {
		level = "warn"
	}

	jsonOut := config.Global.Logging.JSON
	if cmd.Root().PersistentFlags().Changed("log-json") {
		jsonOut = logJSON
	}

	appLogger = logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		JSON:    jsonOut,
		Service: "seqcull",
		LogDir:  config.Global.Logging.Dir,
	})
	slog.SetDefault(appLogger.Slog())
}
