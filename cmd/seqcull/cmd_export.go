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
	"path/filepath"
	"strings"

	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/cladeworks/seqcull/seqio"
	"github.com/spf13/cobra"
)

func runExportFasta(cmd *cobra.Command, args []string) {
	input := args[0]

	s, err := loadStoreArg(input)
	if err != nil {
		slog.Error("Failed to load table", "path", input, "error", err)
		ux.Error(fmt.Sprintf("Cannot load %s: %v", input, err))
		return
	}

	out := outputPath
	if out == "" {
		out = strings.TrimSuffix(input, filepath.Ext(input)) + ".fasta"
	}

	f, err := os.Create(out)
	if err != nil {
		slog.Error("Failed to create output", "path", out, "error", err)
		ux.Error(fmt.Sprintf("Cannot create %s: %v", out, err))
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("Failed to close output", "path", out, "error", closeErr)
		}
	}()

	if err := seqio.WriteFASTA(f, s, exportAligned); err != nil {
		slog.Error("Failed to write fasta", "path", out, "error", err)
		ux.Error(fmt.Sprintf("Cannot write %s: %v", out, err))
		return
	}

	ux.Success(fmt.Sprintf("Wrote %d kept records to %s", s.KeptCount(), out))
}
