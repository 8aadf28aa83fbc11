// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cladeworks/seqcull/cmd/seqcull/config"
	"github.com/spf13/cobra"
)

// writeExportTable writes a table where one row is already excluded.
func writeExportTable(t *testing.T, dir string) string {
	t.Helper()

	input := filepath.Join(dir, "seqs.csv")
	table := "name,species,sequence,keep\n" +
		"LY96_HUMAN,Homo sapiens,MKTAYIAKQRQISFVK,true\n" +
		"LY96_MOUSE,Mus musculus,MLSFVTRRAAGWDLNK,true\n" +
		"LY96_DROPPED,Homo sapiens,MKTAYIAKQRQISFVK,false\n"
	if err := os.WriteFile(input, []byte(table), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return input
}

func TestRunExportFasta_KeptRowsOnly(t *testing.T) {
	dir := t.TempDir()
	input := writeExportTable(t, dir)

	config.Global = config.DefaultConfig()
	useMachinePersonality(t)
	oldOutput := outputPath
	oldAligned := exportAligned
	outputPath = filepath.Join(dir, "kept.fasta")
	exportAligned = false
	defer func() {
		outputPath = oldOutput
		exportAligned = oldAligned
	}()

	dummyCmd := &cobra.Command{}
	stdout, _ := captureOutput(t, func() {
		runExportFasta(dummyCmd, []string{input})
	})

	if !strings.Contains(stdout, "OK: Wrote 2 kept records to "+outputPath) {
		t.Errorf("missing success line: %s", stdout)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read fasta: %v", err)
	}
	fasta := string(data)
	if got := strings.Count(fasta, ">"); got != 2 {
		t.Errorf("expected 2 fasta entries, got %d", got)
	}
	if !strings.Contains(fasta, "LY96_HUMAN") || !strings.Contains(fasta, "LY96_MOUSE") {
		t.Errorf("kept records missing from fasta: %s", fasta)
	}
	if strings.Contains(fasta, "LY96_DROPPED") {
		t.Errorf("excluded record leaked into fasta: %s", fasta)
	}
}

func TestRunExportFasta_DefaultOutputPath(t *testing.T) {
	dir := t.TempDir()
	input := writeExportTable(t, dir)

	config.Global = config.DefaultConfig()
	useMachinePersonality(t)
	oldOutput := outputPath
	oldAligned := exportAligned
	outputPath = ""
	exportAligned = false
	defer func() {
		outputPath = oldOutput
		exportAligned = oldAligned
	}()

	dummyCmd := &cobra.Command{}
	captureOutput(t, func() {
		runExportFasta(dummyCmd, []string{input})
	})

	want := filepath.Join(dir, "seqs.fasta")
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected fasta at %s: %v", want, err)
	}
}

func TestRunExportFasta_AlignedWithoutAlignments(t *testing.T) {
	dir := t.TempDir()
	input := writeExportTable(t, dir)

	config.Global = config.DefaultConfig()
	useMachinePersonality(t)
	oldOutput := outputPath
	oldAligned := exportAligned
	outputPath = filepath.Join(dir, "kept.fasta")
	exportAligned = true
	defer func() {
		outputPath = oldOutput
		exportAligned = oldAligned
	}()

	dummyCmd := &cobra.Command{}
	_, stderr := captureOutput(t, func() {
		runExportFasta(dummyCmd, []string{input})
	})

	if !strings.Contains(stderr, "ERROR: Cannot write") {
		t.Errorf("expected write error for missing alignments, got: %s", stderr)
	}
}
