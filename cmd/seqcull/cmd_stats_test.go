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
	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/spf13/cobra"
)

func TestRunStats_MachineOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeExportTable(t, dir)

	config.Global = config.DefaultConfig()
	useMachinePersonality(t)

	dummyCmd := &cobra.Command{}
	stdout, _ := captureOutput(t, func() {
		runStats(dummyCmd, []string{input})
	})

	if !strings.Contains(stdout, "Homo sapiens\t1\t1\t2") {
		t.Errorf("missing human species line: %s", stdout)
	}
	if !strings.Contains(stdout, "Mus musculus\t1\t0\t1") {
		t.Errorf("missing mouse species line: %s", stdout)
	}
	if !strings.Contains(stdout, "SUMMARY: kept=2 excluded=1 total=3") {
		t.Errorf("missing summary: %s", stdout)
	}

	// Species lines are sorted
	human := strings.Index(stdout, "Homo sapiens")
	mouse := strings.Index(stdout, "Mus musculus")
	if human < 0 || mouse < 0 || human > mouse {
		t.Errorf("species not in sorted order: %s", stdout)
	}
}

func TestRunStats_TableOutput(t *testing.T) {
	dir := t.TempDir()
	input := writeExportTable(t, dir)

	config.Global = config.DefaultConfig()
	prev := ux.GetPersonality()
	ux.SetPersonalityLevel(ux.PersonalityFull)
	t.Cleanup(func() { ux.SetPersonality(prev) })

	dummyCmd := &cobra.Command{}
	stdout, _ := captureOutput(t, func() {
		runStats(dummyCmd, []string{input})
	})

	if !strings.Contains(stdout, "2 species") {
		t.Errorf("missing species count: %s", stdout)
	}
	if !strings.Contains(stdout, "Species") || !strings.Contains(stdout, "excluded") {
		t.Errorf("missing table header: %s", stdout)
	}
	if !strings.Contains(stdout, "Homo sapiens") {
		t.Errorf("missing species row: %s", stdout)
	}
}

func TestRunStats_AlignedLength(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "aligned.csv")
	table := "name,species,sequence,alignment\n" +
		"LY96_HUMAN,Homo sapiens,MKTAYIAK,MKTAYIAK--\n" +
		"LY96_MOUSE,Mus musculus,MLSFVTRR,ML-SFVTRR-\n"
	if err := os.WriteFile(input, []byte(table), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	config.Global = config.DefaultConfig()
	useMachinePersonality(t)

	dummyCmd := &cobra.Command{}
	stdout, _ := captureOutput(t, func() {
		runStats(dummyCmd, []string{input})
	})

	if !strings.Contains(stdout, "Aligned length 10 columns") {
		t.Errorf("missing aligned length line: %s", stdout)
	}
}
