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
	"sort"

	"github.com/cladeworks/seqcull/pkg/ux"
	"github.com/spf13/cobra"
)

type speciesStat struct {
	kept     int
	excluded int
}

func runStats(cmd *cobra.Command, args []string) {
	input := args[0]

	s, err := loadStoreArg(input)
	if err != nil {
		slog.Error("Failed to load table", "path", input, "error", err)
		ux.Error(fmt.Sprintf("Cannot load %s: %v", input, err))
		return
	}

	stats := make(map[string]*speciesStat)
	for _, r := range s.Records() {
		st := stats[r.Species]
		if st == nil {
			st = &speciesStat{}
			stats[r.Species] = st
		}
		if r.Keep {
			st.kept++
		} else {
			st.excluded++
		}
	}

	names := make([]string, 0, len(stats))
	for sp := range stats {
		names = append(names, sp)
	}
	sort.Strings(names)

	if ux.GetPersonality().Level == ux.PersonalityMachine {
		for _, sp := range names {
			st := stats[sp]
			fmt.Printf("%s\t%d\t%d\t%d\n", sp, st.kept, st.excluded, st.kept+st.excluded)
		}
	} else {
		width := len("Species")
		for _, sp := range names {
			if len(sp) > width {
				width = len(sp)
			}
		}
		ux.Title(fmt.Sprintf("%s: %d species", input, len(names)))
		fmt.Printf("%-*s  %6s  %8s  %6s\n", width, "Species", "kept", "excluded", "total")
		for _, sp := range names {
			st := stats[sp]
			fmt.Printf("%-*s  %6d  %8d  %6d\n", width, sp, st.kept, st.excluded, st.kept+st.excluded)
		}
	}

	if al := s.AlignedLength(); al > 0 {
		ux.Info(fmt.Sprintf("Aligned length %d columns", al))
	}
	summarizeStore(s)
}
