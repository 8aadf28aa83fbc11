// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

// SpeciesGroup lists the kept rows of one species in store order.
type SpeciesGroup struct {
	Species string
	UIDs    []string
}

// SpeciesIndex maps each species to its kept rows.
//
// The index is a snapshot: it reflects the store it was built from and is
// rebuilt from scratch whenever a stage needs one, never cached across
// copy-on-write steps.
type SpeciesIndex struct {
	groups    []SpeciesGroup
	bySpecies map[string]int
}

// GroupBySpecies indexes the kept rows of a store by species.
//
// Species appear in the order their first kept row appears in the store, and
// rows inside a group stay in store order. Rows with Keep cleared are not
// indexed.
func GroupBySpecies(s *Store) *SpeciesIndex {
	idx := &SpeciesIndex{bySpecies: make(map[string]int)}
	for _, r := range s.records {
		if !r.Keep {
			continue
		}
		i, ok := idx.bySpecies[r.Species]
		if !ok {
			i = len(idx.groups)
			idx.bySpecies[r.Species] = i
			idx.groups = append(idx.groups, SpeciesGroup{Species: r.Species})
		}
		idx.groups[i].UIDs = append(idx.groups[i].UIDs, r.UID)
	}
	return idx
}

// Groups returns every species group in first-appearance order.
func (idx *SpeciesIndex) Groups() []SpeciesGroup {
	return idx.groups
}

// Group returns the kept rows for one species.
func (idx *SpeciesIndex) Group(species string) ([]string, bool) {
	i, ok := idx.bySpecies[species]
	if !ok {
		return nil, false
	}
	return idx.groups[i].UIDs, true
}

// Len returns the number of distinct species with at least one kept row.
func (idx *SpeciesIndex) Len() int {
	return len(idx.groups)
}
