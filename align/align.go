// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package align scores pairwise similarity between amino-acid sequences.
//
// Two paths exist. When both sequences already carry alignments of the same
// length, AlignedIdentity reads identity straight off the columns in linear
// time. Otherwise Global computes a Needleman-Wunsch alignment of the raw
// sequences and identity is derived from that.
package align

import "errors"

// GapChar is the gap symbol used in alignment strings.
const GapChar = '-'

// ErrLengthMismatch is returned when two alignment strings disagree in length.
var ErrLengthMismatch = errors.New("aligned sequences differ in length")

// AlignedIdentity computes the fraction of matching columns between two
// alignment strings of equal length.
//
// Columns where both strings carry a gap are skipped entirely. A column with
// a gap on one side only counts as a mismatch. When every column is a shared
// gap there is nothing to compare and the identity is 0.
func AlignedIdentity(a, b string) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrLengthMismatch
	}

	matches := 0
	compared := 0
	for i := 0; i < len(a); i++ {
		if a[i] == GapChar && b[i] == GapChar {
			continue
		}
		compared++
		if a[i] == b[i] {
			matches++
		}
	}

	if compared == 0 {
		return 0, nil
	}
	return float64(matches) / float64(compared), nil
}

// GapFraction returns the share of gap columns in an alignment string.
// An empty string has no columns and reports 0.
func GapFraction(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	gaps := 0
	for i := 0; i < len(s); i++ {
		if s[i] == GapChar {
			gaps++
		}
	}
	return float64(gaps) / float64(len(s))
}

// UngappedLength returns the number of residues in an alignment string once
// gaps are removed.
func UngappedLength(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] != GapChar {
			n++
		}
	}
	return n
}
