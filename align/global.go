// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package align

// Scoring parameterizes global alignment. Match rewards identical residues,
// Mismatch penalizes substitutions, Gap penalizes each inserted gap column.
type Scoring struct {
	Match    int
	Mismatch int
	Gap      int
}

// DefaultScoring returns the scoring used across the curation stages.
func DefaultScoring() Scoring {
	return Scoring{Match: 1, Mismatch: -1, Gap: -2}
}

// Alignment is the result of a global alignment: the two gapped strings, the
// number of identical columns and the total column count.
type Alignment struct {
	A       string
	B       string
	Matches int
	Length  int
}

// Identity returns Matches over Length, or 0 for an empty alignment.
func (a Alignment) Identity() float64 {
	if a.Length == 0 {
		return 0
	}
	return float64(a.Matches) / float64(a.Length)
}

// Traceback directions, in tie-break precedence order. When two moves score
// the same the earlier one wins, so equal-cost alignments always resolve the
// same way: substitution first, then a gap in b, then a gap in a.
const (
	dirDiag byte = iota
	dirUp
	dirLeft
)

// Global aligns two raw sequences end to end with the Needleman-Wunsch
// algorithm under a linear gap penalty.
//
// Description:
//
//	The score matrix is filled row by row keeping only two score rows in
//	memory; a full byte matrix of traceback directions is retained to
//	reconstruct the alignment. The result is deterministic for any input
//	pair because ties in the fill step resolve by the fixed precedence
//	documented on the direction constants.
//
// Inputs:
//   - a, b: raw residue strings. Either may be empty.
//   - sc: scoring parameters, usually DefaultScoring().
//
// Outputs:
//   - Alignment: gapped forms of a and b plus match statistics.
func Global(a, b string, sc Scoring) Alignment {
	m, n := len(a), len(b)

	prev := make([]int, n+1)
	cur := make([]int, n+1)
	dirs := make([]byte, (m+1)*(n+1))

	for j := 1; j <= n; j++ {
		prev[j] = j * sc.Gap
		dirs[j] = dirLeft
	}

	for i := 1; i <= m; i++ {
		cur[0] = i * sc.Gap
		dirs[i*(n+1)] = dirUp

		for j := 1; j <= n; j++ {
			sub := sc.Mismatch
			if a[i-1] == b[j-1] {
				sub = sc.Match
			}

			best := prev[j-1] + sub
			dir := dirDiag
			if up := prev[j] + sc.Gap; up > best {
				best = up
				dir = dirUp
			}
			if left := cur[j-1] + sc.Gap; left > best {
				best = left
				dir = dirLeft
			}

			cur[j] = best
			dirs[i*(n+1)+j] = dir
		}
		prev, cur = cur, prev
	}

	return traceback(a, b, dirs, n)
}

func traceback(a, b string, dirs []byte, n int) Alignment {
	var outA, outB []byte
	matches := 0

	i, j := len(a), len(b)
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && dirs[i*(n+1)+j] == dirDiag:
			outA = append(outA, a[i-1])
			outB = append(outB, b[j-1])
			if a[i-1] == b[j-1] {
				matches++
			}
			i--
			j--
		case i > 0 && (j == 0 || dirs[i*(n+1)+j] == dirUp):
			outA = append(outA, a[i-1])
			outB = append(outB, GapChar)
			i--
		default:
			outA = append(outA, GapChar)
			outB = append(outB, b[j-1])
			j--
		}
	}

	reverse(outA)
	reverse(outB)
	return Alignment{
		A:       string(outA),
		B:       string(outB),
		Matches: matches,
		Length:  len(outA),
	}
}

func reverse(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
