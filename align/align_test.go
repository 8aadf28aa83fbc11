// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package align

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

// ============================================================================
// Aligned Identity Tests
// ============================================================================

func TestAlignedIdentity(t *testing.T) {
	cases := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "MLPF", "MLPF", 1.0},
		{"one substitution", "MLPF", "MLPL", 0.75},
		{"gap counts as mismatch", "ML-F", "MLPF", 0.75},
		{"shared gap skipped", "M-PF", "M-PL", 2.0 / 3.0},
		{"all shared gaps", "----", "----", 0},
		{"no matches", "AAAA", "TTTT", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AlignedIdentity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !almostEqual(got, tc.want) {
				t.Errorf("expected %f, got %f", tc.want, got)
			}
		})
	}
}

func TestAlignedIdentity_LengthMismatch(t *testing.T) {
	_, err := AlignedIdentity("AB", "ABC")
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

// ============================================================================
// Alignment String Helpers
// ============================================================================

func TestGapFraction(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"MLPF", 0},
		{"M-P-", 0.5},
		{"----", 1.0},
	}
	for _, tc := range cases {
		if got := GapFraction(tc.in); !almostEqual(got, tc.want) {
			t.Errorf("GapFraction(%q): expected %f, got %f", tc.in, tc.want, got)
		}
	}
}

func TestUngappedLength(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"MLPF", 4},
		{"M-P-", 2},
		{"----", 0},
	}
	for _, tc := range cases {
		if got := UngappedLength(tc.in); got != tc.want {
			t.Errorf("UngappedLength(%q): expected %d, got %d", tc.in, tc.want, got)
		}
	}
}
