// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reduce

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladeworks/seqcull/record"
)

func seqRow(uid, name, species, sequence string) record.SequenceRecord {
	return record.SequenceRecord{
		UID:      uid,
		Name:     name,
		Species:  species,
		Sequence: sequence,
		Keep:     true,
	}
}

func mustStore(t *testing.T, rows []record.SequenceRecord) *record.Store {
	t.Helper()
	s, err := record.NewStore(rows)
	require.NoError(t, err)
	return s
}

// lymphocyteRows builds the canonical scenario: two identical LY96 rows from
// the same species plus one unrelated LY86 row from another.
func lymphocyteRows() []record.SequenceRecord {
	return []record.SequenceRecord{
		seqRow("aaaaaaaaaa", "LY96", "Homo sapiens", "MLPFLFFSTLFSSIFTEAQ"),
		seqRow("bbbbbbbbbb", "LY96", "Homo sapiens", "MLPFLFFSTLFSSIFTEAQ"),
		seqRow("cccccccccc", "LY86", "Danio rerio", "WAKCYTREGQNDWAERRTE"),
	}
}

// TestShrinkInSpecies_CollapsesDuplicates verifies that identical rows within
// one species collapse to the lowest UID while other species stay untouched.
func TestShrinkInSpecies_CollapsesDuplicates(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	out, rep, err := ShrinkInSpecies(context.Background(), s, 0.95)
	require.NoError(t, err)

	assert.Equal(t, StageInSpecies, rep.Stage)
	assert.Equal(t, 1, rep.Clusters)
	assert.Equal(t, 3, rep.KeptBefore)
	assert.Equal(t, 2, rep.KeptAfter)
	assert.Equal(t, []string{"bbbbbbbbbb"}, rep.Excluded)

	// Equal lengths tie-break to the lexicographically lowest UID.
	a, _ := out.Record("aaaaaaaaaa")
	assert.True(t, a.Keep)
	b, _ := out.Record("bbbbbbbbbb")
	assert.False(t, b.Keep)
	c, _ := out.Record("cccccccccc")
	assert.True(t, c.Keep)

	// No rows disappear and order survives.
	assert.Equal(t, s.UIDs(), out.UIDs())

	// The input store is untouched.
	assert.Equal(t, 3, s.KeptCount())
}

// TestShrinkInSpecies_AlwaysKeepProtectsWholeCluster verifies that marking
// both duplicates always-keep leaves them both in place.
func TestShrinkInSpecies_AlwaysKeepProtectsWholeCluster(t *testing.T) {
	rows := lymphocyteRows()
	rows[0].AlwaysKeep = true
	rows[1].AlwaysKeep = true
	s := mustStore(t, rows)

	out, rep, err := ShrinkInSpecies(context.Background(), s, 0.95)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Clusters)
	assert.Empty(t, rep.Excluded)
	assert.Equal(t, 3, out.KeptCount())
}

// TestShrinkInSpecies_TransitiveClustering verifies that clusters are the
// transitive closure of the similarity graph, not greedy pairs: a~b and b~c
// pull c into the cluster even though a and c score below the threshold.
func TestShrinkInSpecies_TransitiveClustering(t *testing.T) {
	rows := []record.SequenceRecord{
		seqRow("aaaaaaaaaa", "LY96", "Homo sapiens", "AAAAAAAAAA"),
		seqRow("bbbbbbbbbb", "LY96", "Homo sapiens", "AAAAAAAACC"),
		seqRow("cccccccccc", "LY96", "Homo sapiens", "AAAAAACCCC"),
	}
	for i := range rows {
		rows[i].Alignment = rows[i].Sequence
	}
	s := mustStore(t, rows)

	// a~b and b~c read 0.8 off the alignments, a~c only 0.6.
	out, rep, err := ShrinkInSpecies(context.Background(), s, 0.75)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Clusters)
	assert.Equal(t, []string{"aaaaaaaaaa"}, out.KeptUIDs())
}

// TestShrinkInSpecies_LongestSequenceWins verifies the survivor policy
// prefers sequence length over UID order.
func TestShrinkInSpecies_LongestSequenceWins(t *testing.T) {
	rows := []record.SequenceRecord{
		seqRow("aaaaaaaaaa", "LY96", "Homo sapiens", "MLPFLFFSTL"),
		seqRow("bbbbbbbbbb", "LY96", "Homo sapiens", "MLPFLFFSTLFSS"),
	}
	s := mustStore(t, rows)

	// The shared prefix dominates the global alignment, so the pair scores
	// 10 matches over 13 columns, just above 0.75.
	out, _, err := ShrinkInSpecies(context.Background(), s, 0.75)
	require.NoError(t, err)

	assert.Equal(t, []string{"bbbbbbbbbb"}, out.KeptUIDs())
}

// TestShrinkInSpecies_SingletonsUntouched verifies that species with a
// single kept row never lose it.
func TestShrinkInSpecies_SingletonsUntouched(t *testing.T) {
	s := mustStore(t, []record.SequenceRecord{
		seqRow("aaaaaaaaaa", "LY96", "Homo sapiens", "MLPFLFFSTL"),
		seqRow("bbbbbbbbbb", "LY86", "Danio rerio", "WAKCYTREGQ"),
	})

	out, rep, err := ShrinkInSpecies(context.Background(), s, 0.0)
	require.NoError(t, err)

	assert.Equal(t, 0, rep.Clusters)
	assert.Equal(t, 2, out.KeptCount())
}

// TestShrinkRedundant_CrossSpecies verifies that redundancy collapses across
// species boundaries.
func TestShrinkRedundant_CrossSpecies(t *testing.T) {
	s := mustStore(t, []record.SequenceRecord{
		seqRow("aaaaaaaaaa", "LY96", "Homo sapiens", "MLPFLFFSTL"),
		seqRow("bbbbbbbbbb", "LY96", "Mus musculus", "MLPFLFFSTL"),
	})

	out, rep, err := ShrinkRedundant(context.Background(), s, 0.95)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Groups)
	assert.Equal(t, []string{"aaaaaaaaaa"}, out.KeptUIDs())
}

// TestShrinkRedundant_Idempotent verifies that a second pass with the same
// threshold changes nothing.
func TestShrinkRedundant_Idempotent(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	once, _, err := ShrinkRedundant(context.Background(), s, 0.95)
	require.NoError(t, err)
	twice, rep, err := ShrinkRedundant(context.Background(), once, 0.95)
	require.NoError(t, err)

	assert.Empty(t, rep.Excluded)
	assert.Equal(t, once.KeptUIDs(), twice.KeptUIDs())
}

// TestShrinkStages_MonotonicKeptSet verifies that stages only ever shrink
// the kept set.
func TestShrinkStages_MonotonicKeptSet(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	out, _, err := ShrinkInSpecies(context.Background(), s, 0.5)
	require.NoError(t, err)

	before := make(map[string]bool)
	for _, uid := range s.KeptUIDs() {
		before[uid] = true
	}
	for _, uid := range out.KeptUIDs() {
		assert.True(t, before[uid], "row %s appeared in the kept set", uid)
	}
	assert.LessOrEqual(t, out.KeptCount(), s.KeptCount())
}

// TestShrinkStages_InvalidThreshold verifies the cutoff must sit in [0, 1]
// and that the input store comes back untouched.
func TestShrinkStages_InvalidThreshold(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	for _, threshold := range []float64{-0.1, 1.1} {
		out, rep, err := ShrinkInSpecies(context.Background(), s, threshold)
		assert.ErrorIs(t, err, record.ErrInvalidThreshold)
		assert.Nil(t, rep)
		assert.Same(t, s, out)

		out, rep, err = ShrinkRedundant(context.Background(), s, threshold)
		assert.ErrorIs(t, err, record.ErrInvalidThreshold)
		assert.Nil(t, rep)
		assert.Same(t, s, out)
	}
}

// TestShrinkStages_NilStore verifies nil stores are rejected up front.
func TestShrinkStages_NilStore(t *testing.T) {
	_, _, err := ShrinkInSpecies(context.Background(), nil, 0.95)
	assert.ErrorIs(t, err, record.ErrNilStore)

	_, _, err = ShrinkRedundant(context.Background(), nil, 0.95)
	assert.ErrorIs(t, err, record.ErrNilStore)

	_, _, err = ShrinkAligners(context.Background(), nil, DefaultCriteria())
	assert.ErrorIs(t, err, record.ErrNilStore)
}

// TestShrinkStages_BoundaryThresholds verifies 0 and 1 are both legal.
func TestShrinkStages_BoundaryThresholds(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	// Threshold 0 connects every pair in a species.
	out, _, err := ShrinkInSpecies(context.Background(), s, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, out.KeptCount())

	// Threshold 1 only connects exact duplicates.
	out, _, err = ShrinkInSpecies(context.Background(), s, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, out.KeptCount())
}

// TestShrinkInSpecies_ParallelMatchesSerial verifies the worker pool and the
// inline path agree on a batch large enough to engage the pool.
func TestShrinkInSpecies_ParallelMatchesSerial(t *testing.T) {
	var rows []record.SequenceRecord
	uids := "abcdefghijkl"
	for i := 0; i < 12; i++ {
		uid := strings.Repeat(string(uids[i]), 10)
		sequence := strings.Repeat("A", 30)
		if i >= 6 {
			sequence = strings.Repeat(string(rune('C'+i)), 30)
		}
		rows = append(rows, seqRow(uid, "LY96", "Homo sapiens", sequence))
	}
	s := mustStore(t, rows)

	// 12 rows in one species make 66 pairs, above serialPairThreshold.
	parallel, _, err := ShrinkInSpecies(context.Background(), s, 0.95)
	require.NoError(t, err)

	serial, _, err := ShrinkInSpecies(context.Background(), s, 0.95, withSerialLimit(1<<30))
	require.NoError(t, err)

	assert.Equal(t, serial.KeptUIDs(), parallel.KeptUIDs())
}

// TestShrinkInSpecies_CancelledContext verifies cancellation aborts the stage
// and hands back the original store.
func TestShrinkInSpecies_CancelledContext(t *testing.T) {
	s := mustStore(t, lymphocyteRows())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, rep, err := ShrinkInSpecies(ctx, s, 0.95)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Nil(t, rep)
	assert.Same(t, s, out)
	assert.Equal(t, 3, s.KeptCount())
}

// withSerialLimit forces the inline scoring path regardless of batch size.
func withSerialLimit(n int) Option {
	return func(o *options) { o.serialLimit = n }
}
