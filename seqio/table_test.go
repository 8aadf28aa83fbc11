// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package seqio

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladeworks/seqcull/record"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// goldenStore builds the fixture store used by the golden-file tests.
func goldenStore(t *testing.T) *record.Store {
	t.Helper()
	rows := []record.SequenceRecord{
		{
			UID: "aaaaaaaaaa", Name: "LY96", Species: "Homo sapiens",
			OTT: "276534", Sequence: "MLPFLFFSTL", Alignment: "MLPFLFFSTL--",
			Keep:  true,
			Attrs: record.Attributes{"source": "ncbi"},
		},
		{
			UID: "bbbbbbbbbb", Name: "LY96", Species: "Mus musculus",
			OTT: "542509", Sequence: "MLPFLSFSTLSQ", Alignment: "MLPFLSFSTLSQ",
			Keep: true, AlwaysKeep: true,
			Attrs: record.Attributes{"length_bin": "short"},
		},
		{
			UID: "cccccccccc", Name: "LY86", Species: "Danio rerio",
			Sequence: "WAKCYTREGQDS", Alignment: "WAKCYTREGQDS",
		},
	}
	s, err := record.NewStore(rows)
	require.NoError(t, err)
	return s
}

const sampleCSV = `uid,name,species,ott,sequence,alignment,keep,always_keep,source
aaaaaaaaaa,LY96,Homo sapiens,276534,MLPFLFFSTL,,true,false,ncbi
bbbbbbbbbb,LY96,Mus musculus,,MLPFLSFSTL,,false,false,
`

// TestReadCSV verifies the reserved columns land on record fields and the
// rest lands in attributes.
func TestReadCSV(t *testing.T) {
	s, err := ReadCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	require.Equal(t, 2, s.Len())

	a, ok := s.Record("aaaaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, "LY96", a.Name)
	assert.Equal(t, "Homo sapiens", a.Species)
	assert.Equal(t, "276534", a.OTT)
	assert.Equal(t, "MLPFLFFSTL", a.Sequence)
	assert.True(t, a.Keep)
	assert.Equal(t, "ncbi", a.Attrs["source"])

	b, ok := s.Record("bbbbbbbbbb")
	require.True(t, ok)
	assert.False(t, b.Keep)
	assert.Empty(t, b.Attrs)
}

// TestReadCSV_AssignsUIDs verifies rows without a uid column get fresh
// identifiers.
func TestReadCSV_AssignsUIDs(t *testing.T) {
	in := `name,species,sequence
LY96,Homo sapiens,MLPFLFFSTL
LY86,Danio rerio,WAKCYTREGQ
`
	s, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	for _, uid := range s.UIDs() {
		assert.Len(t, uid, record.UIDLength)
	}
	assert.NotEqual(t, s.UIDs()[0], s.UIDs()[1])
}

// TestReadCSV_HeaderCaseInsensitive verifies header matching folds case and
// surrounding space.
func TestReadCSV_HeaderCaseInsensitive(t *testing.T) {
	in := "Name, SPECIES ,Sequence\nLY96,Homo sapiens,MLPFLFFSTL\n"

	s, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "LY96", s.At(0).Name)
}

// TestReadCSV_MissingColumns verifies the error names every absent required
// column.
func TestReadCSV_MissingColumns(t *testing.T) {
	in := "name,ott\nLY96,276534\n"

	_, err := ReadCSV(strings.NewReader(in))

	var schemaErr *record.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"species", "sequence"}, schemaErr.Missing)
}

// TestReadCSV_EmptyInput verifies an empty reader reports the whole required
// schema as missing.
func TestReadCSV_EmptyInput(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))

	var schemaErr *record.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, []string{"name", "species", "sequence"}, schemaErr.Missing)
}

// TestReadCSV_DuplicateColumn verifies duplicate headers are rejected.
func TestReadCSV_DuplicateColumn(t *testing.T) {
	in := "name,species,sequence,name\nLY96,Homo sapiens,MLPF,LY96\n"

	_, err := ReadCSV(strings.NewReader(in))

	var schemaErr *record.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Detail, "duplicate column")
}

// TestReadCSV_BadKeepValue verifies unparseable booleans are reported with
// their line number.
func TestReadCSV_BadKeepValue(t *testing.T) {
	in := "name,species,sequence,keep\nLY96,Homo sapiens,MLPF,maybe\n"

	_, err := ReadCSV(strings.NewReader(in))

	var schemaErr *record.SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Contains(t, schemaErr.Detail, "line 2")
}

// TestReadTSV verifies the tab-delimited path.
func TestReadTSV(t *testing.T) {
	in := "name\tspecies\tsequence\nLY96\tHomo sapiens\tMLPFLFFSTL\n"

	s, err := ReadTSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())
	assert.Equal(t, "Homo sapiens", s.At(0).Species)
}

// TestWriteCSV_Golden pins the exact CSV byte layout: reserved columns in
// fixed order, attribute columns sorted after them.
func TestWriteCSV_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, goldenStore(t)))

	newGoldie(t).Assert(t, "store_csv", buf.Bytes())
}

// TestWriteTSV_Golden pins the tab-delimited layout.
func TestWriteTSV_Golden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTSV(&buf, goldenStore(t)))

	newGoldie(t).Assert(t, "store_tsv", buf.Bytes())
}

// TestWriteCSV_NilStore verifies the writer rejects a nil store.
func TestWriteCSV_NilStore(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, nil)
	assert.ErrorIs(t, err, record.ErrNilStore)
}

// TestTable_RoundTrip verifies a written table reads back identically,
// including exclusion flags and attributes.
func TestTable_RoundTrip(t *testing.T) {
	s := goldenStore(t)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))

	back, err := ReadCSV(&buf)
	require.NoError(t, err)

	assert.Equal(t, s.Records(), back.Records())
}

// TestTableFile_RoundTrip verifies extension-based delimiter selection on
// disk.
func TestTableFile_RoundTrip(t *testing.T) {
	s := goldenStore(t)
	path := filepath.Join(t.TempDir(), "store.tsv")

	require.NoError(t, WriteTableFile(path, s))

	back, err := ReadTableFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.Records(), back.Records())
}
