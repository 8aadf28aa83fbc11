// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package seqio moves record stores between their on-disk forms: delimited
// tables for the full schema and FASTA for the sequences alone.
package seqio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cladeworks/seqcull/record"
)

// Reserved column names. Anything else in a table header round-trips through
// the record's attribute map.
const (
	colUID        = "uid"
	colName       = "name"
	colSpecies    = "species"
	colOTT        = "ott"
	colSequence   = "sequence"
	colAlignment  = "alignment"
	colKeep       = "keep"
	colAlwaysKeep = "always_keep"
)

// requiredColumns must be present in every input table.
var requiredColumns = []string{colName, colSpecies, colSequence}

// writeOrder fixes the reserved-column order in written tables; attribute
// columns follow, sorted by name.
var writeOrder = []string{
	colUID, colName, colSpecies, colOTT,
	colSequence, colAlignment, colKeep, colAlwaysKeep,
}

// ReadCSV parses a comma-delimited table into a validated store.
func ReadCSV(r io.Reader) (*record.Store, error) {
	return readTable(r, ',')
}

// ReadTSV parses a tab-delimited table into a validated store.
func ReadTSV(r io.Reader) (*record.Store, error) {
	return readTable(r, '\t')
}

// ReadTableFile reads a table from disk, choosing the delimiter from the
// file extension: .tsv and .tab are tab-delimited, everything else is
// treated as CSV.
func ReadTableFile(path string) (*record.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()

	if isTabExt(path) {
		return ReadTSV(f)
	}
	return ReadCSV(f)
}

// readTable parses the header, maps every remaining column onto the record
// schema and hands the rows to record.NewStore, which assigns missing UIDs
// and validates the result.
func readTable(r io.Reader, comma rune) (*record.Store, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &record.SchemaError{Missing: requiredColumns, Detail: "empty input"}
	}
	if err != nil {
		return nil, fmt.Errorf("reading table header: %w", err)
	}

	cols := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if seen[name] {
			return nil, &record.SchemaError{Detail: fmt.Sprintf("duplicate column %q", name)}
		}
		seen[name] = true
		cols[i] = name
	}

	var missing []string
	for _, req := range requiredColumns {
		if !seen[req] {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, record.NewSchemaError(missing...)
	}

	var rows []record.SequenceRecord
	for line := 2; ; line++ {
		cells, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading table: %w", err)
		}

		row, err := parseRow(cols, cells)
		if err != nil {
			return nil, &record.SchemaError{Detail: fmt.Sprintf("line %d: %v", line, err)}
		}
		rows = append(rows, row)
	}

	return record.NewStore(rows)
}

func parseRow(cols, cells []string) (record.SequenceRecord, error) {
	row := record.SequenceRecord{Keep: true}
	for i, cell := range cells {
		switch cols[i] {
		case colUID:
			row.UID = cell
		case colName:
			row.Name = cell
		case colSpecies:
			row.Species = cell
		case colOTT:
			row.OTT = cell
		case colSequence:
			row.Sequence = cell
		case colAlignment:
			row.Alignment = cell
		case colKeep:
			if cell == "" {
				continue
			}
			v, err := strconv.ParseBool(cell)
			if err != nil {
				return row, fmt.Errorf("invalid keep value %q", cell)
			}
			row.Keep = v
		case colAlwaysKeep:
			if cell == "" {
				continue
			}
			v, err := strconv.ParseBool(cell)
			if err != nil {
				return row, fmt.Errorf("invalid always_keep value %q", cell)
			}
			row.AlwaysKeep = v
		default:
			if cell == "" {
				continue
			}
			if row.Attrs == nil {
				row.Attrs = make(record.Attributes)
			}
			row.Attrs[cols[i]] = cell
		}
	}
	return row, nil
}

// WriteCSV writes the full store, kept or not, as a comma-delimited table.
func WriteCSV(w io.Writer, s *record.Store) error {
	return writeTable(w, s, ',')
}

// WriteTSV writes the full store, kept or not, as a tab-delimited table.
func WriteTSV(w io.Writer, s *record.Store) error {
	return writeTable(w, s, '\t')
}

// WriteTableFile writes a table to disk, choosing the delimiter from the
// file extension the same way ReadTableFile does.
func WriteTableFile(path string, s *record.Store) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer f.Close()

	if isTabExt(path) {
		return WriteTSV(f, s)
	}
	return WriteCSV(f, s)
}

func writeTable(w io.Writer, s *record.Store, comma rune) error {
	if s == nil {
		return record.ErrNilStore
	}

	attrCols := attrColumns(s)
	header := append(append([]string{}, writeOrder...), attrCols...)

	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}

	for i := 0; i < s.Len(); i++ {
		r := s.At(i)
		cells := []string{
			r.UID, r.Name, r.Species, r.OTT,
			r.Sequence, r.Alignment,
			strconv.FormatBool(r.Keep),
			strconv.FormatBool(r.AlwaysKeep),
		}
		for _, col := range attrCols {
			cells = append(cells, r.Attrs[col])
		}
		if err := cw.Write(cells); err != nil {
			return fmt.Errorf("writing table row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// attrColumns returns the union of attribute names across all rows, sorted.
func attrColumns(s *record.Store) []string {
	seen := make(map[string]bool)
	for i := 0; i < s.Len(); i++ {
		for k := range s.At(i).Attrs {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func isTabExt(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return true
	}
	return false
}
