// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package seqio

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cladeworks/seqcull/record"
)

// fastaLineWidth is the column at which sequence lines wrap on output.
const fastaLineWidth = 80

// Sequence is one FASTA entry. ID is the first whitespace-separated token of
// the header line, Desc the remainder.
type Sequence struct {
	ID   string
	Desc string
	Seq  string
}

// ReadFASTA parses every entry from r. Sequence lines are concatenated and
// whitespace inside them is dropped. Content before the first header is an
// error.
func ReadFASTA(r io.Reader) ([]Sequence, error) {
	var (
		out     []Sequence
		current *Sequence
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, ">") {
			if current != nil {
				out = append(out, *current)
			}
			fields := strings.Fields(text[1:])
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: empty fasta header", line)
			}
			current = &Sequence{
				ID:   fields[0],
				Desc: strings.Join(fields[1:], " "),
			}
			continue
		}

		if current == nil {
			return nil, fmt.Errorf("line %d: sequence data before first header", line)
		}
		current.Seq += strings.Join(strings.Fields(text), "")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading fasta: %w", err)
	}

	if current != nil {
		out = append(out, *current)
	}
	return out, nil
}

// WriteFASTA writes the kept rows of a store as FASTA, one entry per row
// with the UID as identifier and the record name as description.
//
// With aligned set, alignment strings are written instead of raw sequences;
// every kept row must then carry one.
func WriteFASTA(w io.Writer, s *record.Store, aligned bool) error {
	if s == nil {
		return record.ErrNilStore
	}

	if aligned {
		for i := 0; i < s.Len(); i++ {
			if r := s.At(i); r.Keep && r.Alignment == "" {
				return &record.SchemaError{
					Missing: []string{colAlignment},
					Detail:  fmt.Sprintf("row %s has no alignment", r.UID),
				}
			}
		}
	}

	for i := 0; i < s.Len(); i++ {
		r := s.At(i)
		if !r.Keep {
			continue
		}

		if _, err := fmt.Fprintf(w, ">%s %s\n", r.UID, r.Name); err != nil {
			return fmt.Errorf("writing fasta header: %w", err)
		}

		seq := r.Sequence
		if aligned {
			seq = r.Alignment
		}
		for len(seq) > 0 {
			n := min(len(seq), fastaLineWidth)
			if _, err := fmt.Fprintln(w, seq[:n]); err != nil {
				return fmt.Errorf("writing fasta sequence: %w", err)
			}
			seq = seq[n:]
		}
	}
	return nil
}

// ApplyAlignment merges aligned FASTA entries back into a store by UID and
// returns the updated copy. Every entry must reference a known row, and the
// merged store must still satisfy the shared-alignment-length invariant.
func ApplyAlignment(s *record.Store, seqs []Sequence) (*record.Store, error) {
	if s == nil {
		return nil, record.ErrNilStore
	}

	aligned := make(map[string]string, len(seqs))
	for _, sq := range seqs {
		aligned[sq.ID] = sq.Seq
	}
	return s.WithAlignments(aligned)
}
