// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

import "fmt"

// Validate checks every structural invariant of the store and reports the
// first violated one.
//
// Description:
//
//	The checker runs automatically after construction and after every
//	copy-on-write operation, and can be called directly on any store a
//	caller received from elsewhere. Violations are reported in a fixed
//	order so a broken store always produces the same error: duplicate
//	UIDs first, then missing required fields, then alignment length
//	disagreements, then always-keep rows that lost their keep flag.
//
// Outputs:
//   - error: nil, an *InvariantError, or an *AlignmentLengthError.
func (s *Store) Validate() error {
	if s == nil {
		return ErrNilStore
	}

	if uids := s.duplicateUIDs(); len(uids) > 0 {
		return NewInvariantError(InvariantUniqueUID, uids...)
	}

	for i, r := range s.records {
		if err := validateRequired(i, r); err != nil {
			return err
		}
	}

	if err := s.validateAlignmentLengths(); err != nil {
		return err
	}

	var lost []string
	for _, r := range s.records {
		if r.AlwaysKeep && !r.Keep {
			lost = append(lost, r.UID)
		}
	}
	if len(lost) > 0 {
		return NewInvariantError(InvariantAlwaysKept, lost...)
	}
	return nil
}

func (s *Store) duplicateUIDs() []string {
	seen := make(map[string]int, len(s.records))
	var dups []string
	for _, r := range s.records {
		seen[r.UID]++
		if seen[r.UID] == 2 {
			dups = append(dups, r.UID)
		}
	}
	return dups
}

func validateRequired(i int, r SequenceRecord) error {
	missing := ""
	switch {
	case r.UID == "":
		missing = "uid"
	case r.Name == "":
		missing = "name"
	case r.Species == "":
		missing = "species"
	case r.Sequence == "":
		missing = "sequence"
	}
	if missing == "" {
		return nil
	}
	err := NewInvariantError(InvariantRequiredFields)
	if r.UID != "" {
		err.UIDs = []string{r.UID}
	}
	err.Detail = fmt.Sprintf("row %d has empty %s", i, missing)
	return err
}

func (s *Store) validateAlignmentLengths() error {
	want := 0
	var wrong []string
	got := 0
	for _, r := range s.records {
		if r.Alignment == "" {
			continue
		}
		if want == 0 {
			want = len(r.Alignment)
			continue
		}
		if len(r.Alignment) != want {
			wrong = append(wrong, r.UID)
			got = len(r.Alignment)
		}
	}
	if len(wrong) > 0 {
		return &AlignmentLengthError{UIDs: wrong, Want: want, Got: got}
	}
	return nil
}
