// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

import "fmt"

// Store is an ordered, immutable collection of sequence records.
//
// Description:
//
//	A store preserves the row order it was built with. Curation stages never
//	add or remove rows and never edit identity fields; they express every
//	decision by flipping Keep from true to false on a copy. Because a store
//	is never mutated after construction, it is safe for concurrent readers.
//
// Thread Safety: immutable after NewStore returns.
type Store struct {
	records []SequenceRecord
	byUID   map[string]int
}

// NewStore builds a store from rows, cloning them so later edits to the
// input slice cannot reach the store. Rows without a UID are assigned one.
// The assembled store is validated before it is returned.
func NewStore(rows []SequenceRecord) (*Store, error) {
	records := make([]SequenceRecord, len(rows))
	for i, r := range rows {
		records[i] = r.Clone()
	}

	if err := assignMissingUIDs(records); err != nil {
		return nil, err
	}

	s := &Store{records: records, byUID: indexByUID(records)}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func assignMissingUIDs(records []SequenceRecord) error {
	existing := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.UID != "" {
			existing[r.UID] = struct{}{}
		}
	}

	alloc := NewAllocator()
	for i := range records {
		if records[i].UID != "" {
			continue
		}
		uid, err := alloc.Allocate(existing)
		if err != nil {
			return fmt.Errorf("assigning uid to row %d: %w", i, err)
		}
		records[i].UID = uid
		existing[uid] = struct{}{}
	}
	return nil
}

func indexByUID(records []SequenceRecord) map[string]int {
	idx := make(map[string]int, len(records))
	for i, r := range records {
		if _, dup := idx[r.UID]; !dup {
			idx[r.UID] = i
		}
	}
	return idx
}

// Len returns the total number of rows, kept or not.
func (s *Store) Len() int {
	return len(s.records)
}

// At returns the row at position i. The returned record shares its attribute
// map with the store; callers must not mutate it.
func (s *Store) At(i int) SequenceRecord {
	return s.records[i]
}

// Record looks up a row by UID.
func (s *Store) Record(uid string) (SequenceRecord, bool) {
	i, ok := s.byUID[uid]
	if !ok {
		return SequenceRecord{}, false
	}
	return s.records[i], true
}

// Index returns the position of a row by UID.
func (s *Store) Index(uid string) (int, bool) {
	i, ok := s.byUID[uid]
	return i, ok
}

// Records returns a deep copy of every row in store order.
func (s *Store) Records() []SequenceRecord {
	out := make([]SequenceRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// UIDs returns every row identifier in store order.
func (s *Store) UIDs() []string {
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.UID
	}
	return out
}

// ExistingUIDs returns the set of identifiers already in use, in the shape
// the allocator consumes.
func (s *Store) ExistingUIDs() map[string]struct{} {
	out := make(map[string]struct{}, len(s.records))
	for _, r := range s.records {
		out[r.UID] = struct{}{}
	}
	return out
}

// KeptCount returns the number of rows with Keep set.
func (s *Store) KeptCount() int {
	n := 0
	for _, r := range s.records {
		if r.Keep {
			n++
		}
	}
	return n
}

// KeptUIDs returns the identifiers of kept rows in store order.
func (s *Store) KeptUIDs() []string {
	out := make([]string, 0, len(s.records))
	for _, r := range s.records {
		if r.Keep {
			out = append(out, r.UID)
		}
	}
	return out
}

// AlignedLength reports the shared length of the non-empty alignments, or
// zero when no row carries one.
func (s *Store) AlignedLength() int {
	for _, r := range s.records {
		if r.Alignment != "" {
			return len(r.Alignment)
		}
	}
	return 0
}

// Exclude returns a copy of the store with Keep cleared on the given rows.
//
// Description:
//
//	Rows already excluded are left as they are, so repeated exclusion is
//	harmless. Referencing an unknown UID fails with ErrUIDNotFound and a row
//	marked always-keep cannot be excluded at all; both cases leave the
//	receiver untouched and return no new store.
//
// Inputs:
//   - uids: identifiers of the rows to exclude. May be empty.
//
// Outputs:
//   - *Store: a validated copy with the requested flags cleared.
//   - error: ErrUIDNotFound, ErrAlwaysKeep, or a validation failure.
func (s *Store) Exclude(uids []string) (*Store, error) {
	for _, uid := range uids {
		i, ok := s.byUID[uid]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUIDNotFound, uid)
		}
		if s.records[i].AlwaysKeep {
			return nil, fmt.Errorf("%w: %s", ErrAlwaysKeep, uid)
		}
	}

	out := s.clone()
	for _, uid := range uids {
		i := out.byUID[uid]
		out.records[i].Keep = false
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithAlignments returns a copy of the store where each row listed in aligned
// carries the given alignment string. Rows not listed keep their current
// alignment. Unknown UIDs fail with ErrUIDNotFound.
func (s *Store) WithAlignments(aligned map[string]string) (*Store, error) {
	for uid := range aligned {
		if _, ok := s.byUID[uid]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUIDNotFound, uid)
		}
	}

	out := s.clone()
	for uid, alignment := range aligned {
		i := out.byUID[uid]
		out.records[i].Alignment = alignment
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) clone() *Store {
	records := make([]SequenceRecord, len(s.records))
	copy(records, s.records)
	return &Store{records: records, byUID: indexByUID(records)}
}
