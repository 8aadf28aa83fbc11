// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package record holds the in-memory table of sequence records that the
// curation stages operate on.
//
// A Store is an ordered, immutable collection of SequenceRecord rows with a
// fixed required schema plus free-form extension attributes. Rows are never
// physically removed: exclusion is expressed through the Keep flag, and every
// transformation produces a new Store, leaving the input untouched.
package record

// SequenceRecord is one row of a Store.
//
// UID, Name, Species and Sequence are required and immutable once the record
// is part of a Store. Alignment is optional; when several records in a store
// carry one, all non-empty alignments must share a single length. Keep is the
// sole exclusion mechanism, and AlwaysKeep shields a record from every
// curation stage.
type SequenceRecord struct {
	// UID is a 10-character lowercase identifier, unique within a store.
	UID string `json:"uid"`

	// Name is the gene or protein label, e.g. "LY96".
	Name string `json:"name"`

	// Species is the source organism, e.g. "Homo sapiens".
	Species string `json:"species"`

	// Sequence is the raw amino-acid string. Never empty.
	Sequence string `json:"sequence"`

	// OTT optionally references a taxonomy identifier for Species.
	// The value is opaque to this package.
	OTT string `json:"ott,omitempty"`

	// Alignment optionally holds the aligned form of Sequence, using
	// '-' for gaps.
	Alignment string `json:"alignment,omitempty"`

	// Keep marks the record as part of the active set. Defaults to true.
	Keep bool `json:"keep"`

	// AlwaysKeep protects the record from being excluded by any stage.
	AlwaysKeep bool `json:"always_keep,omitempty"`

	// Attrs carries named extension columns added by specific stages or
	// round-tripped from input tables. Opaque to the curation core.
	Attrs Attributes `json:"attrs,omitempty"`
}

// New returns a record with the required fields set and Keep enabled.
// The UID is left empty; Store construction assigns one when missing.
func New(name, species, sequence string) SequenceRecord {
	return SequenceRecord{
		Name:     name,
		Species:  species,
		Sequence: sequence,
		Keep:     true,
	}
}

// Clone returns a deep copy of the record, including its attribute map.
func (r SequenceRecord) Clone() SequenceRecord {
	out := r
	out.Attrs = r.Attrs.Clone()
	return out
}

// Attributes is the typed extension-column map attached to a record.
// Values are opaque strings; stages that add columns own their encoding.
type Attributes map[string]string

// Clone returns a copy of the attribute map. A nil map stays nil.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
