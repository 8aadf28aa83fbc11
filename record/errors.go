// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNilStore is returned when an operation receives a nil store.
	ErrNilStore = errors.New("store is nil")

	// ErrUIDNotFound is returned when a referenced UID is not in the store.
	ErrUIDNotFound = errors.New("uid not found in store")

	// ErrAlwaysKeep is returned when an exclusion targets a record that is
	// marked always-keep.
	ErrAlwaysKeep = errors.New("record is marked always-keep")

	// ErrInvalidThreshold is returned when a similarity threshold falls
	// outside the closed interval [0, 1].
	ErrInvalidThreshold = errors.New("threshold must be between 0 and 1")

	// ErrAllocationExhausted is returned when every identifier in the UID
	// space is already taken. This is fatal; callers must not retry.
	ErrAllocationExhausted = errors.New("uid space exhausted")
)

// Invariant names a structural property every valid store upholds.
type Invariant string

const (
	// InvariantUniqueUID: no two rows share a UID.
	InvariantUniqueUID Invariant = "unique-uid"

	// InvariantRequiredFields: uid, name, species and sequence are present
	// and non-empty on every row.
	InvariantRequiredFields Invariant = "required-fields"

	// InvariantAlignmentLength: all non-empty alignments share one length.
	InvariantAlignmentLength Invariant = "alignment-length"

	// InvariantAlwaysKept: a row marked always-keep also has keep set.
	InvariantAlwaysKept Invariant = "always-keep"
)

// SchemaError reports that input data is missing required columns or that a
// stage's structural precondition on the table is not met.
type SchemaError struct {
	// Missing lists the absent required columns, if any.
	Missing []string

	// Detail describes the problem when it is not a missing column.
	Detail string
}

// NewSchemaError creates a SchemaError for a set of missing columns.
func NewSchemaError(missing ...string) *SchemaError {
	return &SchemaError{Missing: missing}
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error: missing required columns: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("schema error: %s", e.Detail)
}

// InvariantError reports that a store violates one of its structural
// invariants. UIDs identifies the offending rows where known.
type InvariantError struct {
	// Invariant is the violated property.
	Invariant Invariant

	// UIDs lists the offending rows in store order.
	UIDs []string

	// Detail optionally narrows down the violation.
	Detail string
}

// NewInvariantError creates an InvariantError for the given rows.
func NewInvariantError(inv Invariant, uids ...string) *InvariantError {
	return &InvariantError{Invariant: inv, UIDs: uids}
}

// Error implements the error interface.
func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant %s violated", e.Invariant)
	if len(e.UIDs) > 0 {
		msg += fmt.Sprintf(" by %s", strings.Join(e.UIDs, ", "))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// AlignmentLengthError reports rows whose non-empty alignments disagree with
// the alignment length established by the rest of the store. It unwraps to an
// InvariantError so callers can match on the broader class.
type AlignmentLengthError struct {
	// UIDs lists the rows whose alignments have the wrong length.
	UIDs []string

	// Want is the alignment length established by the first aligned row.
	Want int

	// Got is the divergent length observed.
	Got int
}

// Error implements the error interface.
func (e *AlignmentLengthError) Error() string {
	return fmt.Sprintf("alignment length mismatch for %s: want %d, got %d",
		strings.Join(e.UIDs, ", "), e.Want, e.Got)
}

// Unwrap exposes the underlying invariant violation so that errors.As can
// match the broader class.
func (e *AlignmentLengthError) Unwrap() error {
	return &InvariantError{
		Invariant: InvariantAlignmentLength,
		UIDs:      e.UIDs,
		Detail:    fmt.Sprintf("want %d, got %d", e.Want, e.Got),
	}
}
