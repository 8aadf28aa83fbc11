// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package seqio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cladeworks/seqcull/record"
)

var (
	// ErrNilSource is returned when BuildStore receives no sequence source.
	ErrNilSource = errors.New("sequence source is nil")

	// ErrSequenceNotFound is returned by StaticSource for an unknown
	// name and species combination.
	ErrSequenceNotFound = errors.New("no sequence for record")
)

// Seed is the caller-provided part of a row before its sequence is fetched.
// A seed carrying its own Sequence skips the source lookup.
type Seed struct {
	Name       string
	Species    string
	OTT        string
	Sequence   string
	AlwaysKeep bool
	Attrs      record.Attributes
}

// SequenceSource resolves a seed to its amino-acid sequence.
type SequenceSource interface {
	Fetch(ctx context.Context, name, species string) (string, error)
}

// BuildStore fetches a sequence for every seed and assembles a validated
// store with freshly allocated UIDs.
//
// Seeds are processed in order and the first fetch failure aborts the build;
// no partial store is returned.
func BuildStore(ctx context.Context, seeds []Seed, source SequenceSource) (*record.Store, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	slog.Debug("building store from seeds", slog.Int("seeds", len(seeds)))

	rows := make([]record.SequenceRecord, 0, len(seeds))
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sequence := seed.Sequence
		if sequence == "" {
			var err error
			sequence, err = source.Fetch(ctx, seed.Name, seed.Species)
			if err != nil {
				return nil, fmt.Errorf("fetching sequence for %s (%s): %w", seed.Name, seed.Species, err)
			}
		}

		row := record.New(seed.Name, seed.Species, sequence)
		row.OTT = seed.OTT
		row.AlwaysKeep = seed.AlwaysKeep
		row.Attrs = seed.Attrs.Clone()
		rows = append(rows, row)
	}

	s, err := record.NewStore(rows)
	if err != nil {
		return nil, err
	}

	slog.Info("store built", slog.Int("rows", s.Len()))
	return s, nil
}

type sourceKey struct {
	name    string
	species string
}

// StaticSource serves sequences from memory. Useful for tests and for
// tables that already carry their sequences.
type StaticSource struct {
	seqs map[sourceKey]string
}

// NewStaticSource returns an empty source.
func NewStaticSource() *StaticSource {
	return &StaticSource{seqs: make(map[sourceKey]string)}
}

// Add registers a sequence for a name and species combination, replacing
// any previous entry.
func (s *StaticSource) Add(name, species, sequence string) {
	s.seqs[sourceKey{name: name, species: species}] = sequence
}

// Fetch implements SequenceSource.
func (s *StaticSource) Fetch(_ context.Context, name, species string) (string, error) {
	seq, ok := s.seqs[sourceKey{name: name, species: species}]
	if !ok {
		return "", fmt.Errorf("%w: %s (%s)", ErrSequenceNotFound, name, species)
	}
	return seq, nil
}
