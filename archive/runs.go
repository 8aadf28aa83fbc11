// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/cladeworks/seqcull/record"
)

var (
	// ErrNotFound is returned when a run, snapshot or manifest does not
	// exist in the archive.
	ErrNotFound = errors.New("not found in archive")

	// ErrInvalidKey is returned for empty ids or ids containing '/'.
	ErrInvalidKey = errors.New("run and stage ids must be non-empty and must not contain '/'")
)

const runPrefix = "run/"

func validateID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return nil
}

func snapshotKey(runID, stage string) string {
	return runPrefix + runID + "/stage/" + stage
}

func manifestKey(runID string) string {
	return runPrefix + runID + "/manifest"
}

// SaveSnapshot stores a post-stage snapshot as JSON-encoded records and
// returns its key.
func (a *Archive) SaveSnapshot(ctx context.Context, runID, stage string, s *record.Store) (string, error) {
	if err := validateID(runID); err != nil {
		return "", err
	}
	if err := validateID(stage); err != nil {
		return "", err
	}
	if s == nil {
		return "", record.ErrNilStore
	}

	data, err := json.Marshal(s.Records())
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := snapshotKey(runID, stage)
	err = a.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", key, err)
	}

	a.logger.Debug("snapshot archived",
		slog.String("run_id", runID),
		slog.String("stage", stage),
		slog.Int("rows", s.Len()),
	)
	return key, nil
}

// LoadSnapshot restores a snapshot into a validated store.
func (a *Archive) LoadSnapshot(ctx context.Context, runID, stage string) (*record.Store, error) {
	if err := validateID(runID); err != nil {
		return nil, err
	}
	if err := validateID(stage); err != nil {
		return nil, err
	}

	var data []byte
	err := a.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapshotKey(runID, stage)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: snapshot for run %s stage %s", ErrNotFound, runID, stage)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var rows []record.SequenceRecord
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return record.NewStore(rows)
}

// SaveManifest stores the sealed manifest bytes for a run.
func (a *Archive) SaveManifest(ctx context.Context, runID string, data []byte) error {
	if err := validateID(runID); err != nil {
		return err
	}

	err := a.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(manifestKey(runID)), data)
	})
	if err != nil {
		return fmt.Errorf("write manifest for run %s: %w", runID, err)
	}

	a.logger.Debug("manifest archived", slog.String("run_id", runID))
	return nil
}

// LoadManifest returns the manifest bytes for a run.
func (a *Archive) LoadManifest(ctx context.Context, runID string) ([]byte, error) {
	if err := validateID(runID); err != nil {
		return nil, err
	}

	var data []byte
	err := a.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(manifestKey(runID)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: manifest for run %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return data, nil
}

// Runs lists archived run ids in sorted order via a key prefix scan.
func (a *Archive) Runs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	err := a.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(runPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, runPrefix)
			if id, _, ok := strings.Cut(rest, "/"); ok {
				seen[id] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Snapshots lists the snapshot stage names stored for a run, in lexical
// order.
func (a *Archive) Snapshots(ctx context.Context, runID string) ([]string, error) {
	if err := validateID(runID); err != nil {
		return nil, err
	}

	prefix := runPrefix + runID + "/stage/"
	var stages []string

	err := a.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			stages = append(stages, strings.TrimPrefix(key, prefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots for run %s: %w", runID, err)
	}
	return stages, nil
}

// DeleteRun removes every artifact of a run. Returns ErrNotFound when the
// run has none.
func (a *Archive) DeleteRun(ctx context.Context, runID string) error {
	if err := validateID(runID); err != nil {
		return err
	}

	prefix := runPrefix + runID + "/"
	deleted := 0

	err := a.WithTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)

		var keys [][]byte
		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}

	a.logger.Info("run deleted from archive",
		slog.String("run_id", runID),
		slog.Int("keys", deleted),
	)
	return nil
}
