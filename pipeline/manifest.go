// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ManifestVersion is the current manifest format version (semver).
const ManifestVersion = "1.0.0"

// StageStatus records how a stage run ended.
type StageStatus string

const (
	// StageCompleted marks a stage that ran to completion.
	StageCompleted StageStatus = "completed"

	// StageFailed marks a stage that returned an error.
	StageFailed StageStatus = "failed"
)

// StageEntry is one stage's record inside a run manifest.
type StageEntry struct {
	Name        string            `json:"name"`
	Params      map[string]string `json:"params,omitempty"`
	Status      StageStatus       `json:"status"`
	KeptBefore  int               `json:"kept_before"`
	KeptAfter   int               `json:"kept_after"`
	Excluded    int               `json:"excluded"`
	DurationMS  int64             `json:"duration_ms"`
	SnapshotKey string            `json:"snapshot_key,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Manifest is the durable record of a pipeline run. The checksum covers
// every other field, so a manifest can be verified long after the run.
type Manifest struct {
	RunID     string       `json:"run_id"`
	Pipeline  string       `json:"pipeline"`
	Version   string       `json:"version"`
	StartedAt time.Time    `json:"started_at"`
	Stages    []StageEntry `json:"stages"`
	Checksum  string       `json:"checksum,omitempty"`
}

func newManifest(runID, pipeline string) *Manifest {
	return &Manifest{
		RunID:     runID,
		Pipeline:  pipeline,
		Version:   ManifestVersion,
		StartedAt: time.Now().UTC(),
	}
}

// computeChecksum calculates SHA256 over the manifest with the checksum
// field cleared. JSON marshaling is deterministic for these types, so the
// digest is stable across writes.
func computeChecksum(m *Manifest) (string, error) {
	unsealed := *m
	unsealed.Checksum = ""

	data, err := json.Marshal(&unsealed)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Encode seals the manifest with a fresh checksum and returns its canonical
// JSON form.
func (m *Manifest) Encode() ([]byte, error) {
	checksum, err := computeChecksum(m)
	if err != nil {
		return nil, err
	}
	m.Checksum = checksum

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return data, nil
}

// DecodeManifest parses manifest bytes and verifies version and checksum.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrManifestVersion, m.Version, ManifestVersion)
	}

	expected, err := computeChecksum(&m)
	if err != nil {
		return nil, fmt.Errorf("compute checksum for verification: %w", err)
	}
	if m.Checksum != expected {
		return nil, ErrManifestCorrupt
	}

	return &m, nil
}

// Verify recomputes the checksum and compares it to the stored value.
func (m *Manifest) Verify() bool {
	if m == nil {
		return false
	}
	expected, err := computeChecksum(m)
	if err != nil {
		return false
	}
	return m.Checksum == expected
}

// Save writes the sealed manifest to a file.
//
// Description:
//
//	Writes atomically using temp file + rename so a crash mid-write never
//	leaves a truncated manifest behind. The parent directory must exist.
//
// Inputs:
//
//	path - Destination file path.
//
// Outputs:
//
//	error - Non-nil if sealing or any filesystem step fails.
func (m *Manifest) Save(path string) error {
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidName)
	}

	data, err := m.Encode()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}

	success = true
	return nil
}

// LoadManifest reads a manifest file and verifies its integrity.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return DecodeManifest(data)
}
