// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to Run or Resume.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNoStages is returned by Build when the pipeline has no stages.
	ErrNoStages = errors.New("pipeline has no stages")

	// ErrInvalidName is returned by Build for an empty or malformed
	// pipeline or stage name.
	ErrInvalidName = errors.New("invalid name")

	// ErrDuplicateStage is returned by Build when two stages share a name.
	ErrDuplicateStage = errors.New("duplicate stage name")

	// ErrManifestCorrupt is returned when a manifest checksum does not match
	// its contents.
	ErrManifestCorrupt = errors.New("manifest is corrupt (checksum mismatch)")

	// ErrManifestVersion is returned when a manifest was written by an
	// incompatible format version.
	ErrManifestVersion = errors.New("manifest version mismatch")

	// ErrPipelineMismatch is returned by Resume when a manifest belongs to a
	// differently named or shaped pipeline.
	ErrPipelineMismatch = errors.New("manifest does not match pipeline")

	// ErrNoCompletedStages is returned by Resume when the manifest records
	// no completed stage to restart from.
	ErrNoCompletedStages = errors.New("manifest has no completed stages")

	// ErrNilArchive is returned by Resume when snapshot loading is required
	// but the pipeline was built without an archive.
	ErrNilArchive = errors.New("pipeline has no archive")
)
