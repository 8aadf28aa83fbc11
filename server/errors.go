// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import "errors"

var (
	// ErrStoreNotFound is returned when a store id has no registry entry.
	ErrStoreNotFound = errors.New("store not found")

	// ErrUnknownStage is returned when a shrink request names a stage
	// outside the known set.
	ErrUnknownStage = errors.New("unknown shrink stage")

	// ErrUnknownFormat is returned when an upload declares a table format
	// other than csv or tsv.
	ErrUnknownFormat = errors.New("unknown table format")

	// ErrEmptyUpload is returned when an upload body carries no bytes.
	ErrEmptyUpload = errors.New("upload body is empty")

	// ErrUploadTooLarge is returned when an upload exceeds the configured
	// byte limit.
	ErrUploadTooLarge = errors.New("upload exceeds size limit")

	// ErrTooManyJobs is returned when the job semaphore is exhausted and a
	// shrink or pipeline request cannot start.
	ErrTooManyJobs = errors.New("too many concurrent jobs")

	// ErrArchiveDisabled is returned when a run query reaches a server
	// that was started without an archive.
	ErrArchiveDisabled = errors.New("archive is not enabled")
)
