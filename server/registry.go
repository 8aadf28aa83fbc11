// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cladeworks/seqcull/record"
)

// Entry is a registered store plus its provenance. Source is "upload" for
// tables received over the API, "shrink:<stage>" for single-stage results,
// and "pipeline:<run-id>" for pipeline results.
type Entry struct {
	Store     *record.Store
	Source    string
	CreatedAt time.Time
}

// Registry is the in-memory table of stores the API serves. Stores are
// immutable once registered; curation stages register their results as new
// entries instead of mutating existing ones.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Put registers a store under a fresh uuid and returns the id.
func (r *Registry) Put(s *record.Store, source string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.entries[id] = Entry{Store: s, Source: source, CreatedAt: time.Now().UTC()}
	r.mu.Unlock()
	return id
}

// Get returns the entry for id, reporting whether it exists.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	return e, ok
}

// Delete evicts id, reporting whether it was present.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	return ok
}

// Len counts the registered stores.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.entries)
	r.mu.RUnlock()
	return n
}

// IDs returns the registered store ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
