// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package record

import (
	"math"
	"math/rand/v2"
)

// UIDLength is the fixed width of every allocated identifier.
const UIDLength = 10

// uidAlphabet is the character set identifiers are drawn from. Lowercase
// letters keep identifiers stable across case-insensitive filesystems and
// tools that fold FASTA headers.
const uidAlphabet = "abcdefghijklmnopqrstuvwxyz"

// maxRandomDraws bounds the random probing phase before the allocator falls
// back to a deterministic sweep of the identifier space.
const maxRandomDraws = 64

// Allocator hands out identifiers that do not collide with an existing set.
//
// Allocation draws random candidates first. On a crowded space it switches
// to walking successive identifiers from the last candidate, which finds a
// free slot whenever one exists. ErrAllocationExhausted is returned only
// when the space provably holds no free identifier.
type Allocator struct {
	alphabet string
	length   int
}

// NewAllocator returns an allocator for the standard identifier space of
// lowercase letters at UIDLength characters.
func NewAllocator() *Allocator {
	return newAllocator(uidAlphabet, UIDLength)
}

// newAllocator exists so tests can shrink the identifier space enough to
// exhaust it.
func newAllocator(alphabet string, length int) *Allocator {
	return &Allocator{alphabet: alphabet, length: length}
}

// Allocate returns an identifier absent from existing. The caller owns
// existing and is responsible for inserting the returned identifier before
// the next call.
func (a *Allocator) Allocate(existing map[string]struct{}) (string, error) {
	if capacity, bounded := a.capacity(); bounded && len(existing) >= capacity {
		return "", ErrAllocationExhausted
	}

	for i := 0; i < maxRandomDraws; i++ {
		candidate := a.random()
		if _, taken := existing[candidate]; !taken {
			return candidate, nil
		}
	}

	// The space is crowded. Walk successors from a random start; the
	// capacity check above guarantees a free slot exists.
	candidate := a.random()
	start := candidate
	for {
		if _, taken := existing[candidate]; !taken {
			return candidate, nil
		}
		candidate = a.successor(candidate)
		if candidate == start {
			return "", ErrAllocationExhausted
		}
	}
}

// capacity returns the size of the identifier space. The second result is
// false when the space overflows an int, in which case it can never be
// exhausted in practice.
func (a *Allocator) capacity() (int, bool) {
	capacity := 1
	for i := 0; i < a.length; i++ {
		if capacity > math.MaxInt/len(a.alphabet) {
			return 0, false
		}
		capacity *= len(a.alphabet)
	}
	return capacity, true
}

func (a *Allocator) random() string {
	buf := make([]byte, a.length)
	for i := range buf {
		buf[i] = a.alphabet[rand.IntN(len(a.alphabet))]
	}
	return string(buf)
}

// successor returns the next identifier in lexicographic order, wrapping
// from the highest identifier back to the lowest.
func (a *Allocator) successor(uid string) string {
	buf := []byte(uid)
	last := a.alphabet[len(a.alphabet)-1]
	for i := len(buf) - 1; i >= 0; i-- {
		if buf[i] != last {
			buf[i] = a.alphabet[indexInAlphabet(a.alphabet, buf[i])+1]
			return string(buf)
		}
		buf[i] = a.alphabet[0]
	}
	return string(buf)
}

func indexInAlphabet(alphabet string, c byte) int {
	for i := 0; i < len(alphabet); i++ {
		if alphabet[i] == c {
			return i
		}
	}
	return -1
}
