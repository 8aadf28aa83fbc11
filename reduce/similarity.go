// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/cladeworks/seqcull/align"
	"github.com/cladeworks/seqcull/record"
)

// Pairwise scoring configuration constants.
const (
	// serialPairThreshold is the minimum pair count to trigger parallel
	// scoring. Small batches finish before a pool is worth spinning up.
	serialPairThreshold = 32

	// maxScoreWorkers caps the number of goroutines regardless of CPU
	// count. Scoring is CPU-bound, so more workers than cores only add
	// scheduler churn.
	maxScoreWorkers = 8
)

// pair identifies two rows to compare, by their positions in the store.
// First always precedes Second in store order.
type pair struct {
	First  int
	Second int
}

// pairScore is one scored comparison, keyed by the UIDs of both rows.
type pairScore struct {
	UIDA  string
	UIDB  string
	Score float64
}

// collectPairs expands each group into its upper-triangle member pairs.
func collectPairs(s *record.Store, groups [][]string) []pair {
	var pairs []pair
	for _, group := range groups {
		idx := make([]int, 0, len(group))
		for _, uid := range group {
			if i, ok := s.Index(uid); ok {
				idx = append(idx, i)
			}
		}
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				pairs = append(pairs, pair{First: idx[i], Second: idx[j]})
			}
		}
	}
	return pairs
}

// similarity scores two records on the closed interval [0, 1].
//
// When both records carry a non-empty alignment the identity is read off the
// shared columns directly. Otherwise the raw sequences are aligned globally
// and identity is derived from that alignment.
func similarity(a, b record.SequenceRecord, sc align.Scoring) (float64, error) {
	if a.Alignment != "" && b.Alignment != "" {
		return align.AlignedIdentity(a.Alignment, b.Alignment)
	}
	return align.Global(a.Sequence, b.Sequence, sc).Identity(), nil
}

// scorePairs computes a similarity score for every pair.
//
// Description:
//
//	Batches below serialPairThreshold run inline. Larger batches fan out to
//	a bounded worker pool with per-worker result slices, so workers never
//	contend on shared state. Scores are sorted by UID pair before they are
//	returned, which makes the output independent of worker scheduling; the
//	clustering step downstream can rely on a stable order.
//
// Outputs:
//   - []pairScore: one entry per input pair, sorted by (UIDA, UIDB).
//   - error: the first scoring failure, or the context error on cancellation.
func scorePairs(ctx context.Context, s *record.Store, pairs []pair, o options) ([]pairScore, error) {
	var scores []pairScore
	var err error
	if len(pairs) <= o.serialLimit {
		scores, err = scorePairsSerial(ctx, s, pairs, o.scoring)
	} else {
		scores, err = scorePairsParallel(ctx, s, pairs, o)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].UIDA != scores[j].UIDA {
			return scores[i].UIDA < scores[j].UIDA
		}
		return scores[i].UIDB < scores[j].UIDB
	})
	return scores, nil
}

func scorePairsSerial(ctx context.Context, s *record.Store, pairs []pair, sc align.Scoring) ([]pairScore, error) {
	out := make([]pairScore, 0, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, b := s.At(p.First), s.At(p.Second)
		score, err := similarity(a, b, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, pairScore{UIDA: a.UID, UIDB: b.UID, Score: score})
	}
	return out, nil
}

func scorePairsParallel(ctx context.Context, s *record.Store, pairs []pair, o options) ([]pairScore, error) {
	sc := o.scoring
	workers := min(len(pairs), min(runtime.NumCPU(), maxScoreWorkers))
	if o.maxWorkers > 0 {
		workers = min(workers, o.maxWorkers)
	}

	// Per-worker local results to avoid lock contention
	localResults := make([][]pairScore, workers)
	errCh := make(chan error, workers)

	workChan := make(chan pair, min(len(pairs), 256))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			// Panic recovery to prevent crashes - log and report
			defer func() {
				if r := recover(); r != nil {
					buf := make([]byte, 4096)
					n := runtime.Stack(buf, false)
					slog.Error("panic in pairwise scoring worker",
						slog.Int("worker_id", workerID),
						slog.Any("panic", r),
						slog.String("stack", string(buf[:n])),
					)
					errCh <- fmt.Errorf("scoring worker %d panicked: %v", workerID, r)
				}
			}()

			local := make([]pairScore, 0, len(pairs)/workers+1)
			var workerErr error

			// Keep draining after a failure so the feeder never blocks
			// on a full channel.
			for p := range workChan {
				if workerErr != nil || ctx.Err() != nil {
					continue
				}

				a, b := s.At(p.First), s.At(p.Second)
				score, err := similarity(a, b, sc)
				if err != nil {
					workerErr = err
					continue
				}
				local = append(local, pairScore{UIDA: a.UID, UIDB: b.UID, Score: score})
			}

			if workerErr != nil {
				errCh <- workerErr
				return
			}
			localResults[workerID] = local
		}(i)
	}

	// Feed work to channel
	for _, p := range pairs {
		workChan <- p
	}
	close(workChan)
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Merge results from all workers
	out := make([]pairScore, 0, len(pairs))
	for _, local := range localResults {
		out = append(out, local...)
	}
	return out, nil
}
