// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladeworks/seqcull/record"
	"github.com/cladeworks/seqcull/reduce"
)

func pipelineRows() []record.SequenceRecord {
	return []record.SequenceRecord{
		{UID: "aaaaaaaaaa", Name: "LY96", Species: "Homo sapiens",
			Sequence: "MLPFLFFSTLFSSIFTEAQ", Alignment: "MLPFLFFSTLFSSIFTEAQ-", Keep: true},
		{UID: "bbbbbbbbbb", Name: "LY96", Species: "Homo sapiens",
			Sequence: "MLPFLFFSTLFSSIFTEAQ", Alignment: "MLPFLFFSTLFSSIFTEAQ-", Keep: true},
		{UID: "cccccccccc", Name: "LY86", Species: "Danio rerio",
			Sequence: "WAKCYTREGQNDWAERRTE", Alignment: "WAKCYTREGQNDWAERRTE-", Keep: true},
	}
}

func mustStore(t *testing.T, rows []record.SequenceRecord) *record.Store {
	t.Helper()
	s, err := record.NewStore(rows)
	require.NoError(t, err)
	return s
}

func mustBuild(t *testing.T, b *Builder) *Pipeline {
	t.Helper()
	p, err := b.Build()
	require.NoError(t, err)
	return p
}

// memArchive is an in-memory Archiver for tests.
type memArchive struct {
	mu        sync.Mutex
	snapshots map[string]*record.Store
	manifests map[string][]byte
}

func newMemArchive() *memArchive {
	return &memArchive{
		snapshots: make(map[string]*record.Store),
		manifests: make(map[string][]byte),
	}
}

func snapshotKey(runID, stage string) string {
	return "run/" + runID + "/stage/" + stage
}

func (a *memArchive) SaveSnapshot(_ context.Context, runID, stage string, s *record.Store) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := snapshotKey(runID, stage)
	a.snapshots[key] = s
	return key, nil
}

func (a *memArchive) LoadSnapshot(_ context.Context, runID, stage string) (*record.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.snapshots[snapshotKey(runID, stage)]
	if !ok {
		return nil, fmt.Errorf("no snapshot for run %s stage %s", runID, stage)
	}
	return s, nil
}

func (a *memArchive) SaveManifest(_ context.Context, runID string, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.manifests[runID] = append([]byte(nil), data...)
	return nil
}

func (a *memArchive) manifest(t *testing.T, runID string) *Manifest {
	t.Helper()
	a.mu.Lock()
	data, ok := a.manifests[runID]
	a.mu.Unlock()
	require.True(t, ok, "no manifest for run %s", runID)
	m, err := DecodeManifest(data)
	require.NoError(t, err)
	return m
}

// errorStage always fails.
type errorStage struct {
	err error
}

func (e *errorStage) Name() string { return "boom" }

func (e *errorStage) Run(_ context.Context, _ *record.Store) (*record.Store, *reduce.Report, error) {
	return nil, nil, e.err
}

// TestBuilder_Build verifies stage ordering and naming survive Build.
func TestBuilder_Build(t *testing.T) {
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		Add(Aligners(reduce.DefaultCriteria())))

	assert.Equal(t, "curation", p.Name())
	assert.Equal(t,
		[]string{"shrink-in-species", "shrink-redundant", "shrink-aligners"},
		p.StageNames())
}

// TestBuilder_Validation verifies Build rejects malformed pipelines.
func TestBuilder_Validation(t *testing.T) {
	_, err := NewBuilder("").Add(InSpecies(0.95)).Build()
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = NewBuilder("my pipeline").Add(InSpecies(0.95)).Build()
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = NewBuilder("curation").Build()
	assert.ErrorIs(t, err, ErrNoStages)

	_, err = NewBuilder("curation").Add(InSpecies(0.95), InSpecies(0.8)).Build()
	assert.ErrorIs(t, err, ErrDuplicateStage)

	_, err = NewBuilder("curation").Add(nil).Build()
	assert.ErrorIs(t, err, ErrInvalidName)
}

// TestPipeline_Run verifies the full chain collapses the duplicate and
// records every stage in the manifest.
func TestPipeline_Run(t *testing.T) {
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9), Aligners(reduce.DefaultCriteria())))

	s := mustStore(t, pipelineRows())
	res, err := p.Run(context.Background(), s)
	require.NoError(t, err)

	assert.Len(t, res.RunID, 36)
	assert.Equal(t, []string{"aaaaaaaaaa", "cccccccccc"}, res.Store.KeptUIDs())
	assert.Equal(t, 3, s.KeptCount(), "input store must stay untouched")

	require.Len(t, res.Reports, 3)
	assert.Equal(t, reduce.StageInSpecies, res.Reports[0].Stage)
	assert.Equal(t, 3, res.Reports[0].KeptBefore)
	assert.Equal(t, 2, res.Reports[0].KeptAfter)

	m := res.Manifest
	require.NotNil(t, m)
	assert.True(t, m.Verify())
	require.Len(t, m.Stages, 3)
	for _, entry := range m.Stages {
		assert.Equal(t, StageCompleted, entry.Status)
	}
	assert.Equal(t, map[string]string{"threshold": "0.95"}, m.Stages[0].Params)
	assert.Equal(t, 1, m.Stages[0].Excluded)
	assert.Equal(t, 0, m.Stages[1].Excluded)
}

// TestPipeline_Run_WithArchive verifies snapshots and manifests land in the
// archive with their keys recorded.
func TestPipeline_Run_WithArchive(t *testing.T) {
	arc := newMemArchive()
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		WithArchive(arc))

	res, err := p.Run(context.Background(), mustStore(t, pipelineRows()))
	require.NoError(t, err)

	for i, name := range p.StageNames() {
		key := snapshotKey(res.RunID, name)
		assert.Contains(t, arc.snapshots, key)
		assert.Equal(t, key, res.Manifest.Stages[i].SnapshotKey)
	}

	stored := arc.manifest(t, res.RunID)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Len(t, stored.Stages, 2)
}

// TestPipeline_Run_StageFailure verifies the failure is recorded in the
// persisted manifest before the error propagates.
func TestPipeline_Run_StageFailure(t *testing.T) {
	arc := newMemArchive()
	boom := errors.New("scoring blew up")
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), &errorStage{err: boom}).
		WithArchive(arc))

	res, err := p.Run(context.Background(), mustStore(t, pipelineRows()))
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "boom")
	assert.Nil(t, res)

	require.Len(t, arc.manifests, 1)
	var runID string
	for id := range arc.manifests {
		runID = id
	}
	m := arc.manifest(t, runID)
	require.Len(t, m.Stages, 2)
	assert.Equal(t, StageCompleted, m.Stages[0].Status)
	assert.Equal(t, StageFailed, m.Stages[1].Status)
	assert.Equal(t, "scoring blew up", m.Stages[1].Error)
}

// TestPipeline_Run_NilInputs verifies the guard errors.
func TestPipeline_Run_NilInputs(t *testing.T) {
	p := mustBuild(t, NewBuilder("curation").Add(InSpecies(0.95)))

	_, err := p.Run(context.Background(), nil)
	assert.ErrorIs(t, err, record.ErrNilStore)

	var nilCtx context.Context
	_, err = p.Run(nilCtx, mustStore(t, pipelineRows()))
	assert.ErrorIs(t, err, ErrNilContext)
}

// TestPipeline_Run_CancelledContext verifies cancellation aborts the run
// and is recorded as the stage failure.
func TestPipeline_Run_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	arc := newMemArchive()
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95)).
		WithArchive(arc))

	_, err := p.Run(ctx, mustStore(t, pipelineRows()))
	assert.ErrorIs(t, err, context.Canceled)
}

// TestPipeline_Resume verifies the run restarts after the last completed
// stage using the archived snapshot.
func TestPipeline_Resume(t *testing.T) {
	arc := newMemArchive()

	first := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95)).
		WithArchive(arc))
	firstRes, err := first.Run(context.Background(), mustStore(t, pipelineRows()))
	require.NoError(t, err)

	full := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		WithArchive(arc))

	res, err := full.Resume(context.Background(), firstRes.Manifest)
	require.NoError(t, err)

	assert.Equal(t, firstRes.RunID, res.RunID)
	assert.Equal(t, []string{"aaaaaaaaaa", "cccccccccc"}, res.Store.KeptUIDs())

	require.Len(t, res.Reports, 1, "only the resumed stage runs")
	assert.Equal(t, reduce.StageRedundant, res.Reports[0].Stage)

	require.Len(t, res.Manifest.Stages, 2)
	assert.Equal(t, "shrink-in-species", res.Manifest.Stages[0].Name)
	assert.Equal(t, "shrink-redundant", res.Manifest.Stages[1].Name)
}

// TestPipeline_Resume_RetriesFailedStage verifies a failed entry is dropped
// and its stage re-run.
func TestPipeline_Resume_RetriesFailedStage(t *testing.T) {
	arc := newMemArchive()
	boom := errors.New("transient")

	broken := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), &errorStage{err: boom}).
		WithArchive(arc))
	_, err := broken.Run(context.Background(), mustStore(t, pipelineRows()))
	require.ErrorIs(t, err, boom)

	var runID string
	for id := range arc.manifests {
		runID = id
	}
	m := arc.manifest(t, runID)

	fixed := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		WithArchive(arc))

	res, err := fixed.Resume(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, res.Manifest.Stages, 2)
	assert.Equal(t, StageCompleted, res.Manifest.Stages[1].Status)
	assert.Equal(t, "shrink-redundant", res.Manifest.Stages[1].Name)
}

// TestPipeline_Resume_AllCompleted verifies a finished run resumes into a
// no-op that returns the last snapshot.
func TestPipeline_Resume_AllCompleted(t *testing.T) {
	arc := newMemArchive()
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		WithArchive(arc))

	firstRes, err := p.Run(context.Background(), mustStore(t, pipelineRows()))
	require.NoError(t, err)

	res, err := p.Resume(context.Background(), firstRes.Manifest)
	require.NoError(t, err)
	assert.Equal(t, firstRes.RunID, res.RunID)
	assert.Empty(t, res.Reports)
	assert.Equal(t, firstRes.Store.KeptUIDs(), res.Store.KeptUIDs())
}

// TestPipeline_Resume_Guards verifies the verification errors.
func TestPipeline_Resume_Guards(t *testing.T) {
	arc := newMemArchive()
	p := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95), Redundant(0.9)).
		WithArchive(arc))

	firstStage := mustBuild(t, NewBuilder("curation").
		Add(InSpecies(0.95)).
		WithArchive(arc))
	firstRes, err := firstStage.Run(context.Background(), mustStore(t, pipelineRows()))
	require.NoError(t, err)

	t.Run("nil manifest", func(t *testing.T) {
		_, err := p.Resume(context.Background(), nil)
		assert.ErrorIs(t, err, ErrPipelineMismatch)
	})

	t.Run("corrupt manifest", func(t *testing.T) {
		tampered := *firstRes.Manifest
		tampered.Stages = append([]StageEntry(nil), tampered.Stages...)
		tampered.Stages[0].KeptAfter = 99
		_, err := p.Resume(context.Background(), &tampered)
		assert.ErrorIs(t, err, ErrManifestCorrupt)
	})

	t.Run("wrong pipeline name", func(t *testing.T) {
		other := mustBuild(t, NewBuilder("other").
			Add(InSpecies(0.95)).
			WithArchive(arc))
		otherRes, err := other.Run(context.Background(), mustStore(t, pipelineRows()))
		require.NoError(t, err)

		_, err = p.Resume(context.Background(), otherRes.Manifest)
		assert.ErrorIs(t, err, ErrPipelineMismatch)
	})

	t.Run("stage name mismatch", func(t *testing.T) {
		reordered := mustBuild(t, NewBuilder("curation").
			Add(Redundant(0.9), InSpecies(0.95)).
			WithArchive(arc))
		_, err := reordered.Resume(context.Background(), firstRes.Manifest)
		assert.ErrorIs(t, err, ErrPipelineMismatch)
	})

	t.Run("no archive", func(t *testing.T) {
		bare := mustBuild(t, NewBuilder("curation").
			Add(InSpecies(0.95), Redundant(0.9)))
		_, err := bare.Resume(context.Background(), firstRes.Manifest)
		assert.ErrorIs(t, err, ErrNilArchive)
	})

	t.Run("nothing completed", func(t *testing.T) {
		broken := mustBuild(t, NewBuilder("curation").
			Add(&errorStage{err: errors.New("boom")}).
			WithArchive(arc))
		_, err := broken.Run(context.Background(), mustStore(t, pipelineRows()))
		require.Error(t, err)

		m := &Manifest{}
		for _, data := range arc.manifests {
			decoded, derr := DecodeManifest(data)
			require.NoError(t, derr)
			if decoded.Stages[0].Status == StageFailed {
				m = decoded
				break
			}
		}
		require.NotEmpty(t, m.RunID)

		retry := mustBuild(t, NewBuilder("curation").
			Add(&errorStage{err: errors.New("boom")}).
			WithArchive(arc))
		_, err = retry.Resume(context.Background(), m)
		assert.ErrorIs(t, err, ErrNoCompletedStages)
	})
}

// TestStageAdapters_Params verifies manifest parameters for the shrink
// stages.
func TestStageAdapters_Params(t *testing.T) {
	in, ok := InSpecies(0.95).(paramStage)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"threshold": "0.95"}, in.Params())

	al, ok := Aligners(reduce.Criteria{MaxGapFraction: 0.5, MaxLengthDeviation: 0.25}).(paramStage)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"max_gap_fraction":     "0.5",
		"max_length_deviation": "0.25",
	}, al.Params())
}
