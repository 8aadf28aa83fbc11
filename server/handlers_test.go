// Copyright (C) 2025 Cladeworks (maintainers@cladeworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cladeworks/seqcull/archive"
	"github.com/cladeworks/seqcull/reduce"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

// curationCSV has two identical Homo sapiens rows that the species stage
// collapses, plus one unrelated row. All alignments are 20 columns.
const curationCSV = `uid,name,species,sequence,alignment
aaaaaaaaaa,LY96,Homo sapiens,MLPFLFFSTLFSSIFTEAQ,MLPFLFFSTLFSSIFTEAQ-
bbbbbbbbbb,LY96,Homo sapiens,MLPFLFFSTLFSSIFTEAQ,MLPFLFFSTLFSSIFTEAQ-
cccccccccc,LY86,Danio rerio,WAKCYTREGQNDWAERRTE,WAKCYTREGQNDWAERRTE-
`

// speciesCSV carries no alignment column and one pre-excluded row.
const speciesCSV = `uid,name,species,sequence,keep
aaaaaaaaaa,LY96,Homo sapiens,MLPFL,true
bbbbbbbbbb,LY96,Mus musculus,MLPFS,true
cccccccccc,LY86,Danio rerio,WAKCY,false
`

func setupTestRouter(t *testing.T, cfg Config, arc RunArchive) (*gin.Engine, *Handlers) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(cfg, arc, logger)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, h)
	return router, h
}

func doRequest(t *testing.T, router *gin.Engine, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func uploadStore(t *testing.T, router *gin.Engine, body string) StoreCreatedResponse {
	t.Helper()
	w := doRequest(t, router, "POST", "/v1/seqcull/stores", "text/csv", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp StoreCreatedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code
}

func TestHandlers_HandleHealth(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	w := doRequest(t, router, "GET", "/v1/seqcull/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Equal(t, 0, resp.Stores)
	assert.False(t, resp.ArchiveEnabled)
}

func TestHandlers_CreateStore(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	created := uploadStore(t, router, curationCSV)
	assert.Len(t, created.StoreID, 36)
	assert.Equal(t, 3, created.Rows)
	assert.Equal(t, 3, created.Kept)

	w := doRequest(t, router, "GET", "/v1/seqcull/stores/"+created.StoreID, "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var summary StoreSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, created.StoreID, summary.StoreID)
	assert.Equal(t, "upload", summary.Source)
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 3, summary.Kept)
	assert.Equal(t, 20, summary.AlignedLength)
	assert.Equal(t, []SpeciesCount{
		{Species: "Homo sapiens", Rows: 2, Kept: 2},
		{Species: "Danio rerio", Rows: 1, Kept: 1},
	}, summary.Species)
}

func TestHandlers_CreateStore_TSV(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	tsv := strings.ReplaceAll(curationCSV, ",", "\t")

	t.Run("format query", func(t *testing.T) {
		w := doRequest(t, router, "POST", "/v1/seqcull/stores?format=tsv", "text/plain", tsv)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})

	t.Run("content type", func(t *testing.T) {
		w := doRequest(t, router, "POST", "/v1/seqcull/stores", "text/tab-separated-values", tsv)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	})
}

func TestHandlers_CreateStore_Errors(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "empty body",
			path:       "/v1/seqcull/stores",
			body:       "",
			wantStatus: http.StatusBadRequest,
			wantCode:   "EMPTY_UPLOAD",
		},
		{
			name:       "unknown format",
			path:       "/v1/seqcull/stores?format=xlsx",
			body:       curationCSV,
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNKNOWN_FORMAT",
		},
		{
			name:       "missing required column",
			path:       "/v1/seqcull/stores",
			body:       "uid,name,sequence\naaaaaaaaaa,LY96,MLPFL\n",
			wantStatus: http.StatusBadRequest,
			wantCode:   "SCHEMA_ERROR",
		},
		{
			name:       "bad keep value",
			path:       "/v1/seqcull/stores",
			body:       "name,species,sequence,keep\nLY96,Homo sapiens,MLPFL,maybe\n",
			wantStatus: http.StatusBadRequest,
			wantCode:   "SCHEMA_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, "POST", tt.path, "text/csv", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestHandlers_CreateStore_TooLarge(t *testing.T) {
	router, _ := setupTestRouter(t, Config{MaxUploadBytes: 16}, nil)

	w := doRequest(t, router, "POST", "/v1/seqcull/stores", "text/csv", curationCSV)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "UPLOAD_TOO_LARGE", errorCode(t, w))
}

func TestHandlers_GetStore_NotFound(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	w := doRequest(t, router, "GET", "/v1/seqcull/stores/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "STORE_NOT_FOUND", errorCode(t, w))
}

func TestHandlers_ListRecords(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, speciesCSV)
	base := "/v1/seqcull/stores/" + created.StoreID + "/records"

	list := func(t *testing.T, query string) RecordsResponse {
		t.Helper()
		w := doRequest(t, router, "GET", base+query, "", "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp RecordsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	t.Run("all", func(t *testing.T) {
		resp := list(t, "")
		assert.Equal(t, 3, resp.Count)
		assert.Len(t, resp.Records, 3)
		assert.Equal(t, "aaaaaaaaaa", resp.Records[0].UID)
	})

	t.Run("species filter", func(t *testing.T) {
		resp := list(t, "?species=Danio+rerio")
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "cccccccccc", resp.Records[0].UID)
	})

	t.Run("kept only", func(t *testing.T) {
		resp := list(t, "?kept=true")
		assert.Equal(t, 2, resp.Count)
	})

	t.Run("excluded only", func(t *testing.T) {
		resp := list(t, "?kept=false")
		require.Equal(t, 1, resp.Count)
		assert.Equal(t, "cccccccccc", resp.Records[0].UID)
	})

	t.Run("invalid kept", func(t *testing.T) {
		w := doRequest(t, router, "GET", base+"?kept=maybe", "", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_QUERY", errorCode(t, w))
	})
}

func TestHandlers_Shrink(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, curationCSV)

	w := doRequest(t, router, "POST", "/v1/seqcull/stores/"+created.StoreID+"/shrink",
		"application/json", `{"stage": "species", "threshold": 0.9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp ShrinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEqual(t, created.StoreID, resp.StoreID)
	require.NotNil(t, resp.Report)
	assert.Equal(t, reduce.StageInSpecies, resp.Report.Stage)
	assert.Equal(t, 0.9, resp.Report.Threshold)
	assert.Equal(t, 3, resp.Report.KeptBefore)
	assert.Equal(t, 2, resp.Report.KeptAfter)
	assert.Equal(t, []string{"bbbbbbbbbb"}, resp.Report.Excluded)

	// The input store stays untouched and registered.
	w = doRequest(t, router, "GET", "/v1/seqcull/stores/"+created.StoreID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary StoreSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Kept)

	// The canonical stage name runs against the curated store too.
	w = doRequest(t, router, "POST", "/v1/seqcull/stores/"+resp.StoreID+"/shrink",
		"application/json", `{"stage": "shrink-redundant"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var second ShrinkResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, reduce.StageRedundant, second.Report.Stage)
	assert.Equal(t, 2, second.Report.KeptBefore)
}

func TestHandlers_Shrink_Errors(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, speciesCSV)
	path := "/v1/seqcull/stores/" + created.StoreID + "/shrink"

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid body",
			path:       path,
			body:       "{not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown stage",
			path:       path,
			body:       `{"stage": "banana"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNKNOWN_STAGE",
		},
		{
			name:       "invalid threshold",
			path:       path,
			body:       `{"stage": "species", "threshold": 1.5}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_THRESHOLD",
		},
		{
			name:       "aligners without alignments",
			path:       path,
			body:       `{"stage": "aligners"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "SCHEMA_ERROR",
		},
		{
			name:       "store not found",
			path:       "/v1/seqcull/stores/nope/shrink",
			body:       `{"stage": "species"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "STORE_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, "POST", tt.path, "application/json", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.wantCode, errorCode(t, w))
		})
	}
}

func TestHandlers_Shrink_Busy(t *testing.T) {
	router, h := setupTestRouter(t, Config{MaxConcurrentJobs: 1}, nil)
	created := uploadStore(t, router, curationCSV)

	require.True(t, h.jobs.TryAcquire(1))
	defer h.jobs.Release(1)

	w := doRequest(t, router, "POST", "/v1/seqcull/stores/"+created.StoreID+"/shrink",
		"application/json", `{"stage": "species"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "TOO_MANY_JOBS", errorCode(t, w))
}

func TestHandlers_Pipeline(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, curationCSV)

	w := doRequest(t, router, "POST", "/v1/seqcull/stores/"+created.StoreID+"/pipeline", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp PipelineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.RunID, 36)
	assert.Equal(t, 3, resp.Rows)
	assert.Equal(t, 2, resp.Kept)
	require.Len(t, resp.Reports, 2)
	assert.Equal(t, reduce.StageInSpecies, resp.Reports[0].Stage)
	assert.Equal(t, reduce.StageRedundant, resp.Reports[1].Stage)

	require.NotNil(t, resp.Manifest)
	assert.Equal(t, resp.RunID, resp.Manifest.RunID)
	assert.True(t, resp.Manifest.Verify())

	// The curated store is registered and queryable.
	w = doRequest(t, router, "GET", "/v1/seqcull/stores/"+resp.StoreID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summary StoreSummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Kept)
	assert.Equal(t, "pipeline:"+resp.RunID, summary.Source)
}

func TestHandlers_Pipeline_CustomStages(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, curationCSV)
	path := "/v1/seqcull/stores/" + created.StoreID + "/pipeline"

	t.Run("single stage", func(t *testing.T) {
		w := doRequest(t, router, "POST", path, "application/json",
			`{"stages": ["species"], "in_species_threshold": 0.9}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp PipelineResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Reports, 1)
		assert.Equal(t, 0.9, resp.Reports[0].Threshold)
	})

	t.Run("unknown stage", func(t *testing.T) {
		w := doRequest(t, router, "POST", path, "application/json", `{"stages": ["banana"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "UNKNOWN_STAGE", errorCode(t, w))
	})

	t.Run("duplicate stage", func(t *testing.T) {
		w := doRequest(t, router, "POST", path, "application/json",
			`{"stages": ["species", "species"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_PIPELINE", errorCode(t, w))
	})

	t.Run("store not found", func(t *testing.T) {
		w := doRequest(t, router, "POST", "/v1/seqcull/stores/nope/pipeline", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "STORE_NOT_FOUND", errorCode(t, w))
	})
}

func TestHandlers_Pipeline_WithArchive(t *testing.T) {
	arc, err := archive.Open(archive.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = arc.Close() })

	router, _ := setupTestRouter(t, DefaultConfig(), arc)
	created := uploadStore(t, router, curationCSV)

	w := doRequest(t, router, "POST", "/v1/seqcull/stores/"+created.StoreID+"/pipeline", "", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp PipelineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	w = doRequest(t, router, "GET", "/v1/seqcull/runs", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var runs RunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Equal(t, []string{resp.RunID}, runs.Runs)

	// The health endpoint reports the archive.
	w = doRequest(t, router, "GET", "/v1/seqcull/health", "", "")
	var health HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.True(t, health.ArchiveEnabled)
}

func TestHandlers_ListRuns_Disabled(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	w := doRequest(t, router, "GET", "/v1/seqcull/runs", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "ARCHIVE_DISABLED", errorCode(t, w))
}

func TestHandlers_DeleteStore(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)
	created := uploadStore(t, router, curationCSV)

	w := doRequest(t, router, "DELETE", "/v1/seqcull/stores/"+created.StoreID, "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp StoreDeletedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Deleted)

	w = doRequest(t, router, "GET", "/v1/seqcull/stores/"+created.StoreID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, router, "DELETE", "/v1/seqcull/stores/"+created.StoreID, "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_RequestID(t *testing.T) {
	router, _ := setupTestRouter(t, DefaultConfig(), nil)

	t.Run("echoes provided id", func(t *testing.T) {
		req, err := http.NewRequest("GET", "/v1/seqcull/stores/nope", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "req-12345")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "req-12345", w.Header().Get("X-Request-ID"))
	})

	t.Run("generates when absent", func(t *testing.T) {
		w := doRequest(t, router, "GET", "/v1/seqcull/stores/nope", "", "")
		assert.Len(t, w.Header().Get("X-Request-ID"), 36)
	})
}
