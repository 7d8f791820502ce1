package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloomrisk/internal/matrix"
	"bloomrisk/internal/services"
	"bloomrisk/internal/storage"
	"bloomrisk/pkg/logging"
	"bloomrisk/pkg/metrics"
)

type fakeHealth struct{ err error }

func (f fakeHealth) HealthCheck(ctx context.Context) error { return f.err }

type fixture struct {
	router       *mux.Router
	metrics      *metrics.Collector
	fingerprints map[string]string
}

func newFixture(t *testing.T, health HealthChecker) *fixture {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "obs.csv")
	require.NoError(t, os.WriteFile(input, []byte(
		"phenomenonTime,samplingPoint.notation,determinand.notation,result,unit\n"+
			"2020-01-10T09:30:00Z,S1,7887,25,ug/L\n"+
			"2020-02-20T10:00:00Z,S1,7887,10,ug/L\n"), 0o644))

	col := metrics.NewCollectorWithRegistry("bloomrisk", prometheus.NewRegistry())
	builder := services.NewBuildService(logging.Discard(), col)
	features := filepath.Join(dir, "features")

	fps := map[string]string{}
	for _, snap := range []string{"A", "B"} {
		snap := snap
		cfg := matrix.DefaultConfig()
		cfg.SnapshotID = &snap
		res, err := builder.Build(context.Background(), services.BuildRequest{InputPath: input, Config: cfg, OutputDir: features})
		require.NoError(t, err)
		fps[snap] = res.Metadata.FeatureConfigFingerprint
	}

	h := NewFeatureHandler(services.NewCatalogService(features, logging.Discard()), health, logging.Discard(), col)
	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &fixture{router: router, metrics: col, fingerprints: fps}
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestListFeatures(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/api/features")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Data       []storage.Metadata `json:"data"`
		Total      int                `json:"total"`
		TotalPages int                `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 1, body.TotalPages)
	require.Len(t, body.Data, 2)
	assert.Equal(t, "features_A_lb30_FEAT_V1.parquet", body.Data[0].DataFile)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.APIRequestsTotal.WithLabelValues("/api/features", "GET", "200")))
}

func TestListFeatures_Pagination(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name     string
		query    string
		wantLen  int
		wantPage int
	}{
		{"first page", "?limit=1", 1, 1},
		{"second page", "?limit=1&page=2", 1, 2},
		{"past the end", "?limit=1&page=5", 0, 5},
		{"invalid limit falls back", "?limit=-3", 2, 1},
		{"snapshot filter", "?snapshot_id=B", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.get("/api/features" + tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var body PaginatedResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			data, ok := body.Data.([]interface{})
			require.True(t, ok)
			assert.Len(t, data, tt.wantLen)
			assert.Equal(t, tt.wantPage, body.Page)
		})
	}
}

func TestGetFeature(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/api/features/" + f.fingerprints["B"])
	require.Equal(t, http.StatusOK, rec.Code)
	var meta storage.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.NotNil(t, meta.SnapshotID)
	assert.Equal(t, "B", *meta.SnapshotID)

	rec = f.get("/api/features/" + f.fingerprints["A"][:10])
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.get("/api/features/deadbeefdeadbeef")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errBody ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errBody))
	assert.Equal(t, http.StatusNotFound, errBody.Code)
	assert.Contains(t, errBody.Message, "feature_matrix not found")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.APIRequestsTotal.WithLabelValues("/api/features/{fingerprint}", "GET", "404")))
}

func TestDownloadFeature(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/api/features/" + f.fingerprints["A"] + "/data")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.apache.parquet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "features_A_lb30_FEAT_V1.parquet")
	assert.Equal(t, "PAR1", rec.Body.String()[:4])

	rec = f.get("/api/features/deadbeefdeadbeef/data")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	rec := newFixture(t, fakeHealth{}).get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = newFixture(t, fakeHealth{err: errors.New("connection refused")}).get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestDocsAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.get("/api/docs/openapi.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var spec map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &spec))
	paths, ok := spec["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/api/features/{fingerprint}/data")

	rec = f.get("/api/docs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")

	rec = f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bloomrisk_matrix_rows")
}
