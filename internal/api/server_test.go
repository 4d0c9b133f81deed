package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-insight/internal/artifact"
	"ev-insight/internal/errs"
	"ev-insight/internal/metrics"
	"ev-insight/internal/ml"
)

const fixturePath = "../artifact/testdata/ev_model.json"

const evBody = `{"request_id": "r-1", "features": {
	"median_household_income": 90000,
	"margin_error": 3000,
	"dem_votes": 50000,
	"rep_votes": 30000,
	"charger_density": 6e-9}}`

// writeArtifact copies the fixture into dir under a new version string.
func writeArtifact(t *testing.T, dir, version string) string {
	t.Helper()
	data, err := os.ReadFile(fixturePath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	doc["version"] = version
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, version+".json")
	require.NoError(t, os.WriteFile(path, out, 0o600))
	return path
}

type testEnv struct {
	server   *Server
	service  *ml.Service
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, path string, versions *ml.ModelManager) *testEnv {
	t.Helper()
	a, err := artifact.Load(path)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	wrapper := metrics.NewWrapper(m)

	svc, err := ml.NewService(a, ml.Config{}, wrapper, nil)
	require.NoError(t, err)

	srv := NewServer(svc, Options{Versions: versions, Observer: wrapper, Gatherer: registry})
	return &testEnv{server: srv, service: svc, registry: registry, metrics: m}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func TestPredictEndpoint(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)

	w := env.do("POST", "/predict", evBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	resp := decode[PredictionResponse](t, w)
	assert.Equal(t, "r-1", resp.RequestID)
	assert.Equal(t, "2024-12-01", resp.ModelVersion)
	assert.InDelta(t, 1825, resp.Prediction, 1e-9)
	assert.InDelta(t, 1522.5, resp.Baseline, 1e-9)
	require.Len(t, resp.Attributions, 5)
	assert.Equal(t, "charger_density", resp.Attributions[0].Name)
	assert.InDelta(t, 140, resp.Attributions[0].Value, 1e-6)
	assert.Len(t, resp.GlobalImportance, 5)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.Predictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/predict", "200")))
}

func TestPredictEndpoint_BadRequests(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)

	tests := []struct {
		name        string
		body        string
		wantMissing []string
		wantExtra   []string
	}{
		{
			name:        "missing feature",
			body:        `{"features": {"median_household_income": 1, "margin_error": 1, "dem_votes": 1, "charger_density": 1}}`,
			wantMissing: []string{"rep_votes"},
		},
		{
			name: "unknown feature",
			body: `{"features": {"median_household_income": 1, "margin_error": 1, "dem_votes": 1, "rep_votes": 1,
				"charger_density": 1, "population": 5}}`,
			wantExtra: []string{"population"},
		},
		{name: "null value", body: `{"features": {"median_household_income": null}}`},
		{name: "no features", body: `{"request_id": "x"}`},
		{name: "malformed json", body: `{"features": `},
		{name: "unknown field", body: `{"features": {}, "inputs": {}}`},
		{name: "string value", body: `{"features": {"dem_votes": "many"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("POST", "/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, "validation", resp.Kind)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantMissing, resp.Missing)
			assert.Equal(t, tt.wantExtra, resp.Extra)
		})
	}
}

func TestPredictEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)
	w := env.do("GET", "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSensitivityEndpoint(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)

	w := env.do("POST", "/sensitivity", evBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	report := decode[ml.SensitivityReport](t, w)
	assert.Equal(t, "r-1", report.ID)
	assert.Len(t, report.Entries, 4)
	assert.Equal(t, 1, report.Steps)
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)

	t.Run("schema", func(t *testing.T) {
		w := env.do("GET", "/schema", "")
		require.Equal(t, http.StatusOK, w.Code)
		schema := decode[[]artifact.Feature](t, w)
		require.Len(t, schema, 5)
		assert.Equal(t, "margin_error", schema[1].Name)
		assert.True(t, schema[1].Fixed)
	})

	t.Run("health", func(t *testing.T) {
		w := env.do("GET", "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		health := decode[ml.HealthStatus](t, w)
		assert.True(t, health.Healthy)
		assert.Equal(t, "2024-12-01", health.ModelVersion)
	})

	t.Run("drift", func(t *testing.T) {
		w := env.do("GET", "/drift", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `[]`, w.Body.String())
	})

	t.Run("model info", func(t *testing.T) {
		w := env.do("GET", "/model/info", "")
		require.Equal(t, http.StatusOK, w.Code)
		info := decode[ml.ModelInfo](t, w)
		assert.Equal(t, "2024-12-01", info.Version)
		assert.Equal(t, 2, info.Trees)
	})

	t.Run("metrics", func(t *testing.T) {
		env.do("POST", "/predict", evBody)
		w := env.do("GET", "/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "predictions_total 1")
		assert.Contains(t, w.Body.String(), `http_requests_total{code="200",route="/predict"} 1`)
	})
}

func TestReloadEndpoint(t *testing.T) {
	dir := t.TempDir()
	path := writeArtifact(t, dir, "v1")
	env := newTestEnv(t, path, nil)

	w := env.do("POST", "/model/reload", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.ModelReloads.WithLabelValues("success")))

	w = env.do("POST", "/model/reload", `{"version": "v2"}`)
	assert.Equal(t, http.StatusNotFound, w.Code, "no registry configured")

	require.NoError(t, os.WriteFile(path, []byte(`{"format_version": 1}`), 0o600))
	w = env.do("POST", "/model/reload", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "configuration", decode[ErrorResponse](t, w).Kind)
	assert.Equal(t, "v1", env.service.Info().Version, "failed reload keeps serving")
}

func TestVersionEndpoints(t *testing.T) {
	dir := t.TempDir()
	versions, err := ml.NewModelManager(filepath.Join(dir, "models"))
	require.NoError(t, err)

	for _, v := range []string{"v1", "v2"} {
		_, err := versions.AddVersion(writeArtifact(t, dir, v))
		require.NoError(t, err)
	}
	_, err = versions.ActivateVersion("v2")
	require.NoError(t, err)

	env := newTestEnv(t, filepath.Join(dir, "v2.json"), versions)

	w := env.do("GET", "/model/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]ml.ModelVersion](t, w)
	require.Len(t, list, 2)
	assert.Equal(t, "v2", list[0].Version)

	w = env.do("POST", "/model/rollback", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v1", decode[ml.ModelVersion](t, w).Version)
	assert.Equal(t, "v1", env.service.Info().Version)

	w = env.do("POST", "/model/rollback", "")
	assert.Equal(t, http.StatusConflict, w.Code, "v1 is the oldest")

	w = env.do("POST", "/model/reload", `{"version": "v2"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "v2", env.service.Info().Version)
	current, ok := versions.CurrentVersion()
	require.True(t, ok)
	assert.Equal(t, "v2", current.Version)

	w = env.do("POST", "/model/reload", `{"version": "v7"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVersionEndpoints_NoRegistry(t *testing.T) {
	env := newTestEnv(t, fixturePath, nil)
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/model/versions", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do("POST", "/model/rollback", "").Code)
}

// stubPredictor fails every prediction with err.
type stubPredictor struct {
	ml.Predictor
	err error
}

func (p stubPredictor) Predict(context.Context, ml.Request) (*ml.Result, error) {
	return nil, p.err
}

func TestPredictEndpoint_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"computation", errs.Computation(errs.ErrInvalidValue, "prediction is NaN"), http.StatusInternalServerError, "computation"},
		{"configuration", errs.Configuration(errs.ErrModelUnavailable, "no model"), http.StatusServiceUnavailable, "configuration"},
		{"deadline", errs.Computation(context.DeadlineExceeded, "timed out"), http.StatusGatewayTimeout, "computation"},
		{"dimension mismatch", errs.Computation(errs.ErrDimensionMismatch, "3 != 5"), http.StatusInternalServerError, "computation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(stubPredictor{err: tt.err}, Options{Gatherer: prometheus.NewRegistry()})
			req := httptest.NewRequest("POST", "/predict", bytes.NewBufferString(`{"features": {"a": 1}}`))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.code, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.kind, resp.Kind)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}
