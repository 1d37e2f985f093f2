package api_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/harmoclimate/internal/api"
	"github.com/lox/harmoclimate/internal/store"
	"github.com/lox/harmoclimate/internal/training"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	s := store.New(db, logger, clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)))
	require.NoError(t, s.Migrate())
	return s
}

func seedRun(t *testing.T, s *store.Store) string {
	t.Helper()
	run, err := s.StartRun("18033001", "Bourges", "station.csv", "{}")
	require.NoError(t, err)
	require.NoError(t, s.InsertFit(store.ModelFit{
		RunID:        run.ID,
		Target:       "T",
		Observations: 17520,
		Metrics:      training.ErrorMetrics{MAE: 1.2, Bias: 0, P05: -2.4, P95: 2.5},
		LOYORMSE:     1.6,
		LOYOSkill:    math.NaN(),
		RidgeLambda:  0.01,
		Coefficients: []float64{12, -6.8, 4.1},
	}, []training.YearMetrics{
		{Year: 2020, MSEModel: 2.5, MSERef: 4.4, RMSE: 1.58, Skill: 0.43, N: 8760},
		{Year: 2021, MSEModel: 2.6, MSERef: 0, RMSE: 1.61, Skill: math.NaN(), N: 8760},
	}))
	run.Success = true
	require.NoError(t, s.CompleteRun(run))
	return run.ID
}

func get(t *testing.T, srv *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":0", nil)

	w := get(t, srv, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health api.HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Positive(t, health.SchemaVersion)
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	id := seedRun(t, s)
	srv := api.NewServer(s, ":0", nil)

	w := get(t, srv, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)

	var runs []api.RunView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "Bourges", runs[0].StationName)
	assert.True(t, runs[0].Success)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), *runs[0].FinishedAt)
}

func TestRunsEndpoint_BadLimit(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":0", nil)

	for _, limit := range []string{"0", "-3", "many"} {
		w := get(t, srv, "/api/runs?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, w.Code, limit)
	}
}

func TestFitsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	id := seedRun(t, s)
	srv := api.NewServer(s, ":0", nil)

	w := get(t, srv, "/api/runs/"+id+"/fits")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{
		"target": "T",
		"n_observations": 17520,
		"error_envelope": {"mae": 1.2, "bias": 0, "p05": -2.4, "p95": 2.5},
		"loyo_rmse": 1.6,
		"loyo_skill": null,
		"ridge_lambda": 0.01,
		"coefficients": [12, -6.8, 4.1]
	}]`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/runs/unknown/fits").Code)
}

func TestYearsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	id := seedRun(t, s)
	srv := api.NewServer(s, ":0", nil)

	w := get(t, srv, "/api/runs/"+id+"/years/T")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"year": 2020, "rmse": 1.58, "mse_model": 2.5, "mse_ref": 4.4, "skill": 0.43, "n": 8760},
		{"year": 2021, "rmse": 1.61, "mse_model": 2.6, "mse_ref": 0, "skill": null, "n": 8760}
	]`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/runs/"+id+"/years/P").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/runs/"+id+"/years/wind").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	seedRun(t, s)
	failed, err := s.StartRun("", "Bourges", "broken.csv", "{}")
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(failed))
	srv := api.NewServer(s, ":0", nil)

	w := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "harmoclimate_archived_runs 2")
	assert.Contains(t, body, "harmoclimate_archived_failed_runs 1")
	assert.Contains(t, body, "go_goroutines")
}
