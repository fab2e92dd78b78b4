package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategos/internal/dataset"
	"strategos/internal/expr"
	"strategos/internal/model"
	"strategos/internal/sandbox"
	"strategos/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))

	exec := sandbox.NewLocalExecutor(sandbox.DefaultLimits())
	data := dataset.Synthetic(50, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, "run-1", exec, data, logger), store
}

func TestStatusBeforeAnyGeneration(t *testing.T) {
	srv, _ := newTestServer(t)
	router := srv.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, "run-1", status["run_id"])
	assert.EqualValues(t, 0, status["generations_completed"])
}

func TestStatusReportsLatestGeneration(t *testing.T) {
	srv, store := newTestServer(t)
	diagnostics := []model.GenerationDiagnostics{
		{Generation: 0, BestSharpe: 0.8},
		{Generation: 1, BestSharpe: 1.1, FrontSize: 2},
	}
	require.NoError(t, store.SaveGenerationDiagnostics(context.Background(), "run-1", diagnostics))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		GenerationsCompleted int                          `json:"generations_completed"`
		Latest               model.GenerationDiagnostics `json:"latest"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 2, status.GenerationsCompleted)
	assert.Equal(t, 1.1, status.Latest.BestSharpe)
}

func TestChampionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/champion", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChampionReturnsPersistedRecord(t *testing.T) {
	srv, store := newTestServer(t)
	champion := model.Champion{
		Strategy: model.StrategyGraph{ID: "s1-abc", Factors: map[string]model.Factor{}, Edges: map[string][]string{}},
		Metrics:  model.Metrics{Sharpe: 1.7},
	}
	require.NoError(t, store.SaveChampion(context.Background(), "run-1", champion))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/champion", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var got model.Champion
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "s1-abc", got.Strategy.ID)
	assert.Equal(t, 1.7, got.Metrics.Sharpe)
}

func TestStrategyLookup(t *testing.T) {
	srv, store := newTestServer(t)
	require.NoError(t, store.SaveStrategy(context.Background(), model.StrategyGraph{
		ID:      "s0-42",
		Factors: map[string]model.Factor{},
		Edges:   map[string][]string{},
	}))

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/strategies/s0-42", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/strategies/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExpressionPreviewRunsSandbox(t *testing.T) {
	srv, _ := newTestServer(t)

	raw, err := expr.Encode(expr.Binary("mul", expr.Field("close"), expr.Const(2)))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/expressions/preview", bytes.NewReader(raw))
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Rows int       `json:"rows"`
		Head []float64 `json:"head"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 50, resp.Rows)
	assert.Len(t, resp.Head, 32)
}

func TestExpressionPreviewRejectsBadPayload(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/expressions/preview", bytes.NewReader([]byte(`{"kind": `)))
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDiagnosticsAndLineageEmptyRun(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/api/diagnostics", "/api/lineage"} {
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equalf(t, http.StatusOK, w.Code, "path %s", path)
	}
}
