package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banachtech/riskcube/config"
	"github.com/banachtech/riskcube/cube"
	"github.com/banachtech/riskcube/db"
	"github.com/banachtech/riskcube/mainfuncs"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const simulateBody = `{
	"asof": "2025-01-02",
	"samples": 20,
	"portfolio": [
		{"id": "FXF1", "type": "FxForward", "netting_set": "N1", "underlying": "EURUSD",
		 "notional": 1000000, "strike": 1.1, "maturity": "2026-01-02"}
	]
}`

func stubSimulation(t *testing.T, got *config.Config) simulateFunc {
	return func(_ context.Context, cfg *config.Config, _ *zap.Logger, _ mainfuncs.Options) (*mainfuncs.Output, error) {
		*got = *cfg
		asof := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
		c, err := cube.New(asof, []string{"FXF1"}, []time.Time{asof.AddDate(1, 0, 0)}, 2, 1)
		require.NoError(t, err)
		require.NoError(t, c.SetT0(1.5, 0, 0))
		require.NoError(t, c.Set(2.5, 0, 0, 1, 0))
		return &mainfuncs.Output{
			Report: &mainfuncs.Report{
				RunID:    "run-1",
				Asof:     "2025-01-02",
				Trades:   []string{"FXF1"},
				Exposure: map[string]mainfuncs.ExposureReport{"N1": {EPE: []float64{1.5, 1.25}, ENE: []float64{0, 0}}},
			},
			Cube:        c,
			NettingSets: map[string]string{"FXF1": "N1"},
		}, nil
	}
}

func newTestServer(t *testing.T) (*Server, *db.MemStore) {
	store := db.NewMemStore()
	store.AddAPIKey(testKey(t, time.Now().Add(time.Hour)))
	return NewServer(store, testConfig(), nil), store
}

func serve(t *testing.T, server *Server, method, path, body string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	bearer(testAPIKey)(t, request)
	server.router.ServeHTTP(recorder, request)
	return recorder
}

func TestSimulateAndFetchRun(t *testing.T) {
	server, store := newTestServer(t)
	var used config.Config
	server.simulate = stubSimulation(t, &used)

	recorder := serve(t, server, http.MethodPost, "/v1/simulate", simulateBody)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())
	require.Equal(t, 20, used.Engine.Samples)
	require.Equal(t, "1Y", used.Engine.Grid)
	require.Len(t, used.Portfolio, 1)
	require.Equal(t, "N1", used.Portfolio[0].NettingSet)

	var report mainfuncs.Report
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &report))
	require.Equal(t, "run-1", report.RunID)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, db.RunSucceeded, run.Status)

	recorder = serve(t, server, http.MethodGet, "/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	var resp runResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	require.Equal(t, "2025-01-02", resp.Asof)
	require.Contains(t, string(resp.Summary), `"epe":[1.5,1.25]`)

	recorder = serve(t, server, http.MethodGet, "/v1/runs/run-1/cube", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "text/csv", recorder.Header().Get("Content-Type"))
	parsed, netting, err := cube.ReadCSV(bytes.NewReader(recorder.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, "N1", netting["FXF1"])
	require.Equal(t, 2.5, parsed.Get(0, 0, 1, 0))

	recorder = serve(t, server, http.MethodGet, "/v1/runs", "")
	require.Equal(t, http.StatusOK, recorder.Code)
	var runs []runResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	require.Empty(t, runs[0].Summary)
}

func TestSimulateRequestErrors(t *testing.T) {
	testCases := []struct {
		name string
		body string
		code int
	}{
		{name: "MALFORMED", body: `{"asof":`, code: http.StatusBadRequest},
		{name: "NO_PORTFOLIO", body: `{"asof": "2025-01-02", "portfolio": []}`, code: http.StatusBadRequest},
		{name: "NO_ASOF", body: `{"portfolio": [{"id": "T1", "type": "zerobond"}]}`, code: http.StatusBadRequest},
		{name: "BAD_ASOF", body: `{"asof": "02/01/2025", "portfolio": [{"id": "T1", "type": "zerobond"}]}`, code: http.StatusBadRequest},
		{name: "BAD_SAMPLES", body: `{"asof": "2025-01-02", "samples": -3, "portfolio": [{"id": "T1", "type": "zerobond"}]}`, code: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := newTestServer(t)
			var used config.Config
			server.simulate = stubSimulation(t, &used)
			recorder := serve(t, server, http.MethodPost, "/v1/simulate", tc.body)
			require.Equal(t, tc.code, recorder.Code, recorder.Body.String())
		})
	}
}

func TestSimulateFailureIsStored(t *testing.T) {
	server, store := newTestServer(t)
	server.simulate = func(context.Context, *config.Config, *zap.Logger, mainfuncs.Options) (*mainfuncs.Output, error) {
		return nil, errors.New("build cube: all trades failed")
	}

	recorder := serve(t, server, http.MethodPost, "/v1/simulate", simulateBody)
	require.Equal(t, http.StatusUnprocessableEntity, recorder.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	run, err := store.GetRun(context.Background(), body["run_id"])
	require.NoError(t, err)
	require.Equal(t, db.RunFailed, run.Status)
	require.Contains(t, string(run.Summary), "all trades failed")

	recorder = serve(t, server, http.MethodGet, "/v1/runs/"+run.ID+"/cube", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestGetMissingRun(t *testing.T) {
	server, _ := newTestServer(t)
	recorder := serve(t, server, http.MethodGet, "/v1/runs/unknown", "")
	require.Equal(t, http.StatusNotFound, recorder.Code)

	recorder = serve(t, server, http.MethodGet, "/v1/runs?limit=1000", "")
	require.Equal(t, http.StatusBadRequest, recorder.Code)
}
