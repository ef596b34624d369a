package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/hazmat-radar/internal/model"
	"github.com/sells-group/hazmat-radar/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func serve(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("Origin", "https://example.org")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestBuildRouter_HealthEndpoint(t *testing.T) {
	h := buildRouter(newTestStore(t), t.TempDir())

	rr := serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestBuildRouter_NilStore(t *testing.T) {
	h := buildRouter(nil, t.TempDir())

	assert.Equal(t, http.StatusOK, serve(t, h, "/health").Code)

	rr := serve(t, h, "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "store is disabled")
}

func TestBuildRouter_Discoveries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.MergeDiscoveries(ctx, []model.Discovery{
		{ReportNumber: "I-1", File: "2024-01.csv", Revision: "a", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{ReportNumber: "I-2", File: "2024-01.csv", Revision: "b", Timestamp: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
	h := buildRouter(st, t.TempDir())

	rr := serve(t, h, "/api/v1/discoveries?since=2024-01-05")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Discoveries []model.Discovery `json:"discoveries"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Discoveries, 1)
	assert.Equal(t, model.Key("I-2"), body.Discoveries[0].ReportNumber)

	rr = serve(t, h, "/api/v1/discoveries?since=2024-01-01T00:00:00Z&limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Len(t, body.Discoveries, 1)
}

func TestBuildRouter_BadQueryParams(t *testing.T) {
	h := buildRouter(newTestStore(t), t.TempDir())

	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/discoveries?since=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/discoveries?limit=-3").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/runs?limit=lots").Code)
}

func TestBuildRouter_Runs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	id, err := st.StartRun(ctx, model.StageDiscover, "2024-01")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, id, model.RunResult{Records: 4}))
	_, err = st.StartRun(ctx, model.StageFetch, "2024-01")
	require.NoError(t, err)
	h := buildRouter(st, t.TempDir())

	rr := serve(t, h, "/api/v1/runs?stage=discover")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Runs []model.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, id, body.Runs[0].ID)
	assert.Equal(t, model.RunStatusComplete, body.Runs[0].Status)
	assert.Equal(t, 4, body.Runs[0].Records)
}

func TestBuildRouter_ServesFeeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "by-state"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "by-state", "recent-reports-tx.rss"), []byte("<rss/>"), 0o644))
	h := buildRouter(nil, dir)

	rr := serve(t, h, "/feeds/by-state/recent-reports-tx.rss")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<rss/>", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(t, h, "/feeds/missing.rss").Code)
}

func TestParseLimit(t *testing.T) {
	n, err := parseLimit("")
	require.NoError(t, err)
	assert.Equal(t, defaultAPILimit, n)

	n, err = parseLimit("5000")
	require.NoError(t, err)
	assert.Equal(t, maxAPILimit, n)

	_, err = parseLimit("0")
	assert.Error(t, err)
}
