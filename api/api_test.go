package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/sitefeed/newsfeed"
	"github.com/pevans/sitefeed/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	state  *sources.SourceStore
	feeds  *newsfeed.Store
	report string
}

// Test helper: create a test API server with empty stores
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	state, err := sources.NewSourceStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { state.Close() })

	feeds, err := newsfeed.NewStore(filepath.Join(dir, "feeds"))
	require.NoError(t, err)

	report := filepath.Join(dir, "feeds", ReportFile)
	return &testServer{
		router: NewServer(state, feeds, report).SetupRouter(),
		state:  state,
		feeds:  feeds,
		report: report,
	}
}

func (ts *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) recordRun(t *testing.T, run sources.Run) {
	t.Helper()
	_, err := ts.state.RecordRun(context.Background(), run)
	require.NoError(t, err)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

// TestHandleListSources verifies sources and the failing filter
func TestHandleListSources(t *testing.T) {
	ts := setupTestServer(t)
	now := time.Now()
	ts.recordRun(t, sources.Run{Source: "ok", StartedAt: now, OK: true, ItemCount: 4})
	ts.recordRun(t, sources.Run{Source: "broken", StartedAt: now, Stage: "fetch", Error: "HTTP 404"})

	w := ts.get(t, "/api/v1/sources")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	resp := decode[ListSourcesResponse](t, w)
	assert.Equal(t, 2, resp.Total)

	w = ts.get(t, "/api/v1/sources?failing=true")
	require.Equal(t, http.StatusOK, w.Code)
	resp = decode[ListSourcesResponse](t, w)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "broken", resp.Sources[0].Name)
	assert.Equal(t, 1, resp.Sources[0].FetchErrorCount)
}

// TestHandleGetSource verifies lookups by name
func TestHandleGetSource(t *testing.T) {
	ts := setupTestServer(t)
	ts.recordRun(t, sources.Run{Source: "nytimes", StartedAt: time.Now(), OK: true, ItemCount: 7})

	w := ts.get(t, "/api/v1/sources/nytimes")
	require.Equal(t, http.StatusOK, w.Code)
	source := decode[sources.Source](t, w)
	assert.Equal(t, 7, source.LastItemCount)

	w = ts.get(t, "/api/v1/sources/unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

// TestHandleListRuns verifies run history and the limit parameter
func TestHandleListRuns(t *testing.T) {
	ts := setupTestServer(t)
	start := time.Date(2025, 10, 20, 6, 0, 0, 0, time.UTC)
	for i := range 3 {
		ts.recordRun(t, sources.Run{Source: "ria", StartedAt: start.Add(time.Duration(i) * time.Hour), OK: true, ItemCount: i})
	}

	w := ts.get(t, "/api/v1/sources/ria/runs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[ListRunsResponse](t, w)
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, 2, resp.Runs[0].ItemCount, "newest run first")

	w = ts.get(t, "/api/v1/sources/ria/runs?limit=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.get(t, "/api/v1/sources/unknown/runs")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestHandleReport verifies the latest report is served verbatim
func TestHandleReport(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.get(t, "/api/v1/report")
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := `{"started_at":"2025-10-20T06:00:00Z","results":[{"source":"a","ok":true}]}`
	require.NoError(t, os.WriteFile(ts.report, []byte(body), 0o600))

	w = ts.get(t, "/api/v1/report")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, body, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

// TestHandleFeeds verifies feed listing and retrieval
func TestHandleFeeds(t *testing.T) {
	ts := setupTestServer(t)

	model, err := newsfeed.Synthesize(newsfeed.FeedMeta{
		Title: "Example",
		Link:  "https://example.com",
	}, nil)
	require.NoError(t, err)
	_, err = ts.feeds.Write("example", model, time.Now())
	require.NoError(t, err)

	w := ts.get(t, "/feeds")
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListFeedsResponse](t, w)
	require.Len(t, list.Feeds, 1)
	assert.Equal(t, "example", list.Feeds[0].Name)

	for _, path := range []string{"/feeds/example", "/feeds/example.xml"} {
		w = ts.get(t, path)
		require.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/rss+xml")
		assert.Contains(t, w.Body.String(), "<title>Example</title>")
	}

	w = ts.get(t, "/feeds/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.get(t, "/feeds/..hidden")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestCORSPreflight verifies OPTIONS requests short-circuit
func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sources", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
}
