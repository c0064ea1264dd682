package history

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pevans/newsagg/discovery"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var baseTime = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

// Test helper: create a store in a temp directory
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// Test helper: a run with one good and one failed source
func sampleStats(startedAt time.Time) *discovery.CrawlStats {
	return &discovery.CrawlStats{
		RunID:          uuid.New(),
		StartedAt:      startedAt,
		Duration:       2500 * time.Millisecond,
		TotalProcessed: 4,
		TotalSaved:     3,
		TotalErrors:    2,
		Sources: map[string]*discovery.SourceStats{
			"The Register": {Processed: 4, Saved: 3, Errors: 1},
			"Broken":       {Errors: 1, ErrorMessage: "HTTP 404: Not Found"},
		},
		Order:         []string{"The Register", "Broken"},
		FailedSources: []string{"Broken"},
	}
}

// TestRecordAndGetRun verifies a run round-trips with its sources in order
func TestRecordAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	stats := sampleStats(baseTime)

	require.NoError(t, store.Record(ctx, stats))

	run, err := store.GetRun(ctx, stats.RunID)
	require.NoError(t, err)

	assert.Equal(t, stats.RunID, run.RunID)
	assert.True(t, baseTime.Equal(run.StartedAt))
	assert.Equal(t, 2500*time.Millisecond, run.Duration)
	assert.Equal(t, 4, run.TotalProcessed)
	assert.Equal(t, 3, run.TotalSaved)
	assert.Equal(t, 2, run.TotalErrors)
	assert.Equal(t, []string{"Broken"}, run.FailedSources)

	require.Len(t, run.Sources, 2)
	assert.Equal(t, "The Register", run.Sources[0].Source)
	assert.Nil(t, run.Sources[0].ErrorMessage)
	assert.Equal(t, "Broken", run.Sources[1].Source)
	require.NotNil(t, run.Sources[1].ErrorMessage)
	assert.Equal(t, "HTTP 404: Not Found", *run.Sources[1].ErrorMessage)
}

// TestGetRun_NotFound verifies unknown IDs
func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetRun(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)
}

// TestRecord_DuplicateRun verifies a run ID is recorded once
func TestRecord_DuplicateRun(t *testing.T) {
	store := setupTestStore(t)
	stats := sampleStats(baseTime)

	require.NoError(t, store.Record(context.Background(), stats))
	assert.Error(t, store.Record(context.Background(), stats))
}

// TestListRuns verifies ordering, filters and pagination
func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	oldest := sampleStats(baseTime.Add(-2 * time.Hour))
	middle := sampleStats(baseTime.Add(-1 * time.Hour))
	middle.FailedSources = []string{}
	middle.Sources = map[string]*discovery.SourceStats{"Other": {Processed: 1, Saved: 1}}
	middle.Order = []string{"Other"}
	newest := sampleStats(baseTime.Add(500 * time.Millisecond))

	for _, s := range []*discovery.CrawlStats{middle, newest, oldest} {
		require.NoError(t, store.Record(ctx, s))
	}

	runs, err := store.ListRuns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, newest.RunID, runs[0].RunID)
	assert.Equal(t, middle.RunID, runs[1].RunID)
	assert.Equal(t, oldest.RunID, runs[2].RunID)
	assert.Nil(t, runs[0].Sources, "list omits per-source rows")
	assert.Equal(t, []string{}, runs[1].FailedSources)

	runs, err = store.ListRuns(ctx, Filter{Source: "Other"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, middle.RunID, runs[0].RunID)

	runs, err = store.ListRuns(ctx, Filter{Failed: true})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = store.ListRuns(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, middle.RunID, runs[0].RunID)

	runs, err = store.ListRuns(ctx, Filter{Offset: 2})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, oldest.RunID, runs[0].RunID)
}

// TestDeleteBefore verifies old runs and their sources are removed
func TestDeleteBefore(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := sampleStats(baseTime.AddDate(0, 0, -40))
	recent := sampleStats(baseTime)
	require.NoError(t, store.Record(ctx, old))
	require.NoError(t, store.Record(ctx, recent))

	deleted, err := store.DeleteBefore(ctx, baseTime.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.GetRun(ctx, old.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.GetRun(ctx, recent.RunID)
	assert.NoError(t, err)

	var orphans int
	require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM source_runs WHERE run_id = ?", old.RunID.String()).Scan(&orphans))
	assert.Zero(t, orphans)
}

// TestRecorderIntegration verifies the store satisfies the crawler's recorder
func TestRecorderIntegration(t *testing.T) {
	var _ discovery.RunRecorder = (*Store)(nil)
}

// TestHandleListRuns verifies the list endpoint and its validation
func TestHandleListRuns(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Record(context.Background(), sampleStats(baseTime)))
	router := NewHistoryAPIServer(store).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history?limit=5", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ListRunsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Runs, 1)
	assert.Equal(t, 5, resp.Limit)

	for _, query := range []string{"limit=0", "limit=x", "offset=-1", "failed=maybe"} {
		req = httptest.NewRequest(http.MethodGet, "/api/v1/history?"+query, nil)
		w = httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

// TestHandleGetRun verifies the detail endpoint
func TestHandleGetRun(t *testing.T) {
	store := setupTestStore(t)
	stats := sampleStats(baseTime)
	require.NoError(t, store.Record(context.Background(), stats))
	router := NewHistoryAPIServer(store).SetupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/"+stats.RunID.String(), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var run Run
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Len(t, run.Sources, 2)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history/"+uuid.NewString(), nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history/not-a-uuid", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
