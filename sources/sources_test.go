package sources

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pevans/sitefeed/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper: create a test source store
func createTestSourceStore(t *testing.T) *SourceStore {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	store, err := NewSourceStore(dbPath)
	require.NoError(t, err, "should create source store")
	t.Cleanup(func() { store.Close() })
	return store
}

// Test helper: create sample source configs
func createTestConfigs() []scraper.SourceConfig {
	return []scraper.SourceConfig{
		{Name: "nytimes", URL: "https://www.nytimes.com/section/magazine", Kind: scraper.KindListing},
		{Name: "gallup", URL: "https://news.gallup.com/rss", Kind: scraper.KindFeed},
	}
}

func failedRun(name string, at time.Time) Run {
	return Run{Source: name, StartedAt: at, Stage: "fetch", Error: "HTTP 503"}
}

func okRun(name string, at time.Time, items int) Run {
	return Run{Source: name, StartedAt: at, OK: true, ItemCount: items, ElapsedSeconds: 1.5, OutputPath: "/tmp/" + name + ".xml"}
}

// TestNewSourceStore_CreatesDatabase verifies database creation
func TestNewSourceStore_CreatesDatabase(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := NewSourceStore(dbPath)
	require.NoError(t, err, "should create store")
	require.NotNil(t, store, "store should not be nil")
	defer store.Close()

	sources, err := store.ListSources(context.Background(), SourceFilter{})
	require.NoError(t, err, "should be able to query database")
	assert.Empty(t, sources, "new database should have no sources")
}

// TestNewSourceStore_ExistingDatabase verifies state survives reopening
func TestNewSourceStore_ExistingDatabase(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewSourceStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store1.SyncSources(ctx, createTestConfigs()))
	require.NoError(t, store1.Close())

	store2, err := NewSourceStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	sources, err := store2.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

// TestNewSourceStore_InMemory verifies the in-memory database keeps its
// schema between calls
func TestNewSourceStore_InMemory(t *testing.T) {
	store, err := NewSourceStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = store.RecordRun(context.Background(), okRun("a", time.Now(), 1))
	assert.NoError(t, err)
}

// TestSyncSources_RegistersAndPrunes verifies configured sources are upserted
// and removed ones forgotten
func TestSyncSources_RegistersAndPrunes(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()

	require.NoError(t, store.SyncSources(ctx, createTestConfigs()))
	_, err := store.RecordRun(ctx, okRun("gallup", time.Now(), 3))
	require.NoError(t, err)

	sources, err := store.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "gallup", sources[0].Name, "sources are ordered by name")
	assert.Equal(t, scraper.KindFeed, sources[0].Kind)
	assert.Equal(t, "nytimes", sources[1].Name)

	moved := []scraper.SourceConfig{{Name: "nytimes", URL: "https://www.nytimes.com/section/world"}}
	require.NoError(t, store.SyncSources(ctx, moved))

	sources, err = store.ListSources(ctx, SourceFilter{})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "https://www.nytimes.com/section/world", sources[0].URL)
	assert.Equal(t, scraper.KindListing, sources[0].Kind)

	runs, err := store.RecentRuns(ctx, "gallup", 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "runs of removed sources should be pruned")
}

// TestRecordRun_TracksConsecutiveFailures verifies the failure counter
// increments on failure and resets on success
func TestRecordRun_TracksConsecutiveFailures(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()
	require.NoError(t, store.SyncSources(ctx, createTestConfigs()))

	start := time.Date(2025, 10, 20, 6, 0, 0, 0, time.UTC)
	for i := range 3 {
		source, err := store.RecordRun(ctx, failedRun("nytimes", start.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, i+1, source.FetchErrorCount)
		assert.False(t, source.LastOK)
		require.NotNil(t, source.LastError)
		assert.Equal(t, "HTTP 503", *source.LastError)
		assert.Nil(t, source.LastSuccessAt)
	}

	source, err := store.RecordRun(ctx, okRun("nytimes", start.Add(4*time.Hour), 12))
	require.NoError(t, err)
	assert.Zero(t, source.FetchErrorCount)
	assert.True(t, source.LastOK)
	assert.Equal(t, 12, source.LastItemCount)
	assert.Nil(t, source.LastError)
	require.NotNil(t, source.LastSuccessAt)
	assert.True(t, start.Add(4*time.Hour).Equal(*source.LastSuccessAt))
	require.NotNil(t, source.OutputPath)
	assert.Equal(t, "/tmp/nytimes.xml", *source.OutputPath)
}

// TestRecordRun_KeepsLastSuccessAndOutput verifies a failure does not erase
// the previous success
func TestRecordRun_KeepsLastSuccessAndOutput(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()

	first := time.Date(2025, 10, 20, 6, 0, 0, 0, time.UTC)
	_, err := store.RecordRun(ctx, okRun("ria", first, 5))
	require.NoError(t, err)

	source, err := store.RecordRun(ctx, failedRun("ria", first.Add(time.Hour)))
	require.NoError(t, err)

	require.NotNil(t, source.LastSuccessAt)
	assert.True(t, first.Equal(*source.LastSuccessAt))
	require.NotNil(t, source.LastRunAt)
	assert.True(t, first.Add(time.Hour).Equal(*source.LastRunAt))
	require.NotNil(t, source.OutputPath)
	assert.Equal(t, 1, source.FetchErrorCount)
}

// TestRecordRun_UnknownSourceIsCreated verifies runs for unsynced sources
// still record state
func TestRecordRun_UnknownSourceIsCreated(t *testing.T) {
	store := createTestSourceStore(t)

	source, err := store.RecordRun(context.Background(), okRun("adhoc", time.Now(), 1))
	require.NoError(t, err)
	assert.Equal(t, "adhoc", source.Name)
	assert.Equal(t, scraper.KindListing, source.Kind)
}

// TestRecordRun_RequiresSource verifies runs must name a source
func TestRecordRun_RequiresSource(t *testing.T) {
	store := createTestSourceStore(t)

	_, err := store.RecordRun(context.Background(), Run{StartedAt: time.Now()})
	assert.ErrorIs(t, err, ErrInvalidRun)
}

// TestGetSource_NotFound verifies not found error
func TestGetSource_NotFound(t *testing.T) {
	store := createTestSourceStore(t)

	_, err := store.GetSource(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSourceNotFound)
}

// TestListSources_FilterFailing verifies filtering by last outcome
func TestListSources_FilterFailing(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()
	require.NoError(t, store.SyncSources(ctx, createTestConfigs()))

	_, err := store.RecordRun(ctx, failedRun("nytimes", time.Now()))
	require.NoError(t, err)

	failing := true
	sources, err := store.ListSources(ctx, SourceFilter{Failing: &failing})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "nytimes", sources[0].Name)

	healthy := false
	sources, err = store.ListSources(ctx, SourceFilter{Failing: &healthy})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "gallup", sources[0].Name)
}

// TestListSources_Pagination verifies limit and offset
func TestListSources_Pagination(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()
	require.NoError(t, store.SyncSources(ctx, createTestConfigs()))

	page, err := store.ListSources(ctx, SourceFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "gallup", page[0].Name)

	page, err = store.ListSources(ctx, SourceFilter{Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "nytimes", page[0].Name)
}

// TestRecentRuns_OrdersMostRecentFirst verifies descending chronological
// order and the limit
func TestRecentRuns_OrdersMostRecentFirst(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()

	now := time.Now()
	_, err := store.RecordRun(ctx, okRun("lenta", now.Add(-2*time.Hour), 1))
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, failedRun("lenta", now.Add(-time.Hour+500*time.Millisecond)))
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, okRun("lenta", now, 3))
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, "lenta", 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 3, runs[0].ItemCount)
	assert.False(t, runs[1].OK)
	assert.Equal(t, "fetch", runs[1].Stage)
	assert.Equal(t, "HTTP 503", runs[1].Error)
	assert.Equal(t, 1, runs[2].ItemCount)
	assert.NotEqual(t, uuid.Nil, runs[0].RunID)
	assert.WithinDuration(t, now, runs[0].StartedAt, time.Millisecond)

	limited, err := store.RecentRuns(ctx, "lenta", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

// TestRecentRuns_IsolatedPerSource verifies runs are scoped to their source
func TestRecentRuns_IsolatedPerSource(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()

	_, err := store.RecordRun(ctx, okRun("a", time.Now(), 1))
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, okRun("b", time.Now(), 2))
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].Source)
}

// TestPruneRuns verifies old runs are deleted
func TestPruneRuns(t *testing.T) {
	store := createTestSourceStore(t)
	ctx := context.Background()

	now := time.Now()
	_, err := store.RecordRun(ctx, okRun("a", now.Add(-48*time.Hour), 1))
	require.NoError(t, err)
	_, err = store.RecordRun(ctx, okRun("a", now, 1))
	require.NoError(t, err)

	removed, err := store.PruneRuns(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	runs, err := store.RecentRuns(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
