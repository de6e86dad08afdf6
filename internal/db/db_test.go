package db

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/couple.report/internal/events"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "couples.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleResult() *events.Result {
	return &events.Result{
		Params: events.DefaultParams(),
		Interactions: []events.Interval{
			{ID: "1-2-a", Object1: "1", Object2: "2", Seq: 1, Start: 0, End: 0.98, Duration: 0.98},
			{ID: "1-2-b", Object1: "1", Object2: "2", Seq: 2, Start: 1.5, End: 2.6, Duration: 1.1},
		},
		Merges: []events.MergeRecord{
			{ID: "5-9", Object1: "5", Object2: "9", Time: 3, Distance: 0.01, FusionName: "9"},
		},
		Splits: []events.SplitRecord{
			{ID: "9-12", Object1: "12", Object2: "9", Time: 3.02, Distance: 0.01, RuptureName: "9"},
		},
		MergeThenSplit: []events.CoupleRecord{
			{Name: "9", Obj1PreF: "5", Obj2PreF: "9", Obj3PostR: "12", Obj4PostR: "9", TimeF: 3, TimeR: 3.02, DurationCouple: 0.02, InteractionCount: 1, TotalDuration: 0.04},
		},
		SplitThenMerge: []events.CoupleRecord{},
	}
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	v, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'`).Scan(&n))
	assert.Equal(t, 0, n)

	require.NoError(t, db.MigrateTo(MigrationsFS(), 1))
	require.NoError(t, db.MigrateUp(MigrationsFS()))
	require.NoError(t, db.MigrateUp(MigrationsFS()), "no change is not an error")

	require.NoError(t, db.MigrateForce(MigrationsFS(), 1))
	v, _, err = db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestMigrationsNilFS(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	assert.Error(t, db.MigrateUp(nil))
	assert.Error(t, db.MigrateUp(fstest.MapFS{"001_bad.up.sql": &fstest.MapFile{Data: []byte("x")}, "001_dup.up.sql": &fstest.MapFile{Data: []byte("y")}}))
}

func TestRunStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))
	run := &Run{Source: "colony.csv", Samples: 100, Objects: 4, Frames: 25, Result: sampleResult()}
	require.NoError(t, store.SaveRun(run))
	require.NotEmpty(t, run.RunID)
	require.NotZero(t, run.CreatedAt)

	got, err := store.GetRun(run.RunID)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleResult(), got.Result); diff != "" {
		t.Errorf("GetRun result mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "colony.csv", got.Source)
	assert.Equal(t, events.DefaultParams(), got.Params)
	assert.Equal(t, 100, got.Samples)
	assert.Equal(t, sampleResult().Counts(), got.Counts)
}

func TestRunStoreListAndDelete(t *testing.T) {
	t.Parallel()

	store := NewRunStore(setupTestDB(t))
	older := &Run{RunID: "older", CreatedAt: 1, Result: sampleResult()}
	newer := &Run{RunID: "newer", CreatedAt: 2, Result: &events.Result{}}
	require.NoError(t, store.SaveRun(older))
	require.NoError(t, store.SaveRun(newer))

	runs, err := store.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newer", runs[0].RunID)
	assert.Nil(t, runs[0].Result)
	assert.Equal(t, 2, runs[1].Counts[events.TypeInteraction])

	runs, err = store.ListRuns(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, store.DeleteRun("older"))
	assert.ErrorIs(t, store.DeleteRun("older"), ErrRunNotFound)
	_, err = store.GetRun("older")
	assert.ErrorIs(t, err, ErrRunNotFound)

	var orphans int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE run_id = 'older'`).Scan(&orphans))
	assert.Zero(t, orphans, "records are removed with their run")

	assert.Error(t, store.SaveRun(&Run{RunID: "empty"}))
	assert.Error(t, store.SaveRun(&Run{RunID: "newer", Result: &events.Result{}}), "duplicate run id")
}

func TestRetryOnBusy(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retryOnBusy(func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	boom := errors.New("constraint failed")
	assert.ErrorIs(t, retryOnBusy(func() error { calls++; return boom }), boom)
	assert.Equal(t, 1, calls)

	calls = 0
	assert.True(t, isBusy(retryOnBusy(func() error { calls++; return errors.New("SQLITE_BUSY") })))
	assert.Equal(t, busyRetries, calls)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	zr, err := gzip.NewReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3")))
}

func TestRunMigrateCommand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "version=2 dirty=false")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"to", "1"}, path, &out))
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "version=1")

	assert.Error(t, RunMigrateCommand(nil, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force", "x"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
}
