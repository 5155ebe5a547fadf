package datastore

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
)

func openTestStore(t *testing.T) Interface {
	t.Helper()
	settings := &conf.DatastoreSettings{
		Type:   "sqlite",
		SQLite: conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "db", "test.db")},
	}
	store, err := New(settings, true)
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestNewRejectsUnknownType(t *testing.T) {
	t.Parallel()
	_, err := New(&conf.DatastoreSettings{Type: "postgres"}, false)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	store, err := New(&conf.DatastoreSettings{Type: "mysql"}, false)
	require.NoError(t, err)
	assert.IsType(t, &MySQLStore{}, store)
}

func TestUnopenedStoreFails(t *testing.T) {
	t.Parallel()
	store, err := New(&conf.DatastoreSettings{Type: "sqlite"}, false)
	require.NoError(t, err)
	err = store.SaveTrackPoint(t.Context(), &TrackPoint{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	assert.NoError(t, store.Close())
}

func TestTrackPoints(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		require.NoError(t, store.SaveTrackPoint(t.Context(), &TrackPoint{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			X:          float64(i),
			Confidence: 0.5,
		}))
	}

	recent, err := store.RecentTrackPoints(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 4.0, recent[0].X, 1e-12)
	assert.InDelta(t, 3.0, recent[1].X, 1e-12)

	between, err := store.TrackPointsBetween(t.Context(), base.Add(time.Second), base.Add(3*time.Second))
	require.NoError(t, err)
	require.Len(t, between, 2)
	assert.InDelta(t, 1.0, between[0].X, 1e-12)
	assert.InDelta(t, 2.0, between[1].X, 1e-12)
}

func TestCalibrationHistory(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"job-a", "job-b"} {
		require.NoError(t, store.SaveCalibration(t.Context(), calibration.Result{
			JobID:       id,
			NodeID:      2,
			NoiseRMS:    []float64{0.01 * float64(i+1), 0.02, 0.03},
			SampleCount: 10,
			Duration:    30 * time.Second,
			CompletedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.SaveCalibration(t.Context(), calibration.Result{JobID: "job-c", NodeID: 3}))

	history, err := store.CalibrationHistory(t.Context(), 2, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "job-b", history[0].JobID)
	assert.InDeltaSlice(t, []float64{0.02, 0.02, 0.03}, history[0].NoiseRMS, 1e-12)
	assert.InDelta(t, 30.0, history[0].DurationSeconds, 1e-12)

	// Job ids are unique.
	err = store.SaveCalibration(t.Context(), calibration.Result{JobID: "job-a", NodeID: 2})
	require.Error(t, err)
}

func TestOperationMetrics(t *testing.T) {
	t.Parallel()
	store := openTestStore(t)
	dm, err := metrics.NewDatastoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	store.SetMetrics(dm)

	require.NoError(t, store.SaveTrackPoint(t.Context(), &TrackPoint{Timestamp: time.Now()}))

	expected := `
# HELP datastore_operations_total Database operations, by operation and status
# TYPE datastore_operations_total counter
datastore_operations_total{operation="save_track_point",status="success"} 1
`
	require.NoError(t, testutil.CollectAndCompare(dm, strings.NewReader(expected), "datastore_operations_total"))
}
