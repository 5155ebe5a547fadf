// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/dronenet-go/internal/calibration"
	"github.com/tphakala/dronenet-go/internal/conf"
	"github.com/tphakala/dronenet-go/internal/errors"
	"github.com/tphakala/dronenet-go/internal/observability/metrics"
)

// Interface abstracts the underlying database implementation.
type Interface interface {
	Open() error
	Close() error
	SetMetrics(m *Metrics)
	SaveTrackPoint(ctx context.Context, p *TrackPoint) error
	RecentTrackPoints(ctx context.Context, limit int) ([]TrackPoint, error)
	TrackPointsBetween(ctx context.Context, from, to time.Time) ([]TrackPoint, error)
	SaveCalibration(ctx context.Context, result calibration.Result) error
	CalibrationHistory(ctx context.Context, nodeID, limit int) ([]CalibrationRecord, error)
}

// DataStore implements the queries shared by every backend.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *Metrics
}

// New returns the backend selected by settings. The store is not opened.
func New(settings *conf.DatastoreSettings, debug bool) (Interface, error) {
	switch settings.Type {
	case "", "sqlite":
		return &SQLiteStore{Settings: settings, Debug: debug}, nil
	case "mysql":
		return &MySQLStore{Settings: settings, Debug: debug}, nil
	default:
		return nil, errors.Newf("unsupported datastore type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SetMetrics enables operation metrics.
func (ds *DataStore) SetMetrics(m *Metrics) {
	ds.metrics = m
}

// observe records the outcome and duration of one operation.
func (ds *DataStore) observe(operation string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	ds.metrics.RecordOperation(operation, status)
	ds.metrics.RecordDuration(operation, time.Since(start).Seconds())
}

func (ds *DataStore) db(ctx context.Context) (*gorm.DB, error) {
	if ds.DB == nil {
		return nil, errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return ds.DB.WithContext(ctx), nil
}

// SaveTrackPoint inserts one track point.
func (ds *DataStore) SaveTrackPoint(ctx context.Context, p *TrackPoint) (err error) {
	start := time.Now()
	defer func() { ds.observe("save_track_point", start, err) }()

	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(p).Error; err != nil {
		return dbError(err, "save_track_point", "track_points", start)
	}
	return nil
}

// RecentTrackPoints returns up to limit points, newest first.
func (ds *DataStore) RecentTrackPoints(ctx context.Context, limit int) (points []TrackPoint, err error) {
	start := time.Now()
	defer func() { ds.observe("recent_track_points", start, err) }()

	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&points).Error; err != nil {
		return nil, dbError(err, "recent_track_points", "track_points", start)
	}
	return points, nil
}

// TrackPointsBetween returns the points in [from, to), oldest first.
func (ds *DataStore) TrackPointsBetween(ctx context.Context, from, to time.Time) (points []TrackPoint, err error) {
	start := time.Now()
	defer func() { ds.observe("track_points_between", start, err) }()

	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("timestamp ASC").Find(&points).Error; err != nil {
		return nil, dbError(err, "track_points_between", "track_points", start)
	}
	return points, nil
}

// SaveCalibration records a finished calibration job.
func (ds *DataStore) SaveCalibration(ctx context.Context, result calibration.Result) (err error) {
	start := time.Now()
	defer func() { ds.observe("save_calibration", start, err) }()

	db, err := ds.db(ctx)
	if err != nil {
		return err
	}
	rec := &CalibrationRecord{
		JobID:           result.JobID,
		NodeID:          result.NodeID,
		NoiseRMS:        result.NoiseRMS,
		SampleCount:     result.SampleCount,
		DurationSeconds: result.Duration.Seconds(),
		CompletedAt:     result.CompletedAt,
	}
	if err := db.Create(rec).Error; err != nil {
		return dbError(err, "save_calibration", "calibration_records", start)
	}
	return nil
}

// CalibrationHistory returns up to limit records of a node, newest first.
func (ds *DataStore) CalibrationHistory(ctx context.Context, nodeID, limit int) (records []CalibrationRecord, err error) {
	start := time.Now()
	defer func() { ds.observe("calibration_history", start, err) }()

	db, err := ds.db(ctx)
	if err != nil {
		return nil, err
	}
	if err := db.Where("node_id = ?", nodeID).
		Order("completed_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, dbError(err, "calibration_history", "calibration_records", start)
	}
	return records, nil
}

// closeDB closes the underlying sql.DB.
func (ds *DataStore) closeDB() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close", "", time.Time{})
	}
	return sqlDB.Close()
}

// dbError wraps a gorm error. A zero start omits the duration.
func dbError(err error, operation, table string, start time.Time) error {
	b := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase)
	if start.IsZero() {
		b = b.Context("operation", operation)
	} else {
		b = b.Timing(operation, time.Since(start))
	}
	if table != "" {
		b = b.Context("table", table)
	}
	return b.Build()
}
