// model.go this code defines the data model for the application
package datastore

import "time"

// TrackPoint is one persisted fusion estimate.
type TrackPoint struct {
	ID         uint      `gorm:"primaryKey"`
	Timestamp  time.Time `gorm:"index:idx_track_points_timestamp;not null"`
	X          float64
	Y          float64
	Z          float64
	VX         float64
	VY         float64
	VZ         float64
	Confidence float64
	Error      float64
	Nodes      int // nodes contributing to the estimate
}

// CalibrationRecord is the history entry of a finished calibration job.
type CalibrationRecord struct {
	ID              uint      `gorm:"primaryKey"`
	JobID           string    `gorm:"uniqueIndex;size:36;not null"`
	NodeID          int       `gorm:"index:idx_calibration_records_node;not null"`
	NoiseRMS        []float64 `gorm:"serializer:json"`
	SampleCount     int
	DurationSeconds float64
	CompletedAt     time.Time `gorm:"index"`
}
