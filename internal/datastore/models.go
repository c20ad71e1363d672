// Package datastore persists Detection, AudioFile, and Weather records via
// GORM, backed by either SQLite (single-appliance deployments) or MySQL
// (shared/remote deployments).
package datastore

import "time"

// DetectionRecord is the GORM-mapped row for a detection.Detection. Analysis
// parameters are snapshotted directly onto the row (not normalized into a
// join table) so a detection's provenance survives later changes to
// running configuration, matching spec.md §3.
type DetectionRecord struct {
	ID string `gorm:"primaryKey;size:36"` // uuid.UUID string form

	Timestamp time.Time `gorm:"index:idx_detections_timestamp;not null"`

	SpeciesTensor  string `gorm:"size:200;not null"`
	ScientificName string `gorm:"size:100;index:idx_detections_sciname;not null"`
	CommonName     string `gorm:"size:100;index:idx_detections_comname;not null"`
	Confidence     float64 `gorm:"index:idx_detections_confidence;not null"`

	Latitude  *float64
	Longitude *float64

	SpeciesConfidenceThreshold float64
	SensitivitySetting         float64
	Overlap                    float64
	Week                       int `gorm:"index:idx_detections_week"`

	WeatherTimestamp *time.Time `gorm:"index:idx_detections_weather"`
	WeatherLatitude  *float64
	WeatherLongitude *float64

	AudioFileID *string `gorm:"size:36;index"`
}

func (DetectionRecord) TableName() string { return "detections" }

// AudioFileRecord is owned 1:1 by at most one Detection; deletion cascades.
type AudioFileRecord struct {
	ID              string `gorm:"primaryKey;size:36"`
	FilePath        string `gorm:"size:512;not null"`
	DurationSeconds float64
	SizeBytes       int64
}

func (AudioFileRecord) TableName() string { return "audio_files" }

// WeatherRecord is keyed by (timestamp_hour, latitude, longitude); one row
// may be referenced by many detections via their weather FK triple.
type WeatherRecord struct {
	Timestamp time.Time `gorm:"primaryKey"`
	Latitude  float64   `gorm:"primaryKey"`
	Longitude float64   `gorm:"primaryKey"`

	Temperature     float64
	Humidity        int
	PressureHPa     float64
	WindSpeed       float64
	WindDirection   int
	PrecipitationMM float64
	Rain            float64
	Snow            float64
	CloudCoverPct   int
	VisibilityM     int
	UVIndex         float64
	SolarRadiation  float64

	Source    string `gorm:"size:50"`
	FetchedAt time.Time
}

func (WeatherRecord) TableName() string { return "weather" }

// allModels lists every type AutoMigrate should manage, in dependency order
// (parents before children) even though GORM's AutoMigrate itself does not
// require ordering — keeping it explicit documents the FK relationships.
var allModels = []any{
	&AudioFileRecord{},
	&DetectionRecord{},
	&WeatherRecord{},
}
