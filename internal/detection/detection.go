// Package detection defines the Detection domain type shared by the
// analysis pipeline, the datastore, the event bus, and the API layer.
package detection

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Detection is a single model-emitted species identification within one
// analysis window that cleared the configured confidence threshold.
//
// A Detection is immutable once created except for the weather attachment
// (WeatherTimestamp/WeatherLatitude/WeatherLongitude), which may be filled
// in exactly once, asynchronously, after insert.
type Detection struct {
	ID uuid.UUID

	Timestamp time.Time // instant of the 3-second window's start, UTC

	SpeciesTensor  string // canonicalised "<scientific>_<common>" model label
	ScientificName string
	CommonName     string
	Confidence     float64 // in [0, 1], post-sigmoid

	Latitude  *float64
	Longitude *float64

	SpeciesConfidenceThreshold float64
	SensitivitySetting         float64
	Overlap                    float64
	Week                       int // ISO-ish BirdNET week, 1-48

	WeatherTimestamp *time.Time
	WeatherLatitude  *float64
	WeatherLongitude *float64

	AudioFileID *uuid.UUID
}

// New builds a Detection, assigning a fresh ID and validating the
// invariants spec'd for the type: confidence in [0,1] and week in [1,48].
func New(ts time.Time, scientificName, commonName string, confidence float64, week int) (Detection, error) {
	if confidence < 0 || confidence > 1 {
		return Detection{}, fmt.Errorf("confidence %f out of range [0,1]", confidence)
	}
	if week < 1 || week > 48 {
		return Detection{}, fmt.Errorf("week %d out of range [1,48]", week)
	}
	return Detection{
		ID:             uuid.New(),
		Timestamp:      ts.UTC(),
		SpeciesTensor:  scientificName + "_" + commonName,
		ScientificName: scientificName,
		CommonName:     commonName,
		Confidence:     confidence,
		Week:           week,
	}, nil
}

// WithLocation returns a copy of d with latitude/longitude set. A nil
// location (GPS unavailable) is represented by leaving the pointers nil,
// which WithLocation never does — callers that have no fix simply skip
// this call.
func (d Detection) WithLocation(lat, lon float64) Detection {
	d.Latitude = &lat
	d.Longitude = &lon
	return d
}

// AttachWeather fills in the weather foreign-key triple. Callers must
// not call this more than once per detection; the datastore layer
// enforces that at the SQL level (UPDATE ... WHERE weather_timestamp IS
// NULL).
func (d Detection) AttachWeather(hour time.Time, lat, lon float64) Detection {
	hour = hour.UTC()
	d.WeatherTimestamp = &hour
	d.WeatherLatitude = &lat
	d.WeatherLongitude = &lon
	return d
}

// HasWeather reports whether the weather FK triple has been populated.
func (d Detection) HasWeather() bool {
	return d.WeatherTimestamp != nil
}
