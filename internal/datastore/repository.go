package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mverteuil/birdcore/internal/detection"
)

func toRecord(d detection.Detection) DetectionRecord {
	rec := DetectionRecord{
		ID:                         d.ID.String(),
		Timestamp:                  d.Timestamp,
		SpeciesTensor:              d.SpeciesTensor,
		ScientificName:             d.ScientificName,
		CommonName:                 d.CommonName,
		Confidence:                 d.Confidence,
		Latitude:                   d.Latitude,
		Longitude:                  d.Longitude,
		SpeciesConfidenceThreshold: d.SpeciesConfidenceThreshold,
		SensitivitySetting:         d.SensitivitySetting,
		Overlap:                    d.Overlap,
		Week:                       d.Week,
		WeatherTimestamp:           d.WeatherTimestamp,
		WeatherLatitude:            d.WeatherLatitude,
		WeatherLongitude:           d.WeatherLongitude,
	}
	if d.AudioFileID != nil {
		id := d.AudioFileID.String()
		rec.AudioFileID = &id
	}
	return rec
}

func fromRecord(rec DetectionRecord) (detection.Detection, error) {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return detection.Detection{}, fmt.Errorf("parsing detection id %q: %w", rec.ID, err)
	}
	d := detection.Detection{
		ID:                         id,
		Timestamp:                  rec.Timestamp,
		SpeciesTensor:              rec.SpeciesTensor,
		ScientificName:             rec.ScientificName,
		CommonName:                 rec.CommonName,
		Confidence:                 rec.Confidence,
		Latitude:                   rec.Latitude,
		Longitude:                  rec.Longitude,
		SpeciesConfidenceThreshold: rec.SpeciesConfidenceThreshold,
		SensitivitySetting:         rec.SensitivitySetting,
		Overlap:                    rec.Overlap,
		Week:                       rec.Week,
		WeatherTimestamp:           rec.WeatherTimestamp,
		WeatherLatitude:            rec.WeatherLatitude,
		WeatherLongitude:           rec.WeatherLongitude,
	}
	if rec.AudioFileID != nil {
		audioID, err := uuid.Parse(*rec.AudioFileID)
		if err != nil {
			return detection.Detection{}, fmt.Errorf("parsing audio file id %q: %w", *rec.AudioFileID, err)
		}
		d.AudioFileID = &audioID
	}
	return d, nil
}

// SaveDetection inserts a new detection row. Detections are immutable once
// inserted (per spec.md §3), so this package exposes no Update for anything
// but the one-shot weather attachment below.
func (s *Store) SaveDetection(ctx context.Context, d detection.Detection) error {
	rec := toRecord(d)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return wrapDBErr("save_detection", err)
	}
	return nil
}

// GetDetection fetches one detection by ID.
func (s *Store) GetDetection(ctx context.Context, id uuid.UUID) (detection.Detection, error) {
	var rec DetectionRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id.String()).Error; err != nil {
		return detection.Detection{}, wrapDBErr("get_detection", err)
	}
	return fromRecord(rec)
}

// DeleteDetection removes a detection by explicit admin action, the only
// deletion path this appliance allows.
func (s *Store) DeleteDetection(ctx context.Context, id uuid.UUID) error {
	if err := s.db.WithContext(ctx).Delete(&DetectionRecord{}, "id = ?", id.String()).Error; err != nil {
		return wrapDBErr("delete_detection", err)
	}
	return nil
}

// ListDetectionsSince returns detections with timestamp >= since, ordered
// oldest first, for downstream analytics windows.
func (s *Store) ListDetectionsSince(ctx context.Context, since time.Time) ([]detection.Detection, error) {
	var recs []DetectionRecord
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Find(&recs).Error; err != nil {
		return nil, wrapDBErr("list_detections_since", err)
	}
	out := make([]detection.Detection, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListDetectionsBetween returns detections in [start, end), ordered oldest
// first.
func (s *Store) ListDetectionsBetween(ctx context.Context, start, end time.Time) ([]detection.Detection, error) {
	var recs []DetectionRecord
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp ASC").
		Find(&recs).Error; err != nil {
		return nil, wrapDBErr("list_detections_between", err)
	}
	out := make([]detection.Detection, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListDetectionsPage returns one page of detections in [start, end), newest
// first, along with the total row count across the whole range so the
// caller can compute total_pages/has_next/has_prev without a second
// round trip per page.
func (s *Store) ListDetectionsPage(ctx context.Context, start, end time.Time, offset, limit int) ([]detection.Detection, int64, error) {
	q := s.db.WithContext(ctx).Model(&DetectionRecord{}).Where("timestamp >= ? AND timestamp < ?", start, end)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapDBErr("count_detections_page", err)
	}

	var recs []DetectionRecord
	if err := q.Order("timestamp DESC").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, wrapDBErr("list_detections_page", err)
	}
	out := make([]detection.Detection, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, nil
}

// CountDetectionsBetween returns the number of detections in [start, end).
func (s *Store) CountDetectionsBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DetectionRecord{}).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Count(&count).Error; err != nil {
		return 0, wrapDBErr("count_detections_between", err)
	}
	return count, nil
}

// AttachWeather fills in the weather FK triple for a detection exactly
// once: the UPDATE only touches rows where weather_timestamp IS NULL, so a
// racing second call is a harmless no-op rather than a silent overwrite.
func (s *Store) AttachWeather(ctx context.Context, id uuid.UUID, hour time.Time, lat, lon float64) error {
	result := s.db.WithContext(ctx).Model(&DetectionRecord{}).
		Where("id = ? AND weather_timestamp IS NULL", id.String()).
		Updates(map[string]any{
			"weather_timestamp": hour,
			"weather_latitude":  lat,
			"weather_longitude": lon,
		})
	if result.Error != nil {
		return wrapDBErr("attach_weather", result.Error)
	}
	return nil
}

// SaveAudioFile inserts an AudioFileRecord, owned 1:1 by at most one
// detection; the caller links it via Detection.AudioFileID before calling
// SaveDetection.
func (s *Store) SaveAudioFile(ctx context.Context, id uuid.UUID, filePath string, durationSeconds float64, sizeBytes int64) error {
	rec := AudioFileRecord{
		ID:              id.String(),
		FilePath:        filePath,
		DurationSeconds: durationSeconds,
		SizeBytes:       sizeBytes,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return wrapDBErr("save_audio_file", err)
	}
	return nil
}

// DeleteAudioFile removes the audio file row and clears any detection's
// reference to it, both in one transaction. No FK constraint is declared
// for AudioFileID, so this method nulls the references itself; detections
// survive clip deletion — only the file row, and its pointer, go away.
func (s *Store) DeleteAudioFile(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&DetectionRecord{}).
			Where("audio_file_id = ?", id.String()).
			Update("audio_file_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&AudioFileRecord{}, "id = ?", id.String()).Error
	})
}

// SaveWeather upserts a weather row keyed by (timestamp, latitude,
// longitude), since multiple fetches for the same hour/location should
// converge on one record rather than duplicate.
func (s *Store) SaveWeather(ctx context.Context, w WeatherRecord) error {
	if err := s.db.WithContext(ctx).
		Where(WeatherRecord{Timestamp: w.Timestamp, Latitude: w.Latitude, Longitude: w.Longitude}).
		Assign(w).
		FirstOrCreate(&w).Error; err != nil {
		return wrapDBErr("save_weather", err)
	}
	return nil
}

// FirstSeen returns the timestamp of the earliest stored detection for a
// scientific name, satisfying notification.History for scope gating
// ("is this species new today/this week/ever").
func (s *Store) FirstSeen(ctx context.Context, scientificName string) (time.Time, bool, error) {
	var rec DetectionRecord
	err := s.db.WithContext(ctx).
		Where("scientific_name = ?", scientificName).
		Order("timestamp ASC").
		First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, wrapDBErr("first_seen", err)
	}
	return rec.Timestamp, true, nil
}

// GetMostRecentDetections returns up to limit detections, newest first.
func (s *Store) GetMostRecentDetections(ctx context.Context, limit int) ([]detection.Detection, error) {
	var recs []DetectionRecord
	if err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, wrapDBErr("get_most_recent_detections", err)
	}
	out := make([]detection.Detection, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// GetBestDetections returns up to limit detections ordered by descending
// confidence.
func (s *Store) GetBestDetections(ctx context.Context, limit int) ([]detection.Detection, error) {
	var recs []DetectionRecord
	if err := s.db.WithContext(ctx).
		Order("confidence DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, wrapDBErr("get_best_detections", err)
	}
	out := make([]detection.Detection, 0, len(recs))
	for _, rec := range recs {
		d, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// ListWeatherBetween returns weather rows in [start, end), ordered oldest
// first, for analytics correlation queries.
func (s *Store) ListWeatherBetween(ctx context.Context, start, end time.Time) ([]WeatherRecord, error) {
	var recs []WeatherRecord
	if err := s.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp ASC").
		Find(&recs).Error; err != nil {
		return nil, wrapDBErr("list_weather_between", err)
	}
	return recs, nil
}

// GetWeather looks up the weather row for an hour/location pair.
func (s *Store) GetWeather(ctx context.Context, hour time.Time, lat, lon float64) (WeatherRecord, error) {
	var rec WeatherRecord
	if err := s.db.WithContext(ctx).
		Where("timestamp = ? AND latitude = ? AND longitude = ?", hour, lat, lon).
		First(&rec).Error; err != nil {
		return WeatherRecord{}, wrapDBErr("get_weather", err)
	}
	return rec, nil
}
