package weather

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/events"
)

// Store is the subset of datastore.Store the weather service needs.
type Store interface {
	GetWeather(ctx context.Context, hour time.Time, lat, lon float64) (datastore.WeatherRecord, error)
	SaveWeather(ctx context.Context, w datastore.WeatherRecord) error
	AttachWeather(ctx context.Context, id uuid.UUID, hour time.Time, lat, lon float64) error
}

// Service fetches (or reuses) the weather for each new detection's hour and
// attaches it via the store's single-shot AttachWeather.
type Service struct {
	fetcher *Fetcher
	store   Store
}

// NewService builds a Service over an already-configured Fetcher and Store.
func NewService(fetcher *Fetcher, store Store) *Service {
	return &Service{fetcher: fetcher, store: store}
}

// Consume ranges over detection events until ch closes, linking weather for
// each one that doesn't already have it. Errors are logged; one detection's
// failure never blocks the next.
func (s *Service) Consume(ctx context.Context, ch <-chan events.DetectionEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Detection.HasWeather() {
				continue
			}
			if err := s.LinkWeather(ctx, ev.Detection.ID, ev.Detection.Timestamp); err != nil {
				log.Warn("linking weather failed", "detection", ev.Detection.ID, "error", err)
			}
		}
	}
}

// LinkWeather fetches (or reuses a cached row for) the weather at
// detection's hour and attaches it via the store's single-shot update.
func (s *Service) LinkWeather(ctx context.Context, detectionID uuid.UUID, at time.Time) error {
	hour := at.Truncate(time.Hour).UTC()

	rec, err := s.store.GetWeather(ctx, hour, s.fetcher.latitude, s.fetcher.longitude)
	if err != nil {
		rec, err = s.fetcher.FetchHour(ctx, hour)
		if err != nil {
			return err
		}
		if err := s.store.SaveWeather(ctx, rec); err != nil {
			return err
		}
	}

	return s.store.AttachWeather(ctx, detectionID, rec.Timestamp, rec.Latitude, rec.Longitude)
}

// Backfill fetches [start, end) with a single FetchRange request and
// persists each returned hour that GetWeather does not already find,
// returning how many rows it saved. FetchRange covers whole calendar days,
// so hours on those days outside [start, end) are saved too.
func (s *Service) Backfill(ctx context.Context, start, end time.Time) (fetched int, err error) {
	records, err := s.fetcher.FetchRange(ctx, start, end)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if _, getErr := s.store.GetWeather(ctx, rec.Timestamp, rec.Latitude, rec.Longitude); getErr == nil {
			continue
		}
		if err := s.store.SaveWeather(ctx, rec); err != nil {
			return fetched, err
		}
		fetched++
	}
	return fetched, nil
}
