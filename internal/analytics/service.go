package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/mverteuil/birdcore/internal/cache"
	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/events"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/speciesref"
)

var log = logging.ForService("analytics")

// Cache-namespace constants, matching the invalidation triggers in
// spec.md §4.5 one-for-one.
const (
	nsRecentDetections = "recent_detections"
	nsTodaysDetections = "todays_detections"
	nsBestDetections   = "best_detections"
	nsSpeciesSummary   = "species_summary"
	nsFamilySummary    = "family_summary"
	nsAllDetectionData = "all_detection_data"
	nsWeeklyReport     = "weekly_report"
)

// onNewDetectionNamespaces and onEditOrDeleteNamespaces name the cache
// families invalidated by each write path; the edit/delete set is a
// superset of the insert set because it additionally stales the weekly
// report, whose fixed time windows a later edit can retroactively change.
var (
	onNewDetectionNamespaces = []string{
		nsRecentDetections, nsTodaysDetections, nsBestDetections,
		nsSpeciesSummary, nsFamilySummary, nsAllDetectionData,
	}
	onEditOrDeleteNamespaces = append(append([]string{}, onNewDetectionNamespaces...), nsWeeklyReport)
)

// Service answers analytics queries over a detection store, caching
// results namespaced by query type and invalidating them on the triggers
// spec.md §4.5 lists.
type Service struct {
	store    *datastoreHandle
	ref      *speciesref.Reference
	refDB    *sql.DB
	cache    *cache.Cache
	location *time.Location
}

// datastoreHandle narrows internal/datastore.Store to just the reads this
// package performs, kept as a concrete adapter rather than an interface
// bound directly to *datastore.Store so tests can supply an in-memory
// fake without importing gorm.
type datastoreHandle struct {
	listSince   func(ctx context.Context, since time.Time) ([]detection.Detection, error)
	listBetween func(ctx context.Context, start, end time.Time) ([]detection.Detection, error)
	listWeather func(ctx context.Context, start, end time.Time) ([]datastore.WeatherRecord, error)
	mostRecent  func(ctx context.Context, limit int) ([]detection.Detection, error)
	best        func(ctx context.Context, limit int) ([]detection.Detection, error)
}

// NewService builds a Service. ref/refDB may both be nil, in which case
// species/family summaries return without taxonomic enrichment.
func NewService(
	listSince func(ctx context.Context, since time.Time) ([]detection.Detection, error),
	listBetween func(ctx context.Context, start, end time.Time) ([]detection.Detection, error),
	listWeather func(ctx context.Context, start, end time.Time) ([]datastore.WeatherRecord, error),
	mostRecent func(ctx context.Context, limit int) ([]detection.Detection, error),
	best func(ctx context.Context, limit int) ([]detection.Detection, error),
	ref *speciesref.Reference,
	refDB *sql.DB,
	c *cache.Cache,
	location *time.Location,
) *Service {
	return &Service{
		store: &datastoreHandle{
			listSince:   listSince,
			listBetween: listBetween,
			listWeather: listWeather,
			mostRecent:  mostRecent,
			best:        best,
		},
		ref:      ref,
		refDB:    refDB,
		cache:    c,
		location: location,
	}
}

// Consume invalidates detection-derived cache namespaces as new detections
// arrive on the event bus, mirroring cachedReportingManager's
// invalidate_detection_caches trigger.
func (s *Service) Consume(ctx context.Context, ch <-chan events.DetectionEvent) {
	for range ch {
		s.InvalidateOnInsert()
	}
}

// InvalidateOnInsert clears the cache families a new detection can affect.
func (s *Service) InvalidateOnInsert() {
	for _, ns := range onNewDetectionNamespaces {
		s.cache.Invalidate(ns)
	}
}

// InvalidateOnEditOrDelete clears the cache families an edited or deleted
// detection can affect, a superset of InvalidateOnInsert that additionally
// stales the weekly report.
func (s *Service) InvalidateOnEditOrDelete() {
	for _, ns := range onEditOrDeleteNamespaces {
		s.cache.Invalidate(ns)
	}
}

// Warm pre-populates the cache namespaces a freshly started web daemon is
// most likely to be asked for immediately (the dashboard's recent/today/best
// lists and the 30-day species summary), so the first real request after
// startup doesn't pay for a cold cache.
func (s *Service) Warm(ctx context.Context, now time.Time) {
	if _, err := s.RecentDetections(ctx, 10); err != nil {
		log.Warn("cache warm: recent detections failed", "error", err)
	}
	if _, err := s.TodaysDetections(ctx, now); err != nil {
		log.Warn("cache warm: today's detections failed", "error", err)
	}
	if _, err := s.BestDetections(ctx, 10); err != nil {
		log.Warn("cache warm: best detections failed", "error", err)
	}
	if _, err := s.SpeciesSummary(ctx, now.Add(-30*24*time.Hour), ""); err != nil {
		log.Warn("cache warm: species summary failed", "error", err)
	}
}

// Heatmap returns the hourly or weekly heatmap for [start, end), selecting
// the representation spec.md §4.5 prescribes based on the period length:
// per-day hourly counts for periods of 7 days or fewer, averaged
// per-weekday counts otherwise.
func (s *Service) Heatmap(ctx context.Context, start, end time.Time) (any, error) {
	key, err := cache.Key("heatmap", map[string]any{"start": start, "end": end})
	if err != nil {
		return nil, err
	}
	return s.cache.Fetch(ctx, key, 5*time.Minute, func(ctx context.Context) (any, error) {
		dets, err := s.store.listBetween(ctx, start, end)
		if err != nil {
			return nil, err
		}
		if end.Sub(start) <= 7*24*time.Hour {
			return HourlyHeatmap(dets, start, end, s.location), nil
		}
		return WeeklyHeatmap(dets, start, end, s.location), nil
	})
}

// FrequencyDistribution returns the stem-and-leaf distribution of per-hour
// detection counts across [start, end).
func (s *Service) FrequencyDistribution(ctx context.Context, start, end time.Time) ([]StemLeafBucket, error) {
	key, err := cache.Key("frequency_distribution", map[string]any{"start": start, "end": end})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, 5*time.Minute, func(ctx context.Context) (any, error) {
		dets, err := s.store.listBetween(ctx, start, end)
		if err != nil {
			return nil, err
		}
		return FrequencyDistribution(dets, start, end, s.location), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]StemLeafBucket), nil
}

// RecentDetections returns the most recent limit detections, newest first.
func (s *Service) RecentDetections(ctx context.Context, limit int) ([]detection.Detection, error) {
	key, err := cache.Key(nsRecentDetections, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, time.Minute, func(ctx context.Context) (any, error) {
		return s.store.mostRecent(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]detection.Detection), nil
}

// TodaysDetections returns every detection stamped within the current
// calendar day in the configured timezone. If there are none (e.g. a demo
// deployment with stale data), it falls back to the most recent calendar
// day that has any, matching original_source's demo-friendly fallback.
func (s *Service) TodaysDetections(ctx context.Context, now time.Time) ([]detection.Detection, error) {
	todayPeriod := Day(now, s.location)
	key, err := cache.Key(nsTodaysDetections, map[string]any{"date": todayPeriod.Start.Format("2006-01-02")})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, 5*time.Minute, func(ctx context.Context) (any, error) {
		dets, err := s.store.listBetween(ctx, todayPeriod.Start, todayPeriod.End)
		if err != nil {
			return nil, err
		}
		if len(dets) > 0 {
			return dets, nil
		}

		all, err := s.store.listSince(ctx, time.Time{})
		if err != nil {
			return nil, err
		}
		if len(all) == 0 {
			return all, nil
		}
		latest := all[len(all)-1].Timestamp
		fallback := Day(latest, s.location)
		return filterBetween(all, fallback.Start, fallback.End), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]detection.Detection), nil
}

// BestDetections returns the limit highest-confidence detections.
func (s *Service) BestDetections(ctx context.Context, limit int) ([]detection.Detection, error) {
	key, err := cache.Key(nsBestDetections, map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, 30*time.Minute, func(ctx context.Context) (any, error) {
		return s.store.best(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.([]detection.Detection), nil
}

func filterBetween(dets []detection.Detection, start, end time.Time) []detection.Detection {
	out := make([]detection.Detection, 0, len(dets))
	for _, d := range dets {
		if !d.Timestamp.Before(start) && d.Timestamp.Before(end) {
			out = append(out, d)
		}
	}
	return out
}

// AccumulationCurve fetches detections in [start, end) and builds the
// species accumulation curve using the requested method.
func (s *Service) AccumulationCurve(ctx context.Context, start, end time.Time, method AccumulationMethod) ([]AccumulationPoint, error) {
	dets, err := s.store.listBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(dets))
	for i, d := range dets {
		names[i] = d.ScientificName
	}
	return Accumulate(names, method, 30, rand.New(rand.NewSource(1))), nil
}

// WeeklyBetaDiversity fetches detections in [start, end) and computes
// species turnover across consecutive windows of window.
func (s *Service) WeeklyBetaDiversity(ctx context.Context, start, end time.Time, window time.Duration) ([]TurnoverComparison, error) {
	dets, err := s.store.listBetween(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var windows []WindowSpecies
	for w := start; w.Before(end); w = w.Add(window) {
		wEnd := w.Add(window)
		if wEnd.After(end) {
			wEnd = end
		}
		seen := map[string]struct{}{}
		for _, d := range dets {
			if !d.Timestamp.Before(w) && d.Timestamp.Before(wEnd) {
				seen[d.ScientificName] = struct{}{}
			}
		}
		species := make([]string, 0, len(seen))
		for sp := range seen {
			species = append(species, sp)
		}
		sort.Strings(species)
		windows = append(windows, WindowSpecies{PeriodStart: w, PeriodEnd: wEnd, Species: species})
	}
	return BetaDiversity(windows), nil
}

// SpeciesSummaryRow is one species' detection count over the queried
// range, enriched with taxonomic rank where the reference database is
// available.
type SpeciesSummaryRow struct {
	ScientificName string
	CommonName     string
	Count          int
	Order          string
	Family         string
}

// SpeciesSummary groups detections since `since` by scientific name,
// optionally restricted to one taxonomic family, enriching each row via
// the attached reference database when one is configured.
func (s *Service) SpeciesSummary(ctx context.Context, since time.Time, familyFilter string) ([]SpeciesSummaryRow, error) {
	key, err := cache.Key(nsSpeciesSummary, map[string]any{"since": since, "family": familyFilter})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, 15*time.Minute, func(ctx context.Context) (any, error) {
		return s.speciesSummary(ctx, since, familyFilter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]SpeciesSummaryRow), nil
}

func (s *Service) speciesSummary(ctx context.Context, since time.Time, familyFilter string) ([]SpeciesSummaryRow, error) {
	dets, err := s.store.listSince(ctx, since)
	if err != nil {
		return nil, err
	}

	type agg struct {
		commonName string
		count      int
	}
	byName := map[string]*agg{}
	var order []string
	for _, d := range dets {
		a, ok := byName[d.ScientificName]
		if !ok {
			a = &agg{commonName: d.CommonName}
			byName[d.ScientificName] = a
			order = append(order, d.ScientificName)
		}
		a.count++
	}

	rows := make([]SpeciesSummaryRow, 0, len(order))
	for _, name := range order {
		rows = append(rows, SpeciesSummaryRow{ScientificName: name, CommonName: byName[name].commonName, Count: byName[name].count})
	}

	if s.ref == nil || s.refDB == nil {
		if familyFilter != "" {
			return rows, nil // no reference DB: family filter cannot be honored
		}
		return rows, nil
	}

	err = s.ref.Attach(ctx, s.refDB, func(conn *sql.Conn) error {
		for i := range rows {
			sp, lookupErr := s.ref.Lookup(ctx, conn, rows[i].ScientificName)
			if lookupErr != nil {
				log.Debug("species reference lookup miss", "scientific_name", rows[i].ScientificName)
				continue
			}
			rows[i].Order = sp.Order
			rows[i].Family = sp.Family
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enriching species summary with reference taxonomy: %w", err)
	}

	if familyFilter != "" {
		filtered := rows[:0]
		for _, r := range rows {
			if r.Family == familyFilter {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return rows, nil
}

// FamilySummaryRow is one taxonomic family's aggregate detection count.
type FamilySummaryRow struct {
	Family string
	Count  int
}

// FamilySummary groups detections since `since` by taxonomic family, via
// the attached reference database. Returns an empty slice (not an error)
// when no reference database is configured, matching original_source's
// "detection query service not available" graceful-degradation path.
func (s *Service) FamilySummary(ctx context.Context, since time.Time) ([]FamilySummaryRow, error) {
	if s.ref == nil || s.refDB == nil {
		log.Warn("species reference not configured, family summary limited")
		return []FamilySummaryRow{}, nil
	}

	key, err := cache.Key(nsFamilySummary, map[string]any{"since": since})
	if err != nil {
		return nil, err
	}
	v, err := s.cache.Fetch(ctx, key, 20*time.Minute, func(ctx context.Context) (any, error) {
		dets, err := s.store.listSince(ctx, since)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(dets))
		for i, d := range dets {
			names[i] = d.ScientificName
		}

		var byFamily map[string]int
		err = s.ref.Attach(ctx, s.refDB, func(conn *sql.Conn) error {
			var attachErr error
			byFamily, attachErr = s.ref.FamilySummary(ctx, conn, names)
			return attachErr
		})
		if err != nil {
			return nil, err
		}

		rows := make([]FamilySummaryRow, 0, len(byFamily))
		for family, count := range byFamily {
			rows = append(rows, FamilySummaryRow{Family: family, Count: count})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Family < rows[j].Family })
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]FamilySummaryRow), nil
}

// WeatherCorrelation correlates, for each weather variable, the Pearson
// correlation between its hourly value and the hourly detection count
// across [start, end).
type WeatherCorrelation struct {
	Temperature float64
	Humidity    float64
	WindSpeed   float64
	Pressure    float64
	DataPoints  int
}

// WeatherCorrelationData computes per-variable Pearson correlations
// between hourly weather observations and hourly detection counts over
// [start, end), aligning both series by hour: every weather hour is a
// point (with a detection count of 0 if nothing was detected in it), and
// hours with detections but no weather row are dropped.
func (s *Service) WeatherCorrelationData(ctx context.Context, start, end time.Time) (WeatherCorrelation, error) {
	dets, err := s.store.listBetween(ctx, start, end)
	if err != nil {
		return WeatherCorrelation{}, err
	}
	weather, err := s.store.listWeather(ctx, start, end)
	if err != nil {
		return WeatherCorrelation{}, err
	}

	countByHour := map[time.Time]int{}
	for _, d := range dets {
		countByHour[d.Timestamp.Truncate(time.Hour)]++
	}

	var temps, humidity, wind, pressure, counts []*float64
	for _, w := range weather {
		hourCount := float64(countByHour[w.Timestamp.Truncate(time.Hour)])
		t, h, ws, p := w.Temperature, float64(w.Humidity), w.WindSpeed, w.PressureHPa
		temps = append(temps, &t)
		humidity = append(humidity, &h)
		wind = append(wind, &ws)
		pressure = append(pressure, &p)
		counts = append(counts, &hourCount)
	}

	return WeatherCorrelation{
		Temperature: Correlation(temps, counts),
		Humidity:    Correlation(humidity, counts),
		WindSpeed:   Correlation(wind, counts),
		Pressure:    Correlation(pressure, counts),
		DataPoints:  len(weather),
	}, nil
}
