package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/cache"
	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/detection"
)

func newTestService(t *testing.T, dets []detection.Detection) *Service {
	t.Helper()
	listSince := func(ctx context.Context, since time.Time) ([]detection.Detection, error) {
		var out []detection.Detection
		for _, d := range dets {
			if !d.Timestamp.Before(since) {
				out = append(out, d)
			}
		}
		return out, nil
	}
	listBetween := func(ctx context.Context, start, end time.Time) ([]detection.Detection, error) {
		var out []detection.Detection
		for _, d := range dets {
			if !d.Timestamp.Before(start) && d.Timestamp.Before(end) {
				out = append(out, d)
			}
		}
		return out, nil
	}
	listWeather := func(ctx context.Context, start, end time.Time) ([]datastore.WeatherRecord, error) {
		return nil, nil
	}
	mostRecent := func(ctx context.Context, limit int) ([]detection.Detection, error) {
		out := append([]detection.Detection{}, dets...)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	best := func(ctx context.Context, limit int) ([]detection.Detection, error) {
		out := append([]detection.Detection{}, dets...)
		if len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}
	return NewService(listSince, listBetween, listWeather, mostRecent, best, nil, nil, cache.New(time.Minute, time.Minute), time.UTC)
}

func TestRecentDetectionsReturnsMostRecentFirst(t *testing.T) {
	base := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	dets := []detection.Detection{
		mustDetection(t, base, "Turdus migratorius"),
		mustDetection(t, base.Add(time.Hour), "Cyanocitta cristata"),
	}
	svc := newTestService(t, dets)

	result, err := svc.RecentDetections(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "Cyanocitta cristata", result[0].ScientificName)
}

func TestTodaysDetectionsFallsBackToMostRecentDayWithData(t *testing.T) {
	stale := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	dets := []detection.Detection{mustDetection(t, stale, "Turdus migratorius")}
	svc := newTestService(t, dets)

	result, err := svc.TodaysDetections(context.Background(), time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "Turdus migratorius", result[0].ScientificName)
}

func TestHeatmapSelectsHourlyForShortPeriods(t *testing.T) {
	start := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	dets := []detection.Detection{mustDetection(t, start.Add(6*time.Hour), "Turdus migratorius")}
	svc := newTestService(t, dets)

	result, err := svc.Heatmap(context.Background(), start, end)
	require.NoError(t, err)
	_, ok := result.(map[string][24]int)
	assert.True(t, ok, "expected hourly heatmap representation for a 2-day period")
}

func TestHeatmapSelectsWeeklyForLongPeriods(t *testing.T) {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 20)
	svc := newTestService(t, nil)

	result, err := svc.Heatmap(context.Background(), start, end)
	require.NoError(t, err)
	_, ok := result.([7][24]float64)
	assert.True(t, ok, "expected weekly heatmap representation for a 20-day period")
}

func TestInvalidateOnEditOrDeleteAlsoClearsWeeklyReport(t *testing.T) {
	svc := newTestService(t, nil)
	key, err := cache.Key(nsWeeklyReport, "anything")
	require.NoError(t, err)

	_, err = svc.cache.Fetch(context.Background(), key, time.Minute, func(ctx context.Context) (any, error) {
		return "cached", nil
	})
	require.NoError(t, err)

	svc.InvalidateOnEditOrDelete()

	v, err := svc.cache.Fetch(context.Background(), key, time.Minute, func(ctx context.Context) (any, error) {
		return "fresh", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestWeeklyReportComputesPriorWeekComparison(t *testing.T) {
	sunday := mostRecentSunday(time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC), time.UTC)
	currentWeekStart := sunday.AddDate(0, 0, -6)
	priorWeekStart := currentWeekStart.AddDate(0, 0, -7)

	dets := []detection.Detection{
		mustDetection(t, currentWeekStart.Add(time.Hour), "Turdus migratorius"),
		mustDetection(t, currentWeekStart.Add(2*time.Hour), "Turdus migratorius"),
		mustDetection(t, currentWeekStart.Add(3*time.Hour), "Cyanocitta cristata"),
		mustDetection(t, priorWeekStart.Add(time.Hour), "Turdus migratorius"),
	}
	svc := newTestService(t, dets)

	report, err := svc.WeeklyReport(context.Background(), time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalCurrent)
	assert.Equal(t, 1, report.TotalPrior)
	assert.Equal(t, 2, report.UniqueSpeciesCurrent)
	require.Len(t, report.NewSpecies, 1)
	assert.Equal(t, "Cyanocitta cristata", report.NewSpecies[0].ScientificName)
}
