package analytics

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/detection"
)

func mustDetection(t *testing.T, at time.Time, scientificName string) detection.Detection {
	t.Helper()
	d, err := detection.New(at, scientificName, scientificName+" common", 0.9, 1)
	require.NoError(t, err)
	d.ID = uuid.New()
	return d
}

func TestHourlyHeatmapBucketsByDayAndHour(t *testing.T) {
	start := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 2)
	dets := []detection.Detection{
		mustDetection(t, start.Add(6*time.Hour), "Turdus migratorius"),
		mustDetection(t, start.Add(6*time.Hour), "Turdus migratorius"),
		mustDetection(t, start.AddDate(0, 0, 1).Add(18*time.Hour), "Cyanocitta cristata"),
	}

	result := HourlyHeatmap(dets, start, end, time.UTC)

	require.Len(t, result, 2)
	day1 := result["2026-07-28"]
	assert.Equal(t, 2, day1[6])
	day2 := result["2026-07-29"]
	assert.Equal(t, 1, day2[18])
}

func TestWeeklyHeatmapAveragesAcrossWeekdayOccurrences(t *testing.T) {
	start := time.Date(2026, 7, 6, 0, 0, 0, 0, time.UTC) // a Monday
	end := start.AddDate(0, 0, 14)                       // two full weeks

	var dets []detection.Detection
	for w := 0; w < 2; w++ {
		dets = append(dets, mustDetection(t, start.AddDate(0, 0, w*7).Add(9*time.Hour), "Turdus migratorius"))
	}

	result := WeeklyHeatmap(dets, start, end, time.UTC)

	assert.InDelta(t, 1.0, result[time.Monday][9], 0.0001)
	assert.Equal(t, 0.0, result[time.Tuesday][9])
}

func TestFrequencyDistributionGroupsByTensDigit(t *testing.T) {
	start := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Hour)

	var dets []detection.Detection
	for i := 0; i < 12; i++ {
		dets = append(dets, mustDetection(t, start, "Turdus migratorius"))
	}
	for i := 0; i < 23; i++ {
		dets = append(dets, mustDetection(t, start.Add(time.Hour), "Turdus migratorius"))
	}

	result := FrequencyDistribution(dets, start, end, time.UTC)

	var stem1, stem2 *StemLeafBucket
	for i := range result {
		switch result[i].Stem {
		case "1":
			stem1 = &result[i]
		case "2":
			stem2 = &result[i]
		}
	}
	require.NotNil(t, stem1)
	require.NotNil(t, stem2)
	assert.Contains(t, stem1.Leaves, "2") // 12 detections -> stem 1, leaf 2
	assert.Contains(t, stem2.Leaves, "3") // 23 detections -> stem 2, leaf 3
}

func TestFrequencyDistributionEmptyPeriodYieldsNoData(t *testing.T) {
	start := time.Date(2026, 7, 28, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	result := FrequencyDistribution(nil, start, end, time.UTC)

	require.Len(t, result, 1)
	assert.Equal(t, "0", result[0].Stem)
	assert.Equal(t, "No data", result[0].Leaves)
}

func TestSpeciesHourlyPatternFiltersByScientificName(t *testing.T) {
	base := time.Date(2026, 7, 28, 6, 0, 0, 0, time.UTC)
	dets := []detection.Detection{
		mustDetection(t, base, "Turdus migratorius"),
		mustDetection(t, base, "Turdus migratorius"),
		mustDetection(t, base.Add(12*time.Hour), "Cyanocitta cristata"),
	}

	result := SpeciesHourlyPattern(dets, "Turdus migratorius", time.UTC)

	assert.Equal(t, 2, result[6])
	assert.Equal(t, 0, result[18])
}
