package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mverteuil/birdcore/internal/conf"
)

func testThresholdSettings() conf.DynamicThresholdSettings {
	return conf.DynamicThresholdSettings{
		Enabled:    true,
		Trigger:    0.5,
		Min:        0.1,
		ValidHours: 24,
	}
}

func TestThresholdsDisabledReturnsBaseline(t *testing.T) {
	th := newThresholds(conf.DynamicThresholdSettings{Enabled: false})
	got := th.adjusted("turdus migratorius", 0.9, 0.3, time.Now())
	assert.Equal(t, 0.3, got)
}

func TestThresholdsDecaysOnRepeatedHighConfidence(t *testing.T) {
	th := newThresholds(testThresholdSettings())
	now := time.Now()
	base := 0.4

	first := th.adjusted("turdus migratorius", 0.9, base, now)
	assert.InDelta(t, base*0.75, first, 0.0001)

	second := th.adjusted("turdus migratorius", 0.9, base, now)
	assert.InDelta(t, base*0.5, second, 0.0001)

	third := th.adjusted("turdus migratorius", 0.9, base, now)
	assert.InDelta(t, base*0.25, third, 0.0001)
}

func TestThresholdsClampsToMinimum(t *testing.T) {
	settings := testThresholdSettings()
	settings.Min = 0.2
	th := newThresholds(settings)
	now := time.Now()
	base := 0.1 // base*0.25 would fall below Min

	for i := 0; i < 3; i++ {
		th.adjusted("turdus migratorius", 0.9, base, now)
	}
	got := th.adjusted("turdus migratorius", 0.9, base, now)
	assert.Equal(t, 0.2, got)
}

func TestThresholdsResetsAfterTimerExpires(t *testing.T) {
	th := newThresholds(testThresholdSettings())
	now := time.Now()
	base := 0.4

	th.adjusted("turdus migratorius", 0.9, base, now)
	later := now.Add(25 * time.Hour)
	got := th.adjusted("turdus migratorius", 0.1, base, later)
	assert.Equal(t, base, got)
}

func TestCleanupRemovesStaleSpecies(t *testing.T) {
	th := newThresholds(testThresholdSettings())
	now := time.Now()
	th.adjusted("turdus migratorius", 0.9, 0.4, now)

	th.cleanup(now.Add(50*time.Hour), 24*time.Hour)

	th.mu.Lock()
	_, exists := th.m["turdus migratorius"]
	th.mu.Unlock()
	assert.False(t, exists)
}
