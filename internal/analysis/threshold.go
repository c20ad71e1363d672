package analysis

import (
	"sync"
	"time"

	"github.com/mverteuil/birdcore/internal/conf"
)

// dynamicThreshold tracks one species' temporarily lowered confidence
// threshold: a run of high-confidence detections drops it in three steps,
// and it reverts to baseline once Timer passes without another
// high-confidence hit.
type dynamicThreshold struct {
	level         int
	currentValue  float64
	timer         time.Time
	highConfCount int
}

// thresholds holds one dynamicThreshold per species, adjusting the
// confidence gate a detection must clear to survive post-filtering.
// Purely in-memory: nothing here is persisted across restarts, since
// this is scoped to analysis-time filtering only.
type thresholds struct {
	settings conf.DynamicThresholdSettings

	mu sync.Mutex
	m  map[string]*dynamicThreshold
}

func newThresholds(settings conf.DynamicThresholdSettings) *thresholds {
	return &thresholds{settings: settings, m: make(map[string]*dynamicThreshold)}
}

// adjusted returns the confidence threshold speciesLowercase must clear,
// applying any active decay, and updates the species' state based on
// whether confidence cleared the trigger level.
func (t *thresholds) adjusted(speciesLowercase string, confidence, baseThreshold float64, now time.Time) float64 {
	if !t.settings.Enabled {
		return baseThreshold
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	dt, exists := t.m[speciesLowercase]
	if !exists {
		dt = &dynamicThreshold{currentValue: baseThreshold, timer: now}
		t.m[speciesLowercase] = dt
	}

	if confidence > t.settings.Trigger {
		dt.highConfCount++
		dt.timer = now.Add(time.Duration(t.settings.ValidHours) * time.Hour)

		switch dt.highConfCount {
		case 1:
			dt.level = 1
			dt.currentValue = baseThreshold * 0.75
		case 2:
			dt.level = 2
			dt.currentValue = baseThreshold * 0.5
		case 3:
			dt.level = 3
			dt.currentValue = baseThreshold * 0.25
		}
	} else if now.After(dt.timer) {
		dt.level = 0
		dt.currentValue = baseThreshold
		dt.highConfCount = 0
	}

	if dt.currentValue < t.settings.Min {
		dt.currentValue = t.settings.Min
	}
	return dt.currentValue
}

// cleanup removes species whose threshold has sat at baseline (timer
// expired with no pending decay) for longer than staleAfter, bounding the
// map's size across a long-running process.
func (t *thresholds) cleanup(now time.Time, staleAfter time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for species, dt := range t.m {
		if now.Sub(dt.timer) > staleAfter {
			delete(t.m, species)
		}
	}
}
