package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/analysis/species"
	"github.com/mverteuil/birdcore/internal/birdnet"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/telemetry"
)

type fakeRangeFilter struct {
	results []birdnet.Result
}

func (f *fakeRangeFilter) ProbableSpecies(lat, lon float64, week int, threshold float32) ([]birdnet.Result, error) {
	return f.results, nil
}

func TestFilterOneDiscardsWindowOnHumanVoice(t *testing.T) {
	p := &Pipeline{
		cfg:        Config{PrivacyThreshold: 0.5, BaseConfidenceThreshold: 0.1},
		tel:        telemetry.New(),
		thresholds: newThresholds(conf.DynamicThresholdSettings{}),
		writes:     make(chan writeJob, 16),
	}
	r := inferenceResult{
		window: window{start: time.Now()},
		results: []birdnet.Result{
			{Label: "Human_Human", ScientificName: "Human_Human", Confidence: 0.9},
			{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", CommonName: "American Robin", Confidence: 0.9},
		},
	}

	p.filterOne(context.Background(), r)

	assert.Empty(t, p.writes)
}

func TestFilterOneDropsBelowConfidenceThreshold(t *testing.T) {
	p := &Pipeline{
		cfg:        Config{BaseConfidenceThreshold: 0.8},
		tel:        telemetry.New(),
		thresholds: newThresholds(conf.DynamicThresholdSettings{}),
		writes:     make(chan writeJob, 16),
	}
	r := inferenceResult{
		window: window{start: time.Now()},
		results: []birdnet.Result{
			{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", CommonName: "American Robin", Confidence: 0.5},
		},
	}

	p.filterOne(context.Background(), r)

	assert.Empty(t, p.writes)
}

func TestFilterOneEmitsDetectionForSurvivingSpecies(t *testing.T) {
	p := &Pipeline{
		cfg:        Config{BaseConfidenceThreshold: 0.3, SensitivitySetting: 1.0, Overlap: 0},
		tel:        telemetry.New(),
		thresholds: newThresholds(conf.DynamicThresholdSettings{}),
		writes:     make(chan writeJob, 16),
	}
	start := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	r := inferenceResult{
		window: window{start: start},
		results: []birdnet.Result{
			{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", CommonName: "American Robin", Confidence: 0.9},
		},
	}

	p.filterOne(context.Background(), r)

	require.Len(t, p.writes, 1)
	job := <-p.writes
	assert.Equal(t, "Turdus migratorius", job.detection.ScientificName)
	assert.Equal(t, start, job.detection.Timestamp)
}

func TestFilterOneExcludesSpeciesNotInRegion(t *testing.T) {
	region := species.New(&fakeRangeFilter{results: nil}, 0.01, time.Hour)
	p := &Pipeline{
		cfg:        Config{BaseConfidenceThreshold: 0.3, RegionFilterThreshold: 0.01},
		tel:        telemetry.New(),
		thresholds: newThresholds(conf.DynamicThresholdSettings{}),
		region:     region,
		writes:     make(chan writeJob, 16),
	}
	r := inferenceResult{
		window: window{start: time.Now()},
		results: []birdnet.Result{
			{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", CommonName: "American Robin", Confidence: 0.9},
		},
	}

	p.filterOne(context.Background(), r)

	assert.Empty(t, p.writes)
}

func TestFilterOneKeepsSpeciesIncludedInRegion(t *testing.T) {
	region := species.New(&fakeRangeFilter{results: []birdnet.Result{
		{ScientificName: "Turdus migratorius"},
	}}, 0.01, time.Hour)
	p := &Pipeline{
		cfg:        Config{BaseConfidenceThreshold: 0.3, RegionFilterThreshold: 0.01},
		tel:        telemetry.New(),
		thresholds: newThresholds(conf.DynamicThresholdSettings{}),
		region:     region,
		writes:     make(chan writeJob, 16),
	}
	r := inferenceResult{
		window: window{start: time.Now()},
		results: []birdnet.Result{
			{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", CommonName: "American Robin", Confidence: 0.9},
		},
	}

	p.filterOne(context.Background(), r)

	require.Len(t, p.writes, 1)
}
