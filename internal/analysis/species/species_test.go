package species

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/birdnet"
)

type fakeFilter struct {
	calls   int
	results []birdnet.Result
	err     error
}

func (f *fakeFilter) ProbableSpecies(lat, lon float64, week int, threshold float32) ([]birdnet.Result, error) {
	f.calls++
	return f.results, f.err
}

func TestCacheRecomputesOnKeyChange(t *testing.T) {
	filter := &fakeFilter{results: []birdnet.Result{{ScientificName: "Turdus migratorius"}}}
	c := New(filter, 0.01, time.Hour)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	ok, err := c.Includes(10, 20, 30, "Turdus migratorius", now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, filter.calls)

	_, err = c.Includes(10, 20, 30, "Turdus migratorius", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, filter.calls, "same key within ttl should not recompute")

	_, err = c.Includes(11, 20, 30, "Turdus migratorius", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, filter.calls, "changed location recomputes")
}

func TestCacheRecomputesOnExpiry(t *testing.T) {
	filter := &fakeFilter{results: nil}
	c := New(filter, 0.01, time.Minute)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	_, err := c.Includes(10, 20, 30, "Turdus migratorius", now)
	require.NoError(t, err)
	assert.Equal(t, 1, filter.calls)

	_, err = c.Includes(10, 20, 30, "Turdus migratorius", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, filter.calls, "expired ttl recomputes even with same key")
}

func TestCacheExcludesUnlistedSpecies(t *testing.T) {
	filter := &fakeFilter{results: []birdnet.Result{{ScientificName: "Cyanocitta cristata"}}}
	c := New(filter, 0.01, time.Hour)
	now := time.Now()

	ok, err := c.Includes(10, 20, 30, "Turdus migratorius", now)
	require.NoError(t, err)
	assert.False(t, ok)
}
