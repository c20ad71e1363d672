// Package species caches the set of labels BirdNET's range filter
// considers plausible for a given location and week, so the analysis
// pipeline can gate detections against it without re-running the range
// model on every window.
package species

import (
	"sync"
	"time"

	"github.com/mverteuil/birdcore/internal/birdnet"
)

// rangeFilter is the subset of *birdnet.Interpreter the cache depends on.
type rangeFilter interface {
	ProbableSpecies(lat, lon float64, week int, threshold float32) ([]birdnet.Result, error)
}

// Cache holds the most recently computed probable-species set for one
// (lat, lon, week) key, recomputing it once the key changes or the entry
// goes stale.
type Cache struct {
	filter    rangeFilter
	threshold float32
	ttl       time.Duration

	mu      sync.Mutex
	key     key
	expires time.Time
	members map[string]struct{} // scientific names
}

type key struct {
	lat  float64
	lon  float64
	week int
}

// New builds a Cache backed by filter. threshold is the minimum range
// score a label must reach to count as "included"; ttl bounds how long a
// computed set is trusted before a location/week match still triggers a
// recompute (guards against a range model whose output could otherwise
// drift stale across a long-running process).
func New(filter rangeFilter, threshold float32, ttl time.Duration) *Cache {
	return &Cache{filter: filter, threshold: threshold, ttl: ttl}
}

// Includes reports whether scientificName is within the probable-species
// set for (lat, lon, week) as of now, recomputing the set first if the
// location/week changed or the cached entry expired. now is taken as a
// parameter so tests can control TTL expiry deterministically.
func (c *Cache) Includes(lat, lon float64, week int, scientificName string, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{lat: lat, lon: lon, week: week}
	if k != c.key || now.After(c.expires) {
		results, err := c.filter.ProbableSpecies(lat, lon, week, c.threshold)
		if err != nil {
			return false, err
		}
		members := make(map[string]struct{}, len(results))
		for _, r := range results {
			members[r.ScientificName] = struct{}{}
		}
		c.key = k
		c.members = members
		c.expires = now.Add(c.ttl)
	}

	_, ok := c.members[scientificName]
	return ok, nil
}
