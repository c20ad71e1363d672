// Package suncalc computes sunrise/sunset and civil twilight times for a
// fixed observer location, caching each calendar day's results so repeated
// day/night time-of-day checks during analysis don't recompute the same
// astronomical calculation.
package suncalc

import (
	"sync"
	"time"

	"github.com/sj14/astral"
)

// civilDepression is the sun's angle below the horizon, in degrees, that
// marks the start/end of civil twilight.
const civilDepression = 6.0

// SunEventTimes holds one day's sun events for an observer.
type SunEventTimes struct {
	Sunrise   time.Time
	Sunset    time.Time
	CivilDawn time.Time
	CivilDusk time.Time
}

type cacheEntry struct {
	date  time.Time
	times SunEventTimes
}

// SunCalc computes and caches sun event times for one fixed location.
type SunCalc struct {
	observer astral.Observer

	lock  sync.RWMutex
	cache map[string]cacheEntry
}

// NewSunCalc builds a SunCalc for the given coordinates.
func NewSunCalc(lat, lon float64) *SunCalc {
	return &SunCalc{
		observer: astral.Observer{Latitude: lat, Longitude: lon},
		cache:    make(map[string]cacheEntry),
	}
}

// GetSunEventTimes returns date's sun events, computing and caching them on
// first request for that calendar day.
func (sc *SunCalc) GetSunEventTimes(date time.Time) (SunEventTimes, error) {
	key := date.Format(time.DateOnly)

	sc.lock.RLock()
	entry, exists := sc.cache[key]
	sc.lock.RUnlock()
	if exists {
		return entry.times, nil
	}

	sunrise, err := astral.Sunrise(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, err
	}
	sunset, err := astral.Sunset(sc.observer, date)
	if err != nil {
		return SunEventTimes{}, err
	}
	dawn, err := astral.Dawn(sc.observer, date, civilDepression)
	if err != nil {
		return SunEventTimes{}, err
	}
	dusk, err := astral.Dusk(sc.observer, date, civilDepression)
	if err != nil {
		return SunEventTimes{}, err
	}

	times := SunEventTimes{Sunrise: sunrise, Sunset: sunset, CivilDawn: dawn, CivilDusk: dusk}

	sc.lock.Lock()
	sc.cache[key] = cacheEntry{date: date, times: times}
	sc.lock.Unlock()

	return times, nil
}

// GetSunriseTime is a convenience wrapper around GetSunEventTimes.
func (sc *SunCalc) GetSunriseTime(date time.Time) (time.Time, error) {
	times, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, err
	}
	return times.Sunrise, nil
}

// GetSunsetTime is a convenience wrapper around GetSunEventTimes.
func (sc *SunCalc) GetSunsetTime(date time.Time) (time.Time, error) {
	times, err := sc.GetSunEventTimes(date)
	if err != nil {
		return time.Time{}, err
	}
	return times.Sunset, nil
}
