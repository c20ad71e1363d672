package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/mverteuil/birdcore/internal/detection"
)

// WeeklyReport summarizes one Monday-to-Sunday week of detections (which
// may still be in progress) against the week before it: totals, unique
// species counts, percentage deltas, the top 10 species by count, and any
// species detected in the current week but not in the prior week.
type WeeklyReport struct {
	StartDate, EndDate                          time.Time
	TotalCurrent, TotalPrior                    int
	UniqueSpeciesCurrent, UniqueSpeciesPrior    int
	PercentDiffTotal, PercentDiffUniqueSpecies  int
	TopSpecies                                  []SpeciesWeekOverWeek
	NewSpecies                                  []SpeciesCount
}

// SpeciesWeekOverWeek is one species' detection count this week plus its
// percentage change from the prior week.
type SpeciesWeekOverWeek struct {
	ScientificName string
	CommonName     string
	Count          int
	PercentDiff    int
}

// SpeciesCount pairs a species with a raw detection count.
type SpeciesCount struct {
	ScientificName string
	CommonName     string
	Count          int
}

// WeeklyReport computes the report for the Monday-to-Sunday week that
// contains the latest stored detection, falling back to the week that
// contains now (ending on the coming Sunday) if the store is empty. This mirrors
// original_source's get_weekly_report_data, which prefers "the most recent
// week with data" over "the current calendar week" so a report run against
// a demo or backfilled database is never silently empty — an explicit
// fallback rather than a guessed one.
func (s *Service) WeeklyReport(ctx context.Context, now time.Time) (WeeklyReport, error) {
	key := nsWeeklyReport + ":" + now.In(s.location).Format("2006-01-02")
	v, err := s.cache.Fetch(ctx, key, time.Hour, func(ctx context.Context) (any, error) {
		return s.computeWeeklyReport(ctx, now)
	})
	if err != nil {
		return WeeklyReport{}, err
	}
	return v.(WeeklyReport), nil
}

func (s *Service) computeWeeklyReport(ctx context.Context, now time.Time) (WeeklyReport, error) {
	all, err := s.store.listSince(ctx, time.Time{})
	if err != nil {
		return WeeklyReport{}, err
	}

	endSunday := mostRecentSunday(now, s.location)
	if len(all) > 0 {
		latest := all[0].Timestamp
		for _, d := range all {
			if d.Timestamp.After(latest) {
				latest = d.Timestamp
			}
		}
		endSunday = mostRecentSunday(latest, s.location)
	}
	startDate := endSunday.AddDate(0, 0, -6)
	priorEnd := endSunday.AddDate(0, 0, -7)
	priorStart := startDate.AddDate(0, 0, -7)

	currentPeriod := Period{Start: Day(startDate, s.location).Start, End: Day(endSunday, s.location).End}
	priorPeriod := Period{Start: Day(priorStart, s.location).Start, End: Day(priorEnd, s.location).End}

	current := filterBetween(all, currentPeriod.Start, currentPeriod.End)
	prior := filterBetween(all, priorPeriod.Start, priorPeriod.End)

	currentCounts, currentSpeciesCount := countBySpecies(current)
	priorCounts, priorSpeciesCount := countBySpecies(prior)

	report := WeeklyReport{
		StartDate:            startDate,
		EndDate:              endSunday,
		TotalCurrent:         len(current),
		TotalPrior:           len(prior),
		UniqueSpeciesCurrent: len(currentSpeciesCount),
		UniqueSpeciesPrior:   len(priorSpeciesCount),
	}
	report.PercentDiffTotal = percentDiff(report.TotalCurrent, report.TotalPrior)
	report.PercentDiffUniqueSpecies = percentDiff(report.UniqueSpeciesCurrent, report.UniqueSpeciesPrior)
	report.TopSpecies = topSpecies(currentCounts, priorCounts, 10)
	report.NewSpecies = newSpecies(currentCounts, priorSpeciesCount)

	return report, nil
}

type speciesAgg struct {
	commonName string
	count      int
}

func countBySpecies(dets []detection.Detection) (map[string]*speciesAgg, map[string]struct{}) {
	counts := map[string]*speciesAgg{}
	seen := map[string]struct{}{}
	for _, d := range dets {
		seen[d.ScientificName] = struct{}{}
		a, ok := counts[d.ScientificName]
		if !ok {
			a = &speciesAgg{commonName: d.CommonName}
			counts[d.ScientificName] = a
		}
		a.count++
	}
	return counts, seen
}

func percentDiff(current, prior int) int {
	if prior <= 0 {
		return 0
	}
	return int(roundHalfAwayFromZero(float64(current-prior) / float64(prior) * 100))
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int(v + 0.5))
	}
	return -float64(int(-v + 0.5))
}

func topSpecies(current, prior map[string]*speciesAgg, limit int) []SpeciesWeekOverWeek {
	out := make([]SpeciesWeekOverWeek, 0, len(current))
	for name, agg := range current {
		priorCount := 0
		if p, ok := prior[name]; ok {
			priorCount = p.count
		}
		out = append(out, SpeciesWeekOverWeek{
			ScientificName: name,
			CommonName:     agg.commonName,
			Count:          agg.count,
			PercentDiff:    percentDiff(agg.count, priorCount),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ScientificName < out[j].ScientificName
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func newSpecies(current map[string]*speciesAgg, priorSeen map[string]struct{}) []SpeciesCount {
	var out []SpeciesCount
	for name, agg := range current {
		if _, seenBefore := priorSeen[name]; seenBefore {
			continue
		}
		out = append(out, SpeciesCount{ScientificName: name, CommonName: agg.commonName, Count: agg.count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScientificName < out[j].ScientificName })
	return out
}

// mostRecentSunday returns the Sunday ending the Monday-start week that
// contains at, in loc.
func mostRecentSunday(at time.Time, loc *time.Location) time.Time {
	local := at.In(loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	weekday := int(date.Weekday()) // Sunday == 0
	daysFromMonday := (weekday + 6) % 7
	return date.AddDate(0, 0, 6-daysFromMonday)
}
