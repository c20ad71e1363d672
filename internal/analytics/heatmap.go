package analytics

import (
	"sort"
	"strconv"
	"time"

	"github.com/mverteuil/birdcore/internal/detection"
)

// HourlyHeatmap maps each calendar day in [start, end) to 24 hour-of-day
// counts, used when the requested period is 7 days or fewer.
func HourlyHeatmap(detections []detection.Detection, start, end time.Time, loc *time.Location) map[string][24]int {
	out := map[string][24]int{}
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		out[d.In(loc).Format("2006-01-02")] = [24]int{}
	}
	for _, det := range detections {
		local := det.Timestamp.In(loc)
		key := local.Format("2006-01-02")
		counts, ok := out[key]
		if !ok {
			continue
		}
		counts[local.Hour()]++
		out[key] = counts
	}
	return out
}

// WeeklyHeatmap groups all hours in [start, end) by weekday (0=Sunday..
// 6=Saturday) and averages per-weekday-per-hour counts across however many
// times that weekday occurred in the period, used when the requested period
// spans more than 7 days.
func WeeklyHeatmap(detections []detection.Detection, start, end time.Time, loc *time.Location) [7][24]float64 {
	var sums [7][24]int
	var weekdayOccurrences [7]int

	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		weekdayOccurrences[int(d.In(loc).Weekday())]++
	}
	for _, det := range detections {
		local := det.Timestamp.In(loc)
		sums[int(local.Weekday())][local.Hour()]++
	}

	var out [7][24]float64
	for wd := 0; wd < 7; wd++ {
		n := weekdayOccurrences[wd]
		if n == 0 {
			continue
		}
		for h := 0; h < 24; h++ {
			out[wd][h] = float64(sums[wd][h]) / float64(n)
		}
	}
	return out
}

// StemLeafBucket is one stem (tens digit of a per-hour detection count)
// with its collected leaves (ones digits), in the order encountered.
type StemLeafBucket struct {
	Stem   string
	Leaves string
}

// FrequencyDistribution builds a stem-and-leaf plot from per-hour detection
// counts across [start, end): stem is the tens digit, leaf the ones digit
// of each hour's count. An empty period (no detections at all) yields a
// single "no data" bucket rather than an empty list.
func FrequencyDistribution(detections []detection.Detection, start, end time.Time, loc *time.Location) []StemLeafBucket {
	hourly := hourCounts(detections, start, end, loc)

	stems := map[int]string{}
	var stemOrder []int
	for _, count := range hourly {
		if count == 0 {
			continue
		}
		stem := count / 10
		leaf := count % 10
		if _, seen := stems[stem]; !seen {
			stemOrder = append(stemOrder, stem)
		}
		stems[stem] += strconv.Itoa(leaf)
	}

	if len(stemOrder) == 0 {
		return []StemLeafBucket{{Stem: "0", Leaves: "No data"}}
	}

	sort.Ints(stemOrder)
	out := make([]StemLeafBucket, 0, len(stemOrder))
	for _, stem := range stemOrder {
		out = append(out, StemLeafBucket{Stem: strconv.Itoa(stem), Leaves: stems[stem]})
	}
	return out
}

// hourCounts flattens a detection set into one count per calendar hour in
// [start, end).
func hourCounts(detections []detection.Detection, start, end time.Time, loc *time.Location) []int {
	hours := int(end.Sub(start).Hours())
	if hours <= 0 {
		return nil
	}
	counts := make([]int, hours)
	for _, det := range detections {
		idx := int(det.Timestamp.Sub(start).Hours())
		if idx < 0 || idx >= hours {
			continue
		}
		counts[idx]++
	}
	return counts
}

// SpeciesHourlyPattern returns 24 hour-of-day counts for the detections of
// one scientific name among detections, whatever time span they cover.
func SpeciesHourlyPattern(detections []detection.Detection, scientificName string, loc *time.Location) [24]int {
	var out [24]int
	for _, det := range detections {
		if det.ScientificName != scientificName {
			continue
		}
		out[det.Timestamp.In(loc).Hour()]++
	}
	return out
}

