package birdnet

import (
	"fmt"
	"sort"
	"time"

	"github.com/tphakala/go-tflite"
)

// ProbableSpecies runs the range-filter interpreter for a given
// location/week and returns every label scoring at or above threshold,
// sorted highest first. The species cache uses this to build the set of
// labels worth keeping for a given location, rather than running the
// full analysis interpreter against species that can't plausibly occur
// there.
func (in *Interpreter) ProbableSpecies(lat, lon float64, week int, threshold float32) ([]Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.Range == nil {
		return nil, fmt.Errorf("no range filter model loaded")
	}

	inputTensor := in.Range.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get range input tensor")
	}
	input := inputTensor.Float32s()
	if len(input) < 3 {
		return nil, fmt.Errorf("range input tensor too small: %d", len(input))
	}
	input[0] = float32(lat)
	input[1] = float32(lon)
	input[2] = float32(week)

	if status := in.Range.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("range tensor invoke failed: status %v", status)
	}

	outputTensor := in.Range.GetOutputTensor(0)
	scores := outputTensor.Float32s()

	results := make([]Result, 0, len(scores))
	for i, score := range scores {
		if i >= len(in.Labels) || score < threshold {
			continue
		}
		label := in.Labels[i]
		results = append(results, Result{
			Label:          label,
			ScientificName: ScientificName(label),
			CommonName:     CommonName(label),
			Confidence:     score,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	return results, nil
}

// WeekOf returns the BirdNET week number (1-48) that at falls within:
// four 7-day weeks per calendar month counted from day 1, so days 29-31
// take the number of the following month's first week, clamped to 48 in
// December.
func WeekOf(at time.Time) int {
	month := int(at.Month())
	day := at.Day()
	week := (month-1)*4 + (day-1)/7 + 1
	if week > 48 {
		week = 48
	}
	return week
}
