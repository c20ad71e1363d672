package analysis

import "math"

// SoundLevel is one window's RMS amplitude expressed as both a linear
// fraction and dBFS (decibels relative to full scale), published
// alongside ordinary detection results to the SSE stream and prometheus
// as a lightweight noise-floor gauge.
type SoundLevel struct {
	RMS  float64
	DBFS float64
}

// measureSoundLevel computes the RMS/dBFS pair for one window of
// normalized ([-1,1]) float32 samples. An all-silent window reports
// -inf-avoiding floor of -120 dBFS rather than actual negative infinity,
// since that value still needs to round-trip through JSON for SSE/metrics
// consumers.
func measureSoundLevel(samples []float32) SoundLevel {
	if len(samples) == 0 {
		return SoundLevel{DBFS: -120}
	}

	var sumSquares float64
	for _, s := range samples {
		sumSquares += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))

	const floor = -120.0
	dbfs := floor
	if rms > 0 {
		dbfs = 20 * math.Log10(rms)
		if dbfs < floor {
			dbfs = floor
		}
	}
	return SoundLevel{RMS: rms, DBFS: dbfs}
}
