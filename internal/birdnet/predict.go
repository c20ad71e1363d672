package birdnet

import (
	"fmt"
	"math"
	"sort"

	"github.com/tphakala/go-tflite"
)

// Result pairs a BirdNET label with the confidence the model assigned it in
// a single prediction window.
type Result struct {
	Label          string
	ScientificName string
	CommonName     string
	Confidence     float32
}

// blacklistedLabels are non-species outputs the model emits alongside real
// detections; they are zeroed rather than dropped so downstream code can
// still see (and log) that the window was dominated by noise or a human
// voice, which feeds the privacy truncation decision upstream.
var blacklistedLabels = map[string]bool{
	"Non-bird_Non-bird": true,
	"Noise_Noise":       true,
}

const humanLabel = "Human_Human"

// Predict runs one 3-second audio window (already resampled to the model's
// expected rate/length) plus its location/week metadata through the
// analysis interpreter, sorts every label's confidence highest first, and
// applies privacy truncation: only the top max(10, floor(n*privacy_threshold/100))
// results are returned, so a "Human" label (or anything else) ranked below
// that cut never reaches a caller.
func (in *Interpreter) Predict(sample []float32, lat, lon float64, week int) ([]Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	inputTensor := in.Analysis.GetInputTensor(0)
	if inputTensor == nil {
		return nil, fmt.Errorf("cannot get analysis input tensor")
	}
	input := inputTensor.Float32s()
	if len(input) != len(sample) {
		return nil, fmt.Errorf("sample length %d does not match model input length %d", len(sample), len(input))
	}
	copy(input, sample)

	if metaTensor := in.Analysis.GetInputTensor(1); metaTensor != nil {
		meta := metadataVector(lat, lon, week)
		copy(metaTensor.Float32s(), meta[:])
	}

	if status := in.Analysis.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("tensor invoke failed: status %v", status)
	}

	outputTensor := in.Analysis.GetOutputTensor(0)
	logits := outputTensor.Float32s()

	sensitivity := in.Settings.Model.SensitivitySetting
	results := make([]Result, 0, len(logits))
	for i, logit := range logits {
		if i >= len(in.Labels) {
			break
		}
		label := in.Labels[i]
		confidence := float32(customSigmoid(float64(logit), sensitivity))
		if blacklistedLabels[label] {
			confidence = 0
		}
		results = append(results, Result{
			Label:          label,
			ScientificName: ScientificName(label),
			CommonName:     CommonName(label),
			Confidence:     confidence,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Confidence > results[j].Confidence })
	return results[:privacyTruncationCount(len(results), in.Settings.Model.PrivacyThreshold)], nil
}

// privacyTruncationCount returns how many of n ranked results to keep:
// max(10, floor(n*privacyThresholdPercent/100)).
func privacyTruncationCount(n int, privacyThresholdPercent float64) int {
	k := int(float64(n) * privacyThresholdPercent / 100)
	if k < 10 {
		k = 10
	}
	if k > n {
		k = n
	}
	return k
}

// HumanDetected reports whether the human-voice label scored above
// threshold among results. Callers use this to gate privacy truncation
// before a clip or detection record is ever persisted.
func HumanDetected(results []Result, threshold float32) bool {
	for _, r := range results {
		if r.Label == humanLabel && r.Confidence >= threshold {
			return true
		}
	}
	return false
}

// customSigmoid reproduces BirdNET's sensitivity-adjusted sigmoid,
// 1/(1+e^(-sensitivity*x)), applied to each raw model logit.
func customSigmoid(x, sensitivity float64) float64 {
	return 1.0 / (1.0 + math.Exp(-sensitivity*x))
}
