package birdnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrivacyTruncationCountFloorsAtTen(t *testing.T) {
	assert.Equal(t, 10, privacyTruncationCount(6000, 0.1))
	assert.Equal(t, 600, privacyTruncationCount(6000, 10.0))
	assert.Equal(t, 5, privacyTruncationCount(5, 10.0), "never exceeds n")
}

func TestHumanDetectedIgnoresResultsOutsideTruncatedSlice(t *testing.T) {
	// Simulates what filterOne sees: Predict already truncated the slice to
	// its top-k, so a Human label ranked below the cut is simply absent.
	truncated := []Result{
		{Label: "Turdus migratorius_American Robin", ScientificName: "Turdus migratorius", Confidence: 0.9},
		{Label: "Corvus corax_Common Raven", ScientificName: "Corvus corax", Confidence: 0.5},
	}
	assert.False(t, HumanDetected(truncated, 0.1))
}

func TestHumanDetectedFlagsWithinTruncatedSlice(t *testing.T) {
	truncated := []Result{
		{Label: humanLabel, Confidence: 0.8},
		{Label: "Corvus corax_Common Raven", ScientificName: "Corvus corax", Confidence: 0.5},
	}
	assert.True(t, HumanDetected(truncated, 0.1))
}
