package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminePerformanceCoresRecognizesHybridIntelSKUs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		brand string
		want  int
	}{
		{"Intel(R) Core(TM) i9-12900K CPU @ 3.20GHz", 8},
		{"13th Gen Intel(R) Core(TM) i7-13700K", 8},
		{"Intel(R) Core(TM) i9-14900K CPU @ 3.20GHz", 8},
		{"AMD Ryzen 9 7950X 16-Core Processor", 0},
		{"Intel(R) Core(TM) i7-9700K CPU @ 3.60GHz", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, determinePerformanceCores(tt.brand), tt.brand)
	}
}

func TestOptimalThreadCountCapsAtAvailableCores(t *testing.T) {
	t.Parallel()

	spec := CPUSpec{BrandName: "Intel(R) Core(TM) i9-12900K", PerformanceCores: 9999}
	assert.LessOrEqual(t, spec.OptimalThreadCount(), 9999)
	assert.Greater(t, spec.OptimalThreadCount(), 0)
}

func TestOptimalThreadCountFallsBackToAllCoresWhenUnrecognized(t *testing.T) {
	t.Parallel()

	spec := CPUSpec{BrandName: "some unknown chip", PerformanceCores: 0}
	assert.Greater(t, spec.OptimalThreadCount(), 0)
}
