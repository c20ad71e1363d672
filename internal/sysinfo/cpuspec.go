// Package sysinfo reports host CPU and resource characteristics the
// model-loading and capture paths use to size themselves.
package sysinfo

import (
	"regexp"
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// CPUSpec describes enough of the host CPU to pick an inference thread
// count that favors performance cores over efficiency cores on hybrid
// architectures.
type CPUSpec struct {
	BrandName        string
	PerformanceCores int
}

// GetCPUSpec inspects the running CPU via cpuid.
func GetCPUSpec() CPUSpec {
	brand := cpuid.CPU.BrandName
	return CPUSpec{
		BrandName:        brand,
		PerformanceCores: determinePerformanceCores(brand),
	}
}

// OptimalThreadCount returns the recommended number of inference threads:
// the performance-core count on a recognized hybrid CPU, or every logical
// core otherwise, capped to what's actually schedulable on this machine
// (relevant inside a constrained VM or container).
func (c CPUSpec) OptimalThreadCount() int {
	available := runtime.NumCPU()
	if c.PerformanceCores <= 0 {
		return available
	}
	if c.PerformanceCores > available {
		return available
	}
	return c.PerformanceCores
}

var intelCoreRegex = regexp.MustCompile(`intel.*core.*i[3579]-(\d{4,5})`)

// determinePerformanceCores maps a subset of recent Intel hybrid SKUs to
// their documented P-core count. Unrecognized brands (AMD, ARM, older
// Intel, anything not in this table) return 0, which OptimalThreadCount
// treats as "no P/E split, use every logical core".
func determinePerformanceCores(brandName string) int {
	brandName = strings.ToLower(brandName)
	matches := intelCoreRegex.FindStringSubmatch(brandName)
	if len(matches) < 2 {
		return 0
	}
	switch {
	case strings.HasPrefix(matches[1], "129"): // 12900-series
		return 8
	case strings.HasPrefix(matches[1], "139"): // 13900-series
		return 8
	case strings.HasPrefix(matches[1], "149"): // 14900-series
		return 8
	default:
		return 0
	}
}
