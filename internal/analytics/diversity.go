package analytics

import (
	"math"
	"math/rand"
	"time"
)

// AccumulationPoint is one (sample_count, distinct_species_so_far) pair on
// a species accumulation curve.
type AccumulationPoint struct {
	SampleCount  int
	SpeciesSoFar float64
}

// AccumulationMethod selects how Accumulate builds the curve.
type AccumulationMethod string

const (
	// MethodRandom shuffles the detection sequence and averages the
	// resulting curve over several independent runs, smoothing out the
	// order-dependence of a single pass.
	MethodRandom AccumulationMethod = "random"
	// MethodRarefaction computes the expected number of distinct species
	// for each sample size analytically (Hurlbert's rarefaction formula),
	// with no randomization.
	MethodRarefaction AccumulationMethod = "rarefaction"
)

// Accumulate builds a species accumulation curve from an ordered sequence
// of scientific names (one per detection, in original detection order).
// The random method runs `runs` independent shuffles and averages the
// species-so-far count at each sample size; the rarefaction method
// computes the expected count analytically from the final species
// frequency distribution, per Hurlbert 1971.
func Accumulate(scientificNames []string, method AccumulationMethod, runs int, rng *rand.Rand) []AccumulationPoint {
	n := len(scientificNames)
	if n == 0 {
		return nil
	}

	switch method {
	case MethodRarefaction:
		return rarefactionCurve(scientificNames)
	default:
		return randomAccumulationCurve(scientificNames, runs, rng)
	}
}

func randomAccumulationCurve(names []string, runs int, rng *rand.Rand) []AccumulationPoint {
	if runs <= 0 {
		runs = 10
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	n := len(names)
	sums := make([]float64, n)

	shuffled := make([]string, n)
	for r := 0; r < runs; r++ {
		copy(shuffled, names)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		seen := map[string]struct{}{}
		for i, name := range shuffled {
			seen[name] = struct{}{}
			sums[i] += float64(len(seen))
		}
	}

	out := make([]AccumulationPoint, n)
	for i := range out {
		out[i] = AccumulationPoint{SampleCount: i + 1, SpeciesSoFar: sums[i] / float64(runs)}
	}
	return out
}

// rarefactionCurve computes, for each sample size m from 1 to n, the
// expected number of distinct species in a random sample of size m drawn
// without replacement from the full pool (Hurlbert's rarefaction
// estimator): E[S(m)] = S - sum_i C(N-N_i, m) / C(N, m), where N is
// the total sample count, N_i the count of species i, and S the total
// observed species richness.
func rarefactionCurve(names []string) []AccumulationPoint {
	counts := map[string]int{}
	for _, name := range names {
		counts[name]++
	}
	totalSpecies := len(counts)
	n := len(names)

	out := make([]AccumulationPoint, n)
	for m := 1; m <= n; m++ {
		expected := float64(totalSpecies)
		for _, ni := range counts {
			expected -= logChooseRatio(n, ni, m)
		}
		out[m-1] = AccumulationPoint{SampleCount: m, SpeciesSoFar: expected}
	}
	return out
}

// logChooseRatio computes C(n-ni, m) / C(n, m) via log-gamma terms to
// avoid overflow for realistic detection counts, returning the
// probability that species i is absent from an m-sample (the term
// subtracted from total richness for each species in rarefactionCurve).
func logChooseRatio(n, ni, m int) float64 {
	if n-ni < m {
		return 0 // species i must appear in every m-sample; never absent
	}
	// log C(n-ni, m) - log C(n, m), using lgamma(k+1) = log(k!)
	logC := func(a, b int) float64 {
		if b < 0 || b > a {
			return math.Inf(-1)
		}
		g1, _ := math.Lgamma(float64(a + 1))
		g2, _ := math.Lgamma(float64(b + 1))
		g3, _ := math.Lgamma(float64(a-b) + 1)
		return g1 - g2 - g3
	}
	return math.Exp(logC(n-ni, m) - logC(n, m))
}

// WindowSpecies is one sliding-window snapshot of species present during
// [PeriodStart, PeriodEnd).
type WindowSpecies struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Species     []string
}

// TurnoverComparison is the result of comparing two consecutive windows.
type TurnoverComparison struct {
	PeriodStart  time.Time
	PeriodEnd    time.Time
	SpeciesLost  int
	SpeciesGained int
	TurnoverRate float64
}

// BetaDiversity computes temporal species turnover between each pair of
// consecutive windows: turnover_rate = (lost + gained) / (2 * |union|).
func BetaDiversity(windows []WindowSpecies) []TurnoverComparison {
	if len(windows) < 2 {
		return nil
	}

	out := make([]TurnoverComparison, 0, len(windows)-1)
	for i := 1; i < len(windows); i++ {
		prev := toSet(windows[i-1].Species)
		curr := toSet(windows[i].Species)

		lost, gained, union := 0, 0, map[string]struct{}{}
		for sp := range prev {
			union[sp] = struct{}{}
			if _, ok := curr[sp]; !ok {
				lost++
			}
		}
		for sp := range curr {
			union[sp] = struct{}{}
			if _, ok := prev[sp]; !ok {
				gained++
			}
		}

		var rate float64
		if len(union) > 0 {
			rate = float64(lost+gained) / (2 * float64(len(union)))
		}

		out = append(out, TurnoverComparison{
			PeriodStart:   windows[i].PeriodStart,
			PeriodEnd:     windows[i].PeriodEnd,
			SpeciesLost:   lost,
			SpeciesGained: gained,
			TurnoverRate:  rate,
		})
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// Correlation computes the Pearson correlation coefficient between x and
// y, dropping any index where either value is nil (aligned-None
// filtering). A result with fewer than 2 remaining points is defined to be
// 0, matching the convention that an undetermined correlation reports no
// relationship rather than an error.
func Correlation(x, y []*float64) float64 {
	var xs, ys []float64
	for i := range x {
		if i >= len(y) || x[i] == nil || y[i] == nil {
			continue
		}
		xs = append(xs, *x[i])
		ys = append(ys, *y[i])
	}
	if len(xs) < 2 {
		return 0
	}

	n := float64(len(xs))
	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumX2 += xs[i] * xs[i]
		sumY2 += ys[i] * ys[i]
	}

	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
