// Package filter implements a cascaded biquad filter chain applied to
// capture-daemon audio before it is written to the analysis and livestream
// FIFOs: high-pass and low-pass band limiting plus gain shaping, per the
// RBJ Audio EQ Cookbook formulas.
package filter

import (
	"fmt"
	"math"
)

// Name identifies a filter's transfer function.
type Name string

const (
	LowPass   Name = "lowpass"
	HighPass  Name = "highpass"
	BandPass  Name = "bandpass"
	Peaking   Name = "peaking"
	LowShelf  Name = "lowshelf"
	HighShelf Name = "highshelf"
)

// Filter is one biquad section, optionally cascaded across multiple passes
// for a steeper rolloff (each pass is an independent copy of the same
// coefficients with its own state, applied in series).
type Filter struct {
	name Name

	b0a0, b1a0, b2a0 float64
	a1a0, a2a0       float64

	// per-pass state; len(in1) == passes
	in1, in2, out1, out2 []float64
}

// NewFilter builds a Filter directly from its transfer-function
// coefficients, normalizing by a0 and allocating passes-worth of state.
func NewFilter(name Name, a0, a1, a2, b0, b1, b2 float64, passes int) *Filter {
	f := &Filter{
		name: name,
		b0a0: b0 / a0, b1a0: b1 / a0, b2a0: b2 / a0,
		a1a0: a1 / a0, a2a0: a2 / a0,
		in1: make([]float64, passes), in2: make([]float64, passes),
		out1: make([]float64, passes), out2: make([]float64, passes),
	}
	return f
}

// IsZero reports whether f is the zero value (never constructed via one of
// the New* functions).
func (f *Filter) IsZero() bool {
	return f.name == "" && len(f.in1) == 0
}

// ApplyBatch runs samples through every cascade pass in place.
func (f *Filter) ApplyBatch(samples []float64) {
	for pass := range f.in1 {
		in1, in2, out1, out2 := f.in1[pass], f.in2[pass], f.out1[pass], f.out2[pass]
		for i, x := range samples {
			y := f.b0a0*x + f.b1a0*in1 + f.b2a0*in2 - f.a1a0*out1 - f.a2a0*out2
			in2, in1 = in1, x
			out2, out1 = out1, y
			samples[i] = y
		}
		f.in1[pass], f.in2[pass], f.out1[pass], f.out2[pass] = in1, in2, out1, out2
	}
}

func validatePasses(passes int) error {
	if passes < 1 {
		return fmt.Errorf("passes must be >= 1, got %d", passes)
	}
	return nil
}

// NewLowPass builds a resonant low-pass biquad (RBJ cookbook).
func NewLowPass(sampleRate, cutoff, q float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, cutoff, q)
	cosw0 := math.Cos(w0)

	b0 := (1 - cosw0) / 2
	b1 := 1 - cosw0
	b2 := (1 - cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	return NewFilter(LowPass, a0, a1, a2, b0, b1, b2, passes), nil
}

// NewHighPass builds a resonant high-pass biquad (RBJ cookbook).
func NewHighPass(sampleRate, cutoff, q float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, cutoff, q)
	cosw0 := math.Cos(w0)

	b0 := (1 + cosw0) / 2
	b1 := -(1 + cosw0)
	b2 := (1 + cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	return NewFilter(HighPass, a0, a1, a2, b0, b1, b2, passes), nil
}

// NewBandPass builds a constant skirt-gain band-pass biquad.
func NewBandPass(sampleRate, center, q float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, center, q)
	cosw0 := math.Cos(w0)

	b0 := alpha
	b1 := 0.0
	b2 := -alpha
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	return NewFilter(BandPass, a0, a1, a2, b0, b1, b2, passes), nil
}

// NewPeaking builds a peaking-EQ biquad boosting or cutting gainDB around
// center.
func NewPeaking(sampleRate, center, q, gainDB float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, center, q)
	cosw0 := math.Cos(w0)
	a := math.Pow(10, gainDB/40)

	b0 := 1 + alpha*a
	b1 := -2 * cosw0
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosw0
	a2 := 1 - alpha/a

	return NewFilter(Peaking, a0, a1, a2, b0, b1, b2, passes), nil
}

// NewLowShelf builds a low-shelf biquad boosting or cutting gainDB below
// cutoff.
func NewLowShelf(sampleRate, cutoff, q, gainDB float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, cutoff, q)
	cosw0 := math.Cos(w0)
	a := math.Pow(10, gainDB/40)
	twoSqrtAAlpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) - (a-1)*cosw0 + twoSqrtAAlpha)
	b1 := 2 * a * ((a - 1) - (a+1)*cosw0)
	b2 := a * ((a + 1) - (a-1)*cosw0 - twoSqrtAAlpha)
	a0 := (a + 1) + (a-1)*cosw0 + twoSqrtAAlpha
	a1 := -2 * ((a - 1) + (a+1)*cosw0)
	a2 := (a + 1) + (a-1)*cosw0 - twoSqrtAAlpha

	return NewFilter(LowShelf, a0, a1, a2, b0, b1, b2, passes), nil
}

// NewHighShelf builds a high-shelf biquad boosting or cutting gainDB above
// cutoff.
func NewHighShelf(sampleRate, cutoff, q, gainDB float64, passes int) (*Filter, error) {
	if err := validatePasses(passes); err != nil {
		return nil, err
	}
	w0, alpha := omegaAlpha(sampleRate, cutoff, q)
	cosw0 := math.Cos(w0)
	a := math.Pow(10, gainDB/40)
	twoSqrtAAlpha := 2 * math.Sqrt(a) * alpha

	b0 := a * ((a + 1) + (a-1)*cosw0 + twoSqrtAAlpha)
	b1 := -2 * a * ((a - 1) + (a+1)*cosw0)
	b2 := a * ((a + 1) + (a-1)*cosw0 - twoSqrtAAlpha)
	a0 := (a + 1) - (a-1)*cosw0 + twoSqrtAAlpha
	a1 := 2 * ((a - 1) - (a+1)*cosw0)
	a2 := (a + 1) - (a-1)*cosw0 - twoSqrtAAlpha

	return NewFilter(HighShelf, a0, a1, a2, b0, b1, b2, passes), nil
}

func omegaAlpha(sampleRate, freq, q float64) (w0, alpha float64) {
	w0 = 2 * math.Pi * freq / sampleRate
	alpha = math.Sin(w0) / (2 * q)
	return w0, alpha
}

// FilterChain runs a sequence of filters over the same samples in order,
// the way the capture daemon cascades high-pass -> low-pass. The chain has
// no gain stage.
type FilterChain struct {
	filters []*Filter
}

// NewFilterChain builds an empty chain.
func NewFilterChain() *FilterChain {
	return &FilterChain{}
}

// Length returns the number of filters currently in the chain.
func (fc *FilterChain) Length() int {
	return len(fc.filters)
}

// AddFilter appends f to the chain. f must be non-nil and already built via
// one of the New* constructors.
func (fc *FilterChain) AddFilter(f *Filter) error {
	if f == nil {
		return fmt.Errorf("cannot add nil filter")
	}
	if f.IsZero() {
		return fmt.Errorf("cannot add uninitialized filter")
	}
	fc.filters = append(fc.filters, f)
	return nil
}

// ApplyBatch runs samples through every filter in the chain, in place, in
// the order they were added.
func (fc *FilterChain) ApplyBatch(samples []float64) {
	for _, f := range fc.filters {
		f.ApplyBatch(samples)
	}
}
