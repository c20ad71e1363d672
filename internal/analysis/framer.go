package analysis

import (
	"encoding/binary"
	"time"
)

// windowSeconds is BirdNET's fixed analysis window length; only the
// stride between window starts (windowSeconds - overlap) varies with
// configuration.
const windowSeconds = 3.0

// window is one complete, BirdNET-sized audio segment ready for
// inference, carrying the wall-clock instant its first sample was
// captured.
type window struct {
	samples []float32
	start   time.Time
}

// framer accumulates mono PCM samples pushed in arbitrary-sized chunks
// and slices them into fixed-length, possibly-overlapping windows. The
// stride between window starts is derived from the configured overlap
// (windowSeconds - overlap per step).
type framer struct {
	sampleRate    int
	windowSamples int
	strideSamples int

	buf       []float32
	consumed  int64 // total samples permanently dropped from buf's front
	windowPos int64 // sample index of the next window's start

	epoch time.Time // wall-clock time of sample index 0
}

// newFramer builds a framer for sampleRate Hz mono audio with the given
// overlap in seconds; epoch is the wall-clock instant the first pushed
// sample was captured, used to timestamp every emitted window.
func newFramer(sampleRate int, overlapSeconds float64, epoch time.Time) *framer {
	windowSamples := int(float64(sampleRate) * windowSeconds)
	strideSamples := int(float64(sampleRate) * (windowSeconds - overlapSeconds))
	if strideSamples <= 0 {
		strideSamples = windowSamples
	}
	return &framer{
		sampleRate:    sampleRate,
		windowSamples: windowSamples,
		strideSamples: strideSamples,
		epoch:         epoch,
	}
}

// push decodes pcm as signed 16-bit little-endian mono samples, appends
// them to the accumulator, and returns every window that became complete
// as a result, oldest first.
func (f *framer) push(pcm []byte) []window {
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		f.buf = append(f.buf, float32(sample)/32768.0)
	}

	var windows []window
	for {
		localStart := f.windowPos - f.consumed
		localEnd := localStart + int64(f.windowSamples)
		if localEnd > int64(len(f.buf)) {
			break
		}

		samples := make([]float32, f.windowSamples)
		copy(samples, f.buf[localStart:localEnd])
		windows = append(windows, window{
			samples: samples,
			start:   f.epoch.Add(time.Duration(float64(f.windowPos) / float64(f.sampleRate) * float64(time.Second))),
		})

		f.windowPos += int64(f.strideSamples)
	}

	f.trim()
	return windows
}

// trim drops buffered samples no future window can still need, keeping
// memory use bounded to roughly one window's worth of backlog regardless
// of how long the stream has run.
func (f *framer) trim() {
	nextLocalStart := f.windowPos - f.consumed
	if nextLocalStart <= 0 {
		return
	}
	if nextLocalStart > int64(len(f.buf)) {
		nextLocalStart = int64(len(f.buf))
	}
	f.buf = f.buf[nextLocalStart:]
	f.consumed += nextLocalStart
}
