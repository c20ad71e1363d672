package analysis

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeS16(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func TestFramerEmitsWindowsAtConfiguredStride(t *testing.T) {
	const sampleRate = 10 // tiny rate so a 3s window is 30 samples, easy to reason about
	epoch := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	f := newFramer(sampleRate, 0, epoch) // no overlap: stride == window length == 30 samples

	samples := make([]int16, 30)
	for i := range samples {
		samples[i] = 100
	}
	windows := f.push(encodeS16(samples))
	require.Len(t, windows, 1)
	assert.Len(t, windows[0].samples, 30)
	assert.True(t, windows[0].start.Equal(epoch))
	assert.InDelta(t, float32(100)/32768.0, windows[0].samples[0], 0.0001)

	more := f.push(encodeS16(samples))
	require.Len(t, more, 1)
	assert.True(t, more[0].start.Equal(epoch.Add(3*time.Second)))
}

func TestFramerOverlapProducesShorterStride(t *testing.T) {
	const sampleRate = 10
	epoch := time.Now()
	f := newFramer(sampleRate, 1.0, epoch) // stride = 2s = 20 samples, window = 30 samples

	windows := f.push(encodeS16(make([]int16, 30)))
	require.Len(t, windows, 1)
	assert.True(t, windows[0].start.Equal(epoch))

	more := f.push(encodeS16(make([]int16, 20)))
	require.Len(t, more, 1)
	assert.True(t, more[0].start.Equal(epoch.Add(2*time.Second)))
}

func TestFramerNoCompleteWindowYieldsNone(t *testing.T) {
	f := newFramer(10, 0, time.Now())
	windows := f.push(encodeS16(make([]int16, 5)))
	assert.Empty(t, windows)
}
