package analysis

import (
	"context"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

// ClipStore is the subset of internal/datastore.Store the clip writer
// needs, kept separate from Store so pipelines built without clip export
// configured never require it.
type ClipStore interface {
	SaveAudioFile(ctx context.Context, id uuid.UUID, filePath string, durationSeconds float64, sizeBytes int64) error
}

// clipWriter encodes a detection window's samples to a 16-bit mono WAV
// file under dir and records it via ClipStore, returning the new audio
// file's ID so the caller can link it onto the Detection before saving.
type clipWriter struct {
	dir        string
	sampleRate int
	store      ClipStore
}

func newClipWriter(dir string, sampleRate int, store ClipStore) *clipWriter {
	return &clipWriter{dir: dir, sampleRate: sampleRate, store: store}
}

func (c *clipWriter) write(ctx context.Context, w window) (uuid.UUID, error) {
	id := uuid.New()
	name := id.String() + ".wav"
	path := filepath.Join(c.dir, name)

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return uuid.UUID{}, err
	}

	f, err := os.Create(path)
	if err != nil {
		return uuid.UUID{}, err
	}

	enc := wav.NewEncoder(f, c.sampleRate, 16, 1, 1)
	data := make([]int, len(w.samples))
	for i, s := range w.samples {
		data[i] = int(s * 32768.0)
	}
	buf := &audio.IntBuffer{
		Data:   data,
		Format: &audio.Format{SampleRate: c.sampleRate, NumChannels: 1},
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(path)
		return uuid.UUID{}, err
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return uuid.UUID{}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return uuid.UUID{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return uuid.UUID{}, err
	}
	durationSeconds := float64(len(w.samples)) / float64(c.sampleRate)
	if err := c.store.SaveAudioFile(ctx, id, path, durationSeconds, info.Size()); err != nil {
		return uuid.UUID{}, err
	}
	return id, nil
}
