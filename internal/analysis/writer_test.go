package analysis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/events"
	"github.com/mverteuil/birdcore/internal/telemetry"
)

type fakeStore struct {
	saved     []detection.Detection
	saveErr   error
	firstSeen map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{firstSeen: make(map[string]time.Time)}
}

func (s *fakeStore) SaveDetection(ctx context.Context, d detection.Detection) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, d)
	return nil
}

func (s *fakeStore) FirstSeen(ctx context.Context, scientificName string) (time.Time, bool, error) {
	ts, ok := s.firstSeen[scientificName]
	return ts, ok, nil
}

func newTestDetection(t *testing.T, name string) detection.Detection {
	t.Helper()
	d, err := detection.New(time.Now(), name, "Test Bird", 0.8, 10)
	require.NoError(t, err)
	return d
}

func TestWriteOnePublishesNewSpeciesEvent(t *testing.T) {
	store := newFakeStore()
	bus := events.New(events.DefaultConfig())
	defer bus.Shutdown(time.Second)
	consumer, err := bus.RegisterConsumer("test")
	require.NoError(t, err)

	p := &Pipeline{store: store, bus: bus, tel: telemetry.New()}
	d := newTestDetection(t, "Turdus migratorius")

	p.writeOne(context.Background(), writeJob{detection: d})

	require.Len(t, store.saved, 1)
	assert.Equal(t, d.ScientificName, store.saved[0].ScientificName)

	select {
	case evt := <-consumer.Events():
		assert.True(t, evt.IsNewSpecies)
		assert.Equal(t, d.ScientificName, evt.Detection.ScientificName)
	case <-time.After(time.Second):
		t.Fatal("expected event was not published")
	}
}

func TestWriteOneMarksKnownSpeciesNotNew(t *testing.T) {
	store := newFakeStore()
	store.firstSeen["Turdus migratorius"] = time.Now().Add(-24 * time.Hour)
	bus := events.New(events.DefaultConfig())
	defer bus.Shutdown(time.Second)
	consumer, err := bus.RegisterConsumer("test")
	require.NoError(t, err)

	p := &Pipeline{store: store, bus: bus, tel: telemetry.New()}
	d := newTestDetection(t, "Turdus migratorius")

	p.writeOne(context.Background(), writeJob{detection: d})

	select {
	case evt := <-consumer.Events():
		assert.False(t, evt.IsNewSpecies)
	case <-time.After(time.Second):
		t.Fatal("expected event was not published")
	}
}

func TestWriteOneSkipsPublishOnSaveFailure(t *testing.T) {
	store := newFakeStore()
	store.saveErr = errors.New("disk full")
	bus := events.New(events.DefaultConfig())
	defer bus.Shutdown(time.Second)
	consumer, err := bus.RegisterConsumer("test")
	require.NoError(t, err)

	p := &Pipeline{store: store, bus: bus, tel: telemetry.New()}
	d := newTestDetection(t, "Turdus migratorius")

	p.writeOne(context.Background(), writeJob{detection: d})

	assert.Empty(t, store.saved)
	select {
	case <-consumer.Events():
		t.Fatal("no event should be published when save fails")
	case <-time.After(50 * time.Millisecond):
	}
}
