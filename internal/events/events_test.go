package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/detection"
)

func newTestDetection(t *testing.T) detection.Detection {
	t.Helper()
	d, err := detection.New(time.Now(), "Turdus migratorius", "American Robin", 0.9, 20)
	require.NoError(t, err)
	return d
}

func TestPublishDeliversToRegisteredConsumer(t *testing.T) {
	bus := New(Config{BufferSize: 4, Workers: 1})
	defer bus.Shutdown(time.Second)

	c, err := bus.RegisterConsumer("test")
	require.NoError(t, err)

	require.True(t, bus.TryPublish(DetectionEvent{Detection: newTestDetection(t)}))

	select {
	case ev := <-c.Events():
		require.Equal(t, "Turdus migratorius", ev.Detection.ScientificName)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDuplicateConsumerNameRejected(t *testing.T) {
	bus := New(Config{BufferSize: 4, Workers: 1})
	defer bus.Shutdown(time.Second)

	_, err := bus.RegisterConsumer("dup")
	require.NoError(t, err)

	_, err = bus.RegisterConsumer("dup")
	require.Error(t, err)
}

func TestSlowConsumerDropsOldestInsteadOfBlocking(t *testing.T) {
	bus := New(Config{BufferSize: 1, Workers: 1})
	defer bus.Shutdown(time.Second)

	c, err := bus.RegisterConsumer("slow")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		bus.TryPublish(DetectionEvent{Detection: newTestDetection(t)})
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return c.Stats().Dropped > 0 || c.Stats().Delivered > 0
	}, time.Second, 10*time.Millisecond)
}

func TestUnregisterConsumerClosesChannel(t *testing.T) {
	bus := New(Config{BufferSize: 4, Workers: 1})
	defer bus.Shutdown(time.Second)

	c, err := bus.RegisterConsumer("gone")
	require.NoError(t, err)
	bus.UnregisterConsumer("gone")

	_, ok := <-c.Events()
	require.False(t, ok)
}
