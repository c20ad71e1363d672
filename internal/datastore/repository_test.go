package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/detection"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := OpenSQLite(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGetDetection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d, err := detection.New(time.Now(), "Turdus migratorius", "American Robin", 0.95, 20)
	require.NoError(t, err)

	require.NoError(t, store.SaveDetection(ctx, d))

	got, err := store.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, d.ScientificName, got.ScientificName)
	require.InDelta(t, d.Confidence, got.Confidence, 1e-9)
	require.False(t, got.HasWeather())
}

func TestAttachWeatherIsSingleShot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d, err := detection.New(time.Now(), "Turdus migratorius", "American Robin", 0.95, 20)
	require.NoError(t, err)
	require.NoError(t, store.SaveDetection(ctx, d))

	hour := time.Date(2026, 7, 30, 14, 0, 0, 0, time.UTC)
	require.NoError(t, store.AttachWeather(ctx, d.ID, hour, 40.0, -74.0))

	got, err := store.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	require.True(t, got.HasWeather())
	require.Equal(t, hour, *got.WeatherTimestamp)

	// A second attach attempt must not overwrite the first.
	laterHour := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	require.NoError(t, store.AttachWeather(ctx, d.ID, laterHour, 41.0, -75.0))

	got, err = store.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, hour, *got.WeatherTimestamp)
}

func TestListDetectionsBetween(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	for i, hour := range []int{1, 5, 10, 23} {
		d, err := detection.New(base.Add(time.Duration(hour)*time.Hour), "Species", "S", 0.5+float64(i)*0.01, 20)
		require.NoError(t, err)
		require.NoError(t, store.SaveDetection(ctx, d))
	}

	results, err := store.ListDetectionsBetween(ctx, base, base.Add(12*time.Hour))
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestDeleteAudioFileClearsDetectionReference(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	d, err := detection.New(time.Now(), "Species", "S", 0.5, 20)
	require.NoError(t, err)
	require.NoError(t, store.SaveAudioFile(ctx, d.ID, "/data/clips/a.wav", 3.0, 1024))
	audioID := d.ID
	d.AudioFileID = &audioID
	require.NoError(t, store.SaveDetection(ctx, d))

	require.NoError(t, store.DeleteAudioFile(ctx, audioID))

	got, err := store.GetDetection(ctx, d.ID)
	require.NoError(t, err)
	require.Nil(t, got.AudioFileID)
}
