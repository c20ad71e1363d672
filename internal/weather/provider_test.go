package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "hourly": {
    "time": ["2026-07-30T12:00"],
    "temperature_2m": [21.5],
    "relative_humidity_2m": [55],
    "pressure_msl": [1013.2],
    "wind_speed_10m": [10.1],
    "wind_direction_10m": [270],
    "precipitation": [0],
    "rain": [0],
    "snowfall": [0],
    "cloud_cover": [40],
    "visibility": [10000],
    "uv_index": [3.2],
    "direct_radiation": [450]
  }
}`

func TestFetchRangeParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	}))
	defer server.Close()

	f := NewFetcher(40.0, -74.0, 100)
	f.httpClient = server.Client()
	f.endpointOverride = server.URL

	records, err := f.FetchRange(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.InDelta(t, 21.5, records[0].Temperature, 0.001)
	require.Equal(t, 55, records[0].Humidity)
	require.Equal(t, "open-meteo", records[0].Source)
}

func TestAtHandlesOutOfRangeIndex(t *testing.T) {
	require.Equal(t, 0.0, at([]float64{1, 2}, 5))
	require.Equal(t, 2.0, at([]float64{1, 2}, 1))
}
