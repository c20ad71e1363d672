// Package weather fetches hourly weather observations from Open-Meteo and
// persists them, linking each hour's record to any detection still waiting
// on one.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/logging"
)

var log = logging.ForService("weather")

const (
	forecastURL  = "https://api.open-meteo.com/v1/forecast"
	historicalURL = "https://archive-api.open-meteo.com/v1/era5"
	historicalCutoff = 5 * 24 * time.Hour
	hourlyParams = "temperature_2m,relative_humidity_2m,pressure_msl,wind_speed_10m," +
		"wind_direction_10m,precipitation,rain,snowfall,cloud_cover," +
		"visibility,uv_index,direct_radiation"
)

// Fetcher retrieves hourly weather observations for one fixed location,
// rate-limited to stay within Open-Meteo's free-tier request budget.
type Fetcher struct {
	httpClient       *http.Client
	limiter          *rate.Limiter
	latitude         float64
	longitude        float64
	endpointOverride string // set in tests to point at an httptest server
}

// NewFetcher builds a Fetcher for (lat, lon), allowing at most ratePerSecond
// requests per second with a burst of 1.
func NewFetcher(lat, lon float64, ratePerSecond float64) *Fetcher {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		latitude:   lat,
		longitude:  lon,
	}
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string  `json:"time"`
		Temperature2m      []float64 `json:"temperature_2m"`
		RelativeHumidity2m []float64 `json:"relative_humidity_2m"`
		PressureMSL        []float64 `json:"pressure_msl"`
		WindSpeed10m       []float64 `json:"wind_speed_10m"`
		WindDirection10m   []float64 `json:"wind_direction_10m"`
		Precipitation      []float64 `json:"precipitation"`
		Rain               []float64 `json:"rain"`
		Snowfall           []float64 `json:"snowfall"`
		CloudCover         []float64 `json:"cloud_cover"`
		Visibility         []float64 `json:"visibility"`
		UVIndex            []float64 `json:"uv_index"`
		DirectRadiation    []float64 `json:"direct_radiation"`
	} `json:"hourly"`
}

// FetchRange retrieves hourly observations for the calendar dates of start
// through end, picking the historical or forecast endpoint based on how far
// in the past start falls. Every hour the API returns for those dates is
// kept; hours outside [start, end) are not filtered out.
func (f *Fetcher) FetchRange(ctx context.Context, start, end time.Time) ([]datastore.WeatherRecord, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for weather rate limiter: %w", err)
	}

	endpoint := forecastURL
	if time.Since(start) > historicalCutoff {
		endpoint = historicalURL
	}
	if f.endpointOverride != "" {
		endpoint = f.endpointOverride
	}

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(f.latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(f.longitude, 'f', -1, 64))
	params.Set("start_date", start.Format("2006-01-02"))
	params.Set("end_date", end.Format("2006-01-02"))
	params.Set("hourly", hourlyParams)
	params.Set("timezone", "UTC")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building weather request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching weather: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather API returned status %d", resp.StatusCode)
	}

	var body openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding weather response: %w", err)
	}

	fetchedAt := time.Now().UTC()
	out := make([]datastore.WeatherRecord, 0, len(body.Hourly.Time))
	for i, ts := range body.Hourly.Time {
		parsed, err := time.Parse("2006-01-02T15:04", ts)
		if err != nil {
			log.Warn("skipping unparseable weather timestamp", "timestamp", ts, "error", err)
			continue
		}
		out = append(out, datastore.WeatherRecord{
			Timestamp:       parsed.UTC(),
			Latitude:        f.latitude,
			Longitude:       f.longitude,
			Temperature:     at(body.Hourly.Temperature2m, i),
			Humidity:        int(at(body.Hourly.RelativeHumidity2m, i)),
			PressureHPa:     at(body.Hourly.PressureMSL, i),
			WindSpeed:       at(body.Hourly.WindSpeed10m, i),
			WindDirection:   int(at(body.Hourly.WindDirection10m, i)),
			PrecipitationMM: at(body.Hourly.Precipitation, i),
			Rain:            at(body.Hourly.Rain, i),
			Snow:            at(body.Hourly.Snowfall, i),
			CloudCoverPct:   int(at(body.Hourly.CloudCover, i)),
			VisibilityM:     int(at(body.Hourly.Visibility, i)),
			UVIndex:         at(body.Hourly.UVIndex, i),
			SolarRadiation:  at(body.Hourly.DirectRadiation, i),
			Source:          "open-meteo",
			FetchedAt:       fetchedAt,
		})
	}
	return out, nil
}

func at(values []float64, i int) float64 {
	if i < 0 || i >= len(values) {
		return 0
	}
	return values[i]
}

// FetchHour retrieves the single hourly observation for hour (truncated to
// the hour boundary).
func (f *Fetcher) FetchHour(ctx context.Context, hour time.Time) (datastore.WeatherRecord, error) {
	hour = hour.Truncate(time.Hour)
	records, err := f.FetchRange(ctx, hour, hour.Add(time.Hour))
	if err != nil {
		return datastore.WeatherRecord{}, err
	}
	for _, rec := range records {
		if rec.Timestamp.Equal(hour) {
			return rec, nil
		}
	}
	return datastore.WeatherRecord{}, fmt.Errorf("no weather data returned for %s", hour)
}
