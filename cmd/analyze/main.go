// Command analyze reads PCM frames off the analysis FIFO, runs them
// through the detection pipeline, and fans resulting detections out to
// the notification and weather-linking consumers.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mverteuil/birdcore/internal/analysis"
	"github.com/mverteuil/birdcore/internal/analysis/species"
	"github.com/mverteuil/birdcore/internal/birdnet"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/events"
	"github.com/mverteuil/birdcore/internal/fifo"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/mqtt"
	"github.com/mverteuil/birdcore/internal/notification"
	"github.com/mverteuil/birdcore/internal/speciesref"
	"github.com/mverteuil/birdcore/internal/telemetry"
	"github.com/mverteuil/birdcore/internal/weather"
)

var log = logging.ForService("analyze")

func main() {
	var configDir string

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Runs the detection pipeline over the analysis FIFO",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configDir)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory holding config.yaml")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	settings, err := conf.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Init(logging.Config{Dir: filepath.Join(settings.DataDir, "logs")})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tel := telemetry.New()

	interp, err := birdnet.New(settings)
	if err != nil {
		return fmt.Errorf("loading birdnet model: %w", err)
	}
	defer interp.Close()

	var region *species.Cache
	if settings.RegionFilter.Enabled {
		region = species.New(interp, float32(settings.Model.RangeFilterThreshold), 24*time.Hour)
	}

	store, err := datastore.OpenFromSettings(settings)
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	bus := events.New(events.DefaultConfig())
	defer func() {
		if err := bus.Shutdown(5 * time.Second); err != nil {
			log.Warn("event bus shutdown", "error", err)
		}
	}()

	pipelineCfg := analysis.Config{
		SampleRate:              settings.Audio.SampleRate,
		Overlap:                 settings.Audio.Overlap,
		Latitude:                settings.Location.Latitude,
		Longitude:               settings.Location.Longitude,
		BaseConfidenceThreshold: settings.Model.SpeciesConfidenceThresh,
		SensitivitySetting:      settings.Model.SensitivitySetting,
		PrivacyThreshold:        float32(settings.Model.PrivacyThreshold / 100),
		DynamicThreshold:        settings.DynamicThreshold,
		RegionFilterThreshold:   float32(settings.Model.RangeFilterThreshold),
		SoundLevelEnabled:       settings.SoundLevel.Enabled,
	}
	var clipStore analysis.ClipStore
	if settings.Audio.ExportClips {
		pipelineCfg.ClipDir = filepath.Join(settings.DataDir, "clips")
		clipStore = store
	}
	pipeline := analysis.NewPipeline(pipelineCfg, interp, store, bus, tel, region, time.Now(), clipStore)
	pipeline.Start(ctx)

	if err := startNotificationEngine(ctx, settings, store, bus); err != nil {
		log.Warn("notification engine disabled", "error", err)
	}
	startWeatherService(ctx, settings, store, bus)

	fifoPath := filepath.Join(settings.DataDir, "fifos", "analysis")
	go func() {
		err := fifo.Pump(ctx, fifoPath, func(frame []byte) error {
			pipeline.Push(ctx, frame)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			log.Error("analysis fifo pump stopped", "error", err)
		}
	}()

	<-ctx.Done()
	pipeline.Wait()
	return nil
}

// startNotificationEngine wires the rule-evaluation engine to every
// adapter this configuration enables, then registers it as a bus
// consumer. Returns early (a no-op) if no adapter ended up configured.
func startNotificationEngine(ctx context.Context, settings *conf.Settings, store *datastore.Store, bus *events.Bus) error {
	var adapters []notification.Adapter

	if len(settings.Notifications.WebhookTargets) > 0 {
		adapters = append(adapters, notification.NewWebhookAdapter(settings.Notifications.WebhookTargets, 10*time.Second))
	}
	if len(settings.Notifications.AppriseTargets) > 0 {
		adapters = append(adapters, notification.NewAppriseAdapter(settings.Notifications.AppriseTargets))
	}
	if settings.MQTT.Enabled {
		client := mqtt.NewClient(settings)
		if err := client.Connect(ctx); err != nil {
			log.Warn("mqtt connect failed, adapter disabled", "error", err)
		} else {
			adapters = append(adapters, notification.NewMQTTAdapter(client, settings.MQTT.TopicPrefix))
		}
	}
	if len(adapters) == 0 {
		return fmt.Errorf("no notification adapters configured")
	}

	var ref *speciesref.Reference
	var refDB *sql.DB
	refPath := filepath.Join(settings.DataDir, "species_reference.db")
	if _, err := os.Stat(refPath); err == nil {
		ref = speciesref.New(refPath)
		if db, err := store.DB().DB(); err == nil {
			refDB = db
		}
	}

	engine := notification.NewEngine(&settings.Notifications, store, ref, refDB, adapters...)
	consumer, err := bus.RegisterConsumer("notification")
	if err != nil {
		return fmt.Errorf("registering notification consumer: %w", err)
	}
	go engine.Consume(ctx, consumer.Events())
	return nil
}

// startWeatherService links each new detection to an hourly weather
// observation, fetched from open-meteo and cached in the datastore.
func startWeatherService(ctx context.Context, settings *conf.Settings, store *datastore.Store, bus *events.Bus) {
	fetcher := weather.NewFetcher(settings.Location.Latitude, settings.Location.Longitude, 1)
	svc := weather.NewService(fetcher, store)

	consumer, err := bus.RegisterConsumer("weather")
	if err != nil {
		log.Warn("weather service disabled", "error", err)
		return
	}
	go svc.Consume(ctx, consumer.Events())
}
