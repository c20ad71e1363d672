// Command web serves the HTTP/JSON API, the SSE event stream, and the
// live-audio websocket relay. It owns no audio device and runs no
// inference: it only reads the datastore the analyze daemon writes and
// the livestream FIFO the capture daemon writes.
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

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mverteuil/birdcore/internal/analytics"
	"github.com/mverteuil/birdcore/internal/api"
	"github.com/mverteuil/birdcore/internal/cache"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/datastore"
	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/notification"
	"github.com/mverteuil/birdcore/internal/speciesref"
	"github.com/mverteuil/birdcore/internal/sysmonitor"
	"github.com/mverteuil/birdcore/internal/telemetry"
)

const newDetectionPollInterval = 5 * time.Second

var log = logging.ForService("web")

func main() {
	var configDir string

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serves the HTTP/JSON API, SSE stream, and live-audio relay",
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

	store, err := datastore.OpenFromSettings(settings)
	if err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer store.Close()

	var ref *speciesref.Reference
	var refDB *sql.DB
	refPath := filepath.Join(settings.DataDir, "species_reference.db")
	if _, err := os.Stat(refPath); err == nil {
		ref = speciesref.New(refPath)
		if db, err := store.DB().DB(); err == nil {
			refDB = db
		}
	}

	location := time.UTC
	if loc, err := time.LoadLocation(settings.Location.Timezone); err == nil {
		location = loc
	}

	analyticCache := cache.New(5*time.Minute, 10*time.Minute)
	analyticService := analytics.NewService(
		store.ListDetectionsSince,
		store.ListDetectionsBetween,
		store.ListWeatherBetween,
		store.GetMostRecentDetections,
		store.GetBestDetections,
		ref,
		refDB,
		analyticCache,
		location,
	)

	go analyticService.Warm(ctx, time.Now())

	sse := notification.NewSSEAdapter()
	go pollNewDetections(ctx, store, sse)

	livestreamFIFO := filepath.Join(settings.DataDir, "fifos", "livestream")

	controller := api.New(settings, store, analyticService, sse, livestreamFIFO)

	// This process records no pipeline metrics of its own (that happens
	// in the analyze daemon); the registry is still wired here so the
	// endpoint exists and so the web process's own request counters
	// (added by instrumenting middleware, if any) have somewhere to go.
	tel := telemetry.New()
	controller.Echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(tel.Registerer(), promhttp.HandlerOpts{})))

	monitor := sysmonitor.New(settings.Monitoring, tel, sse)
	go monitor.Run(ctx)

	listen := settings.Web.Listen
	if listen == "" {
		listen = ":8080"
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := controller.Echo.Shutdown(shutdownCtx); err != nil {
			log.Warn("echo shutdown", "error", err)
		}
	}()

	log.Info("web daemon listening", "addr", listen)
	if err := controller.Echo.Start(listen); err != nil && ctx.Err() == nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// pollNewDetections bridges the datastore's own writer (the analyze
// daemon, a separate process) to this process's SSE subscribers: the
// event bus only fans out within one process, so cross-process push is
// done by polling for detections newer than the last one seen, rather
// than adding a second IPC channel beyond the audio FIFOs.
func pollNewDetections(ctx context.Context, store *datastore.Store, sse *notification.SSEAdapter) {
	ticker := time.NewTicker(newDetectionPollInterval)
	defer ticker.Stop()

	lastSeen := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			detections, err := store.ListDetectionsSince(ctx, lastSeen)
			if err != nil {
				log.Warn("polling for new detections", "error", err)
				continue
			}
			for _, d := range detections {
				notifyNewDetection(ctx, sse, d)
				if d.Timestamp.After(lastSeen) {
					lastSeen = d.Timestamp
				}
			}
		}
	}
}

func notifyNewDetection(ctx context.Context, sse *notification.SSEAdapter, d detection.Detection) {
	if err := sse.Send(ctx, "", d.CommonName, d.ScientificName); err != nil {
		log.Warn("publishing detection to sse", "error", err)
	}
}
