// Command updated watches the upstream git remote for new commits and
// applies them through the snapshot/rollback state machine, exposing a
// tiny control endpoint the web daemon's admin UI can call into.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/kvchannel"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/update"
)

var log = logging.ForService("updated")

func main() {
	var configDir, repoDir, controlListen string

	cmd := &cobra.Command{
		Use:   "updated",
		Short: "Checks for and applies appliance updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configDir, repoDir, controlListen)
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory holding config.yaml")
	cmd.Flags().StringVar(&repoDir, "repo-dir", ".", "git checkout to update")
	cmd.Flags().StringVar(&controlListen, "control-listen", ":8081", "address for the update control endpoint")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configDir, repoDir, controlListen string) error {
	settings, err := conf.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Init(logging.Config{Dir: filepath.Join(settings.DataDir, "logs")})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv := kvchannel.New()
	cfg := update.ConfigFromSettings(settings, repoDir, settings.DataDir)
	manager := update.NewManager(cfg, kv, nil, restartServices, verifyWebHealth(settings)).
		WithExporter(update.NewExporter(settings.Updates.Export, settings.DataDir))

	if err := manager.RecoverFromCrash(ctx); err != nil {
		log.Error("startup crash recovery failed", "error", err)
	}

	handleSignals(ctx, cancel, manager)

	if settings.Updates.AutoCheckOnStartup {
		if _, err := manager.Check(ctx); err != nil {
			log.Warn("startup update check failed", "error", err)
		}
	}
	if settings.Updates.CheckEnabled {
		go runCheckLoop(ctx, manager, cfg.CheckInterval)
	}
	go runApplyWorker(ctx, manager, kv)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /update/check", func(w http.ResponseWriter, r *http.Request) {
		n, err := manager.Check(r.Context())
		writeJSON(w, map[string]any{"commits_behind": n, "error": errString(err)})
	})
	mux.HandleFunc("POST /update/apply", func(w http.ResponseWriter, r *http.Request) {
		kv.Set(kvchannel.KeyUpdateRequest, time.Now().UTC())
		writeJSON(w, map[string]any{"accepted": true})
	})
	mux.HandleFunc("GET /update/status", func(w http.ResponseWriter, r *http.Request) {
		status, _, _ := kv.Get(kvchannel.KeyUpdateStatus)
		result, _, _ := kv.Get(kvchannel.KeyUpdateResult)
		writeJSON(w, map[string]any{"status": status, "result": result})
	})
	mux.HandleFunc("GET /api/update/stream", func(w http.ResponseWriter, r *http.Request) {
		streamUpdateState(w, r, kv)
	})

	server := &http.Server{Addr: controlListen, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("update control endpoint listening", "addr", controlListen)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// handleSignals routes termination signals through the manager's
// SignalDeferrer so one arriving mid-apply is recorded rather than
// killing the process in the middle of a git reset.
func handleSignals(ctx context.Context, cancel context.CancelFunc, manager *update.Manager) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if manager.Signals().Handle(sig) {
					cancel()
					return
				}
				log.Info("termination signal deferred during critical section")
			}
		}
	}()
}

func runCheckLoop(ctx context.Context, manager *update.Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := manager.Check(ctx); err != nil {
				log.Warn("periodic update check failed", "error", err)
			}
		}
	}
}

// runApplyWorker serializes apply requests: the control endpoint only
// hands off a request by bumping the kvchannel key, so two concurrent
// POST /update/apply calls collapse into one in-flight apply rather than
// racing the filesystem lock.
func runApplyWorker(ctx context.Context, manager *update.Manager, kv *kvchannel.Channel) {
	var sinceVersion uint64
	for {
		_, version, err := kv.Wait(ctx, kvchannel.KeyUpdateRequest, sinceVersion)
		if err != nil {
			return
		}
		sinceVersion = version
		if err := manager.Apply(ctx); err != nil {
			log.Error("update apply failed", "error", err)
		}
	}
}

func restartServices(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "systemctl", "restart",
		"birdcore-capture", "birdcore-analyze", "birdcore-web")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("restarting services: %w: %s", err, out)
	}
	return nil
}

func verifyWebHealth(settings *conf.Settings) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			"http://localhost"+settings.Web.Listen+"/api/v1/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("web health check: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("web health check returned %d", resp.StatusCode)
		}
		return nil
	}
}

const streamHeartbeatInterval = 30 * time.Second

// streamUpdateState serves a text/event-stream of update state transitions,
// following the same subscribe/heartbeat shape as the web daemon's
// notification stream but sourced from the control kvchannel instead of a
// pub/sub adapter, since status/result here are already kv-backed values
// rather than discrete events.
func streamUpdateState(w http.ResponseWriter, r *http.Request, kv *kvchannel.Channel) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	status, statusVersion, _ := kv.Get(kvchannel.KeyUpdateStatus)
	result, _, _ := kv.Get(kvchannel.KeyUpdateResult)
	if err := writeUpdateStateFrame(w, status, result); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	changed := make(chan struct{}, 1)
	go func() {
		version := statusVersion
		for {
			_, v, err := kv.Wait(ctx, kvchannel.KeyUpdateStatus, version)
			if err != nil {
				return
			}
			version = v
			select {
			case changed <- struct{}{}:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-changed:
			status, _, _ = kv.Get(kvchannel.KeyUpdateStatus)
			result, _, _ = kv.Get(kvchannel.KeyUpdateResult)
			if err := writeUpdateStateFrame(w, status, result); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeUpdateStateFrame(w http.ResponseWriter, status, result any) error {
	payload, err := json.Marshal(map[string]any{"status": status, "result": result})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: update\ndata: %s\n\n", payload)
	return err
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
