// Command capture owns the microphone and fans raw PCM out to the
// analysis and livestream FIFOs. It never touches the model or the
// datastore: its only job is INIT -> FIFOS_READY -> CAPTURING ->
// DRAINING -> EXITED.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"

	"github.com/mverteuil/birdcore/internal/analysis/filter"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/fifo"
	"github.com/mverteuil/birdcore/internal/logging"
)

// state is the capture daemon's lifecycle, logged on every transition.
type state string

const (
	stateInit       state = "INIT"
	stateFifosReady state = "FIFOS_READY"
	stateCapturing  state = "CAPTURING"
	stateDraining   state = "DRAINING"
	stateExited     state = "EXITED"
)

var log = logging.ForService("capture")

func main() {
	var configDir string

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Owns the audio device and fans PCM out to the detection FIFOs",
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
	st := stateInit

	settings, err := conf.Load(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logging.Init(logging.Config{Dir: filepath.Join(settings.DataDir, "logs")})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fifoDir := filepath.Join(settings.DataDir, "fifos")
	if err := os.MkdirAll(fifoDir, 0o755); err != nil {
		return fmt.Errorf("creating fifo directory: %w", err)
	}
	analysisPath := filepath.Join(fifoDir, "analysis")
	livestreamPath := filepath.Join(fifoDir, "livestream")
	for _, p := range []string{analysisPath, livestreamPath} {
		if err := fifo.Create(p); err != nil {
			return fmt.Errorf("creating fifo %s: %w", p, err)
		}
	}
	st = stateFifosReady
	log.Info("capture daemon state change", "state", st)

	analysisWriter, err := fifo.OpenWriter(ctx, analysisPath)
	if err != nil {
		return fmt.Errorf("opening analysis fifo: %w", err)
	}
	defer analysisWriter.Close()

	livestreamWriter, err := fifo.OpenWriter(ctx, livestreamPath)
	if err != nil {
		return fmt.Errorf("opening livestream fifo: %w", err)
	}
	defer livestreamWriter.Close()

	chain := buildFilterChain(settings)

	device, malgoCtx, err := startCaptureDevice(settings, func(pcm []byte) {
		filtered := applyChain(chain, pcm)
		if err := analysisWriter.WriteFrame(filtered); err != nil {
			log.Warn("analysis fifo write failed", "error", err)
			return
		}
		if err := livestreamWriter.WriteFrame(filtered); err != nil {
			log.Warn("livestream fifo write failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("starting capture device: %w", err)
	}

	st = stateCapturing
	log.Info("capture daemon state change", "state", st)

	<-ctx.Done()

	st = stateDraining
	log.Info("capture daemon state change", "state", st)

	if err := device.Stop(); err != nil {
		log.Warn("stopping capture device", "error", err)
	}
	device.Uninit()
	_ = malgoCtx.Uninit()

	st = stateExited
	log.Info("capture daemon state change", "state", st)
	return nil
}

// buildFilterChain assembles the pre-processing chain applied to every
// frame before it reaches either FIFO: a high-pass filter removes
// sub-audible rumble, a low-pass filter rejects anything above the
// model's useful band.
func buildFilterChain(settings *conf.Settings) *filter.FilterChain {
	chain := filter.NewFilterChain()
	rate := float64(settings.Audio.SampleRate)
	if rate == 0 {
		rate = 48000
	}

	highPass, err := filter.NewHighPass(rate, 50, 0.707, 1)
	if err != nil {
		log.Warn("building high-pass filter", "error", err)
	} else if err := chain.AddFilter(highPass); err != nil {
		log.Warn("adding high-pass filter", "error", err)
	}

	lowPass, err := filter.NewLowPass(rate, rate/2*0.9, 0.707, 1)
	if err != nil {
		log.Warn("building low-pass filter", "error", err)
	} else if err := chain.AddFilter(lowPass); err != nil {
		log.Warn("adding low-pass filter", "error", err)
	}

	return chain
}

func applyChain(chain *filter.FilterChain, pcm []byte) []byte {
	if chain.Length() == 0 {
		return pcm
	}
	samples := int16PCMToFloat64(pcm)
	chain.ApplyBatch(samples)
	return float64ToInt16PCM(samples)
}

// startCaptureDevice opens the configured input device and streams
// S16LE frames to onFrame as they arrive.
func startCaptureDevice(settings *conf.Settings, onFrame func([]byte)) (*malgo.Device, *malgo.AllocatedContext, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(settings.Audio.Channels)
	if deviceConfig.Capture.Channels == 0 {
		deviceConfig.Capture.Channels = 1
	}
	deviceConfig.SampleRate = uint32(settings.Audio.SampleRate)
	if deviceConfig.SampleRate == 0 {
		deviceConfig.SampleRate = 48000
	}
	deviceConfig.Alsa.NoMMap = 1

	devices, err := malgoCtx.Devices(malgo.Capture)
	if err == nil && settings.Audio.DeviceIndex >= 0 && settings.Audio.DeviceIndex < len(devices) {
		deviceConfig.Capture.DeviceID = devices[settings.Audio.DeviceIndex].ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSamples []byte, framecount uint32) {
			frame := make([]byte, len(pSamples))
			copy(frame, pSamples)
			onFrame(frame)
		},
		Stop: func() {
			log.Info("capture device stopped")
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		return nil, nil, fmt.Errorf("initializing device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		return nil, nil, fmt.Errorf("starting device: %w", err)
	}

	return device, malgoCtx, nil
}

func int16PCMToFloat64(pcm []byte) []float64 {
	samples := make([]float64, len(pcm)/2)
	for i := range samples {
		v := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		samples[i] = float64(v) / 32768.0
	}
	return samples
}

func float64ToInt16PCM(samples []float64) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(v >> 8)
	}
	return pcm
}
