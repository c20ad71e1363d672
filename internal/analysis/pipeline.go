// Package analysis runs the framer -> inferencer -> post-filter -> writer
// detection pipeline: raw PCM frames arriving over a FIFO are sliced into
// BirdNET-sized windows, scored by the model, filtered for privacy and
// confidence, and persisted with a published event for every detection
// that survives.
package analysis

import (
	"context"
	"sync"
	"time"

	"github.com/mverteuil/birdcore/internal/analysis/species"
	"github.com/mverteuil/birdcore/internal/birdnet"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/events"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/telemetry"
)

var log = logging.ForService("analysis")

// Store is the subset of internal/datastore.Store the writer stage needs.
type Store interface {
	SaveDetection(ctx context.Context, d detection.Detection) error
	FirstSeen(ctx context.Context, scientificName string) (time.Time, bool, error)
}

// Config bundles the settings the pipeline reads from conf.Settings into
// one plain struct, so the pipeline itself never depends on conf
// directly.
type Config struct {
	SampleRate              int
	Overlap                 float64
	Latitude, Longitude     float64
	BaseConfidenceThreshold float64
	SensitivitySetting      float64
	PrivacyThreshold        float32 // fraction [0,1]; conf stores this as a percentage
	DynamicThreshold        conf.DynamicThresholdSettings
	RegionFilterThreshold   float32 // 0 disables region filtering
	SoundLevelEnabled       bool
	ClipDir                 string // empty disables audio clip export
}

// Pipeline wires the four detection-pipeline stages over bounded
// channels. Framing happens synchronously inside Push, since it is pure
// CPU bookkeeping with no blocking I/O of its own; inference,
// post-filtering, and writing each run as their own goroutine so a slow
// stage backpressures the ones feeding it rather than the FIFO reader.
type Pipeline struct {
	cfg   Config
	interp *birdnet.Interpreter
	store  Store
	bus    *events.Bus
	tel    *telemetry.Registry
	region *species.Cache

	framer     *framer
	thresholds *thresholds

	windows chan window
	results chan inferenceResult
	writes  chan writeJob

	clip *clipWriter

	soundLevelMu sync.Mutex
	soundLevel   SoundLevel

	wg sync.WaitGroup
}

type inferenceResult struct {
	window  window
	results []birdnet.Result
}

// writeJob carries a surviving detection alongside the window it was
// inferred from, so the writer stage can export an audio clip without the
// post-filter stage needing to know anything about clip storage.
type writeJob struct {
	detection detection.Detection
	samples   []float32
}

// NewPipeline builds a Pipeline. region may be nil to disable region
// filtering; tel may be nil (every Registry method is then a no-op).
// clipStore may be nil; clipDir empty disables audio clip export even if
// clipStore is non-nil.
func NewPipeline(cfg Config, interp *birdnet.Interpreter, store Store, bus *events.Bus, tel *telemetry.Registry, region *species.Cache, epoch time.Time, clipStore ClipStore) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		interp:     interp,
		store:      store,
		bus:        bus,
		tel:        tel,
		region:     region,
		framer:     newFramer(cfg.SampleRate, cfg.Overlap, epoch),
		thresholds: newThresholds(cfg.DynamicThreshold),
		windows:    make(chan window, 4),
		results:    make(chan inferenceResult, 4),
		writes:     make(chan writeJob, 16),
	}
	if cfg.ClipDir != "" && clipStore != nil {
		p.clip = newClipWriter(cfg.ClipDir, cfg.SampleRate, clipStore)
	}
	return p
}

// Start launches the inferencer, post-filter, and writer goroutines. It
// returns immediately; callers feed audio via Push and stop the pipeline
// by cancelling ctx.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(3)
	go p.runInferencer(ctx)
	go p.runPostFilter(ctx)
	go p.runWriter(ctx)
}

// Wait blocks until every pipeline goroutine has exited, which happens
// once ctx passed to Start is cancelled and each stage drains.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Push frames pcm (signed 16-bit little-endian mono samples) and enqueues
// any windows that became complete as a result. It blocks if the
// inferencer is falling behind, which is the intended backpressure path
// back through the FIFO reader to the capture daemon.
func (p *Pipeline) Push(ctx context.Context, pcm []byte) {
	for _, w := range p.framer.push(pcm) {
		if p.cfg.SoundLevelEnabled {
			level := measureSoundLevel(w.samples)
			p.soundLevelMu.Lock()
			p.soundLevel = level
			p.soundLevelMu.Unlock()
			p.tel.RecordSoundLevel(level.DBFS)
		}

		select {
		case p.windows <- w:
		case <-ctx.Done():
			return
		}
	}
}

// SoundLevel returns the most recently measured window's RMS/dBFS.
func (p *Pipeline) SoundLevel() SoundLevel {
	p.soundLevelMu.Lock()
	defer p.soundLevelMu.Unlock()
	return p.soundLevel
}

func (p *Pipeline) runInferencer(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.results)

	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-p.windows:
			if !ok {
				return
			}
			start := time.Now()
			week := birdnet.WeekOf(w.start)
			results, err := p.interp.Predict(w.samples, p.cfg.Latitude, p.cfg.Longitude, week)
			p.tel.RecordWindowProcessed(time.Since(start).Seconds())
			if err != nil {
				log.Error("inference failed", "error", err, "window_start", w.start)
				continue
			}
			select {
			case p.results <- inferenceResult{window: w, results: results}:
			case <-ctx.Done():
				return
			}
		}
	}
}
