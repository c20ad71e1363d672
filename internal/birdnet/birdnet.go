// Package birdnet wraps the BirdNET TensorFlow Lite model: loading the
// analysis and meta (range-filter) interpreters, building the two-input
// tensor (audio window + location/week metadata vector), and converting raw
// logits into per-species confidence scores.
package birdnet

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/errors"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/sysinfo"
)

var log = logging.ForService("birdnet")

// Interpreter wraps the two BirdNET TFLite interpreters (species analysis
// and location/week range filtering) plus the label set they were trained
// against. Both interpreters are invoked from a single goroutine at a
// time; Mu serializes access since go-tflite interpreters are not safe
// for concurrent Invoke calls.
type Interpreter struct {
	Analysis *tflite.Interpreter
	Range    *tflite.Interpreter
	Labels   []string
	Settings *conf.Settings

	mu sync.Mutex
}

// New loads both interpreters and the label file described by settings.
func New(settings *conf.Settings) (*Interpreter, error) {
	in := &Interpreter{Settings: settings}

	analysisData, err := os.ReadFile(settings.Model.Model)
	if err != nil {
		return nil, errors.New(err).Component("birdnet").Category(errors.CategoryModel).
			Context("path", settings.Model.Model).Build()
	}
	in.Analysis, err = newInterpreter(analysisData, in.threadCount(), settings.Model.UseXNNPACK)
	if err != nil {
		return nil, fmt.Errorf("initializing analysis interpreter: %w", err)
	}

	if settings.Model.MetadataModel != "" {
		rangeData, err := os.ReadFile(settings.Model.MetadataModel)
		if err != nil {
			return nil, errors.New(err).Component("birdnet").Category(errors.CategoryModel).
				Context("path", settings.Model.MetadataModel).Build()
		}
		// The range filter model is tiny; it never benefits from more than
		// one thread and sharing threads with the analysis model would
		// only add scheduling overhead.
		in.Range, err = newInterpreter(rangeData, 1, false)
		if err != nil {
			return nil, fmt.Errorf("initializing range interpreter: %w", err)
		}
	}

	labels, err := loadLabels(settings.Model.LabelPath)
	if err != nil {
		return nil, fmt.Errorf("loading labels: %w", err)
	}
	in.Labels = labels

	log.Info("birdnet interpreter ready",
		"labels", len(in.Labels), "threads", in.threadCount(), "xnnpack", settings.Model.UseXNNPACK)
	return in, nil
}

func newInterpreter(modelData []byte, threads int, useXNNPACK bool) (*tflite.Interpreter, error) {
	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, fmt.Errorf("cannot parse tflite model")
	}

	options := tflite.NewInterpreterOptions()
	if useXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))})
		if delegate == nil {
			log.Warn("xnnpack delegate unavailable, falling back to plain CPU execution")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) { log.Warn("tflite error reporter", "message", msg) }, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		return nil, fmt.Errorf("cannot create tflite interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		return nil, fmt.Errorf("tensor allocation failed: status %v", status)
	}
	return interpreter, nil
}

func (in *Interpreter) threadCount() int {
	configured := in.Settings.Model.Threads
	available := runtime.NumCPU()
	if configured <= 0 {
		return sysinfo.GetCPUSpec().OptimalThreadCount()
	}
	if configured > available {
		return available
	}
	return configured
}

// Close releases the TensorFlow Lite interpreters.
func (in *Interpreter) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.Analysis != nil {
		in.Analysis.Delete()
		in.Analysis = nil
	}
	if in.Range != nil {
		in.Range.Delete()
		in.Range = nil
	}
}
