// Package events provides an in-process, non-blocking publish/subscribe bus
// for detection events, decoupling the analysis pipeline from notification
// and web-layer consumers.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/logging"
)

// DetectionEvent is the payload published for every persisted detection.
type DetectionEvent struct {
	Detection detection.Detection
	IsNewSpecies bool
}

// Consumer receives detection events on its own bounded buffer.
type Consumer struct {
	name string
	ch   chan DetectionEvent

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Name identifies the consumer in logs and stats.
func (c *Consumer) Name() string { return c.name }

// Events returns the channel consumers range over to receive events.
func (c *Consumer) Events() <-chan DetectionEvent { return c.ch }

// Stats returns the consumer's delivered/dropped counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// ConsumerStats holds per-consumer delivery counters.
type ConsumerStats struct {
	Delivered uint64
	Dropped   uint64
}

// Config controls bus sizing.
type Config struct {
	BufferSize int // per-consumer channel depth
	Workers    int // fan-out worker goroutines
}

// DefaultConfig mirrors sane production defaults: enough headroom for a
// burst of simultaneous detections without unbounded memory growth.
func DefaultConfig() Config {
	return Config{BufferSize: 256, Workers: 2}
}

// Bus fans detection events out to registered consumers. Publish never
// blocks the caller: a full consumer buffer drops its oldest pending event
// rather than stalling the analysis pipeline.
type Bus struct {
	cfg Config

	eventChan chan DetectionEvent

	mu        sync.RWMutex
	consumers map[string]*Consumer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	running atomic.Bool

	received atomic.Uint64
	dropped  atomic.Uint64

	log *slog.Logger
}

// New creates a Bus with the given configuration and starts its worker pool.
func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:       cfg,
		eventChan: make(chan DetectionEvent, cfg.BufferSize),
		consumers: make(map[string]*Consumer),
		ctx:       ctx,
		cancel:    cancel,
		log:       logging.ForService("events"),
	}

	b.running.Store(true)
	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	b.log.Info("event bus started", "buffer_size", cfg.BufferSize, "workers", cfg.Workers)
	return b
}

// RegisterConsumer creates and registers a new named consumer with its own
// bounded delivery buffer. Registering the same name twice is an error.
func (b *Bus) RegisterConsumer(name string) (*Consumer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.consumers[name]; exists {
		return nil, fmt.Errorf("consumer %s already registered", name)
	}

	c := &Consumer{name: name, ch: make(chan DetectionEvent, b.cfg.BufferSize)}
	b.consumers[name] = c
	b.log.Info("registered event consumer", "consumer", name)
	return c, nil
}

// UnregisterConsumer removes and closes a consumer's channel.
func (b *Bus) UnregisterConsumer(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, exists := b.consumers[name]; exists {
		close(c.ch)
		delete(b.consumers, name)
	}
}

// TryPublish attempts to enqueue an event without blocking. It returns false
// if the bus itself is saturated (every worker backlogged); per-consumer
// delivery never blocks publish, since overflow there drops the consumer's
// own oldest buffered event instead.
func (b *Bus) TryPublish(event DetectionEvent) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	select {
	case b.eventChan <- event:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Debug("event dropped, bus buffer full", "species", event.Detection.ScientificName)
		return false
	}
}

func (b *Bus) worker(id int) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.eventChan:
			if !ok {
				return
			}
			b.fanOut(event)
		}
	}
}

func (b *Bus) fanOut(event DetectionEvent) {
	b.mu.RLock()
	consumers := make([]*Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		consumers = append(consumers, c)
	}
	b.mu.RUnlock()

	for _, c := range consumers {
		select {
		case c.ch <- event:
			c.delivered.Add(1)
		default:
			// Consumer buffer full: drop its oldest pending event to make
			// room, so a slow consumer never stalls publishers and never
			// gets stuck permanently behind one stale backlog.
			select {
			case <-c.ch:
				c.dropped.Add(1)
			default:
			}
			select {
			case c.ch <- event:
				c.delivered.Add(1)
			default:
				c.dropped.Add(1)
			}
		}
	}
}

// Stats returns bus-level publish counters.
func (b *Bus) Stats() BusStats {
	return BusStats{Received: b.received.Load(), Dropped: b.dropped.Load()}
}

// BusStats holds bus-level publish counters.
type BusStats struct {
	Received uint64
	Dropped  uint64
}

// Shutdown stops accepting new events and waits for workers to drain,
// bounded by timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Info("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("event bus shutdown timeout exceeded")
	}
}
