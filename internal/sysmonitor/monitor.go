// Package sysmonitor samples host CPU, memory, and disk utilization on an
// interval and logs/notifies when a resource crosses a configured warning
// or critical threshold.
package sysmonitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/telemetry"
)

var log = logging.ForService("sysmonitor")

const defaultHysteresisPercent = 5.0

// Notifier dispatches a resource alert. The appliance's notification
// adapters satisfy this with target "system"; a nil Notifier means alerts
// are only logged.
type Notifier interface {
	Send(ctx context.Context, target, title, body string) error
}

// Monitor periodically samples host resources and tracks each one's
// warning/critical state so a notification only fires on a state
// transition, not on every sample.
type Monitor struct {
	settings conf.MonitoringSettings
	tel      *telemetry.Registry
	notifier Notifier

	mu     sync.Mutex
	states map[string]*resourceState
}

type resourceState struct {
	inWarning  bool
	inCritical bool
}

// New builds a Monitor. notifier may be nil.
func New(settings conf.MonitoringSettings, tel *telemetry.Registry, notifier Notifier) *Monitor {
	return &Monitor{
		settings: settings,
		tel:      tel,
		notifier: notifier,
		states:   make(map[string]*resourceState),
	}
}

// Run samples resources on the configured interval until ctx is cancelled.
// It is a no-op if monitoring is disabled in settings.
func (m *Monitor) Run(ctx context.Context) {
	if !m.settings.Enabled {
		return
	}
	interval := time.Duration(m.settings.Interval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.sampleAll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleAll(ctx)
		}
	}
}

func (m *Monitor) sampleAll(ctx context.Context) {
	if m.settings.CPU.Enabled {
		if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
			log.Warn("cpu sample failed", "error", err)
		} else if len(percents) > 0 {
			m.tel.RecordHostCPU(percents[0])
			m.checkThreshold(ctx, "cpu", "", percents[0], m.settings.CPU.Warning, m.settings.CPU.Critical)
		}
	}

	if m.settings.Memory.Enabled {
		if info, err := mem.VirtualMemoryWithContext(ctx); err != nil {
			log.Warn("memory sample failed", "error", err)
		} else {
			m.tel.RecordHostMemory(info.UsedPercent)
			m.checkThreshold(ctx, "memory", "", info.UsedPercent, m.settings.Memory.Warning, m.settings.Memory.Critical)
		}
	}

	if m.settings.Disk.Enabled {
		paths := m.settings.Disk.Paths
		if len(paths) == 0 {
			paths = []string{"/"}
		}
		for _, path := range paths {
			usage, err := disk.UsageWithContext(ctx, path)
			if err != nil {
				log.Warn("disk sample failed", "path", path, "error", err)
				continue
			}
			m.tel.RecordHostDisk(path, usage.UsedPercent)
			m.checkThreshold(ctx, "disk", path, usage.UsedPercent, m.settings.Disk.Warning, m.settings.Disk.Critical)
		}
	}
}

func (m *Monitor) checkThreshold(ctx context.Context, resource, path string, current, warning, critical float64) {
	key := resource
	if path != "" {
		key = resource + "|" + path
	}

	m.mu.Lock()
	state, ok := m.states[key]
	if !ok {
		state = &resourceState{}
		m.states[key] = state
	}
	m.mu.Unlock()

	label := resource
	if path != "" {
		label = fmt.Sprintf("%s (%s)", resource, path)
	}

	switch {
	case current >= critical:
		if !state.inCritical {
			state.inCritical = true
			state.inWarning = true
			m.alert(ctx, "critical", label, current, critical)
		}
	case current >= warning:
		if !state.inWarning {
			state.inWarning = true
			m.alert(ctx, "warning", label, current, warning)
		}
		if state.inCritical && current < critical-defaultHysteresisPercent {
			state.inCritical = false
			m.recover(ctx, label, current)
		}
	default:
		if state.inWarning && current < warning-defaultHysteresisPercent {
			state.inWarning = false
			state.inCritical = false
			m.recover(ctx, label, current)
		}
	}
}

func (m *Monitor) alert(ctx context.Context, level, resource string, current, threshold float64) {
	log.Warn("resource threshold exceeded", "resource", resource, "level", level,
		"current", current, "threshold", threshold)
	if m.notifier == nil {
		return
	}
	title := fmt.Sprintf("%s usage %s", resource, level)
	body := fmt.Sprintf("%s is at %.1f%%, threshold %.1f%%", resource, current, threshold)
	if err := m.notifier.Send(ctx, "system", title, body); err != nil {
		log.Debug("resource alert dispatch failed", "error", err)
	}
}

func (m *Monitor) recover(ctx context.Context, resource string, current float64) {
	log.Info("resource usage recovered", "resource", resource, "current", current)
	if m.notifier == nil {
		return
	}
	title := fmt.Sprintf("%s usage recovered", resource)
	body := fmt.Sprintf("%s has returned to %.1f%%", resource, current)
	if err := m.notifier.Send(ctx, "system", title, body); err != nil {
		log.Debug("resource recovery dispatch failed", "error", err)
	}
}
