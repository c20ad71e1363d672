package sysmonitor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/conf"
)

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(_ context.Context, _, title, _ string) error {
	f.sent = append(f.sent, title)
	return nil
}

func TestCheckThresholdFiresOnceThenSuppressesWhileCritical(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	m := New(conf.MonitoringSettings{}, nil, notifier)

	m.checkThreshold(context.Background(), "cpu", "", 96, 80, 95)
	m.checkThreshold(context.Background(), "cpu", "", 97, 80, 95)

	require.Len(t, notifier.sent, 1)
	assert.Contains(t, notifier.sent[0], "critical")
}

func TestCheckThresholdRecoversBelowHysteresisBand(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	m := New(conf.MonitoringSettings{}, nil, notifier)

	m.checkThreshold(context.Background(), "memory", "", 96, 80, 95) // critical
	m.checkThreshold(context.Background(), "memory", "", 70, 80, 95) // well clear of warning

	require.Len(t, notifier.sent, 2)
	assert.Contains(t, notifier.sent[1], "recovered")
}

func TestCheckThresholdTracksDiskPathsIndependently(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	m := New(conf.MonitoringSettings{}, nil, notifier)

	m.checkThreshold(context.Background(), "disk", "/", 96, 80, 95)
	m.checkThreshold(context.Background(), "disk", "/data", 10, 80, 95)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.True(t, m.states["disk|/"].inCritical)
	_, tracked := m.states["disk|/data"]
	assert.True(t, tracked)
	assert.False(t, m.states["disk|/data"].inCritical)
}

func TestRunIsNoopWhenDisabled(t *testing.T) {
	t.Parallel()

	m := New(conf.MonitoringSettings{Enabled: false}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx) // must return immediately rather than block on a disabled ticker
}
