package errors

import (
	"sync"

	"github.com/getsentry/sentry-go"
)

var (
	telemetryMu      sync.RWMutex
	telemetryEnabled bool
)

// EnableTelemetry turns on best-effort forwarding of high/critical priority
// errors to Sentry. Call once at startup after sentry.Init.
func EnableTelemetry(enabled bool) {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()
	telemetryEnabled = enabled
}

// Report forwards the error to Sentry if telemetry is enabled and the error
// is high/critical priority. It never blocks the caller and never returns an
// error itself — telemetry failures must not affect the calling code path.
func Report(err *AppError) {
	telemetryMu.RLock()
	enabled := telemetryEnabled
	telemetryMu.RUnlock()

	if !enabled || err == nil {
		return
	}
	if err.Priority() != PriorityHigh && err.Priority() != PriorityCritical {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", err.Component())
		scope.SetTag("category", string(err.Category()))
		for k, v := range err.Context() {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(err)
	})
}
