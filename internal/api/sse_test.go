package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/birdcore/internal/notification"
)

func TestStreamEventsForwardsPublishedFrame(t *testing.T) {
	adapter := notification.NewSSEAdapter()
	settingsCtrl := newTestController(t, &mockDetectionStore{}, nil)
	settingsCtrl.sse = adapter
	settingsCtrl.initSSERoutes()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		settingsCtrl.Echo.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, adapter.Send(context.Background(), "", "New detection", "Robin"))
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler did not exit after context cancellation")
	}

	body := bufio.NewScanner(rec.Body)
	var sawEvent bool
	for body.Scan() {
		if body.Text() == "event: notification" {
			sawEvent = true
		}
	}
	assert.True(t, sawEvent, "expected an SSE notification event in the stream body")
}
