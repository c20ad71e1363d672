package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mverteuil/birdcore/internal/notification"
)

const sseHeartbeatInterval = 30 * time.Second

// initSSERoutes registers the live-detection event stream consumed by the
// web UI, backed by notification.SSEAdapter.
func (c *Controller) initSSERoutes() {
	c.Group.GET("/events/stream", c.streamEvents)
}

func (c *Controller) streamEvents(ctx echo.Context) error {
	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ch := c.sse.Subscribe()
	defer c.sse.Unsubscribe(ch)

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	req := ctx.Request()
	for {
		select {
		case <-req.Context().Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": heartbeat\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case frame, ok := <-ch:
			if !ok {
				return nil
			}
			if err := writeSSEFrame(res, frame); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeSSEFrame(w http.ResponseWriter, frame notification.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
	return err
}
