package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/mverteuil/birdcore/internal/fifo"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// initStreamRoutes registers the live-audio websocket relay, which pumps
// raw PCM frames out of the livestream FIFO to every connected client.
func (c *Controller) initStreamRoutes() {
	c.Group.GET("/stream/live", c.streamLiveAudio)
}

func (c *Controller) streamLiveAudio(ctx echo.Context) error {
	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	reqCtx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	// Writes are serialized by writeMu below; the read goroutine here exists
	// only to notice the client going away (browsers send close frames,
	// never data, on this endpoint).
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// gorilla/websocket permits only one concurrent writer per connection,
	// so the ping ticker and the FIFO pump below share this mutex rather
	// than calling WriteMessage from two unsynchronized goroutines.
	var writeMu sync.Mutex

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-reqCtx.Done():
				return
			case <-ping.C:
				writeMu.Lock()
				conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err = fifo.Pump(reqCtx, c.livestreamFIFO, func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteMessage(websocket.BinaryMessage, frame)
	})
	if err != nil && reqCtx.Err() == nil {
		log.Warn("livestream relay stopped", "error", err)
	}
	return nil
}
