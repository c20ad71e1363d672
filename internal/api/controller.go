// Package api exposes the appliance's detections, analytics, and live
// event/audio streams over HTTP through an echo-based controller.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mverteuil/birdcore/internal/analytics"
	"github.com/mverteuil/birdcore/internal/conf"
	"github.com/mverteuil/birdcore/internal/detection"
	"github.com/mverteuil/birdcore/internal/logging"
	"github.com/mverteuil/birdcore/internal/notification"
)

var log = logging.ForService("api")

// DetectionStore narrows internal/datastore.Store to what handlers need,
// so tests can supply an in-memory fake.
type DetectionStore interface {
	GetDetection(ctx context.Context, id uuid.UUID) (detection.Detection, error)
	DeleteDetection(ctx context.Context, id uuid.UUID) error
	ListDetectionsPage(ctx context.Context, start, end time.Time, offset, limit int) ([]detection.Detection, int64, error)
	CountDetectionsBetween(ctx context.Context, start, end time.Time) (int64, error)
}

// Controller owns the echo instance, the /api/v1 route group, and every
// dependency its handlers call into.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	settings *conf.Settings
	store    DetectionStore
	analytic *analytics.Service
	sse      *notification.SSEAdapter
	sessions sessions.Store

	livestreamFIFO string
}

// New builds a Controller and registers every route group. sse may be nil
// (no live SSE endpoint registered); livestreamFIFOPath may be empty (no
// websocket audio relay registered).
func New(
	settings *conf.Settings,
	store DetectionStore,
	analyticService *analytics.Service,
	sse *notification.SSEAdapter,
	livestreamFIFOPath string,
) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	c := &Controller{
		Echo:           e,
		settings:       settings,
		store:          store,
		analytic:       analyticService,
		sse:            sse,
		livestreamFIFO: livestreamFIFOPath,
	}

	secret := []byte(settings.Web.SessionSecret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
	}
	c.sessions = sessions.NewCookieStore(secret)

	c.Group = e.Group("/api/v1")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(middleware.BodyLimit("1M"))
	c.Group.Use(c.loggingMiddleware())

	c.Group.GET("/health", c.health)

	c.initDetectionRoutes()
	c.initAnalyticsRoutes()
	if c.sse != nil {
		c.initSSERoutes()
	}
	if c.livestreamFIFO != "" {
		c.initStreamRoutes()
	}

	return c
}

// loggingMiddleware emits one structured log line per request, scoped
// down to the fields this appliance's logs actually use.
func (c *Controller) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()
			log.LogAttrs(req.Context(), slog.LevelInfo, "request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("status", res.Status),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			)
			return err
		}
	}
}

func (c *Controller) health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse is the JSON body returned for every 4xx/5xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func newErrorResponse(err error, message string) *ErrorResponse {
	r := &ErrorResponse{Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
