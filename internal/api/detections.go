package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mverteuil/birdcore/internal/detection"
)

const defaultRecentLimit = 25

// DetectionView is the JSON-facing projection of detection.Detection,
// keeping the wire shape stable independent of the domain struct's field
// names and pointer-typed optional fields.
type DetectionView struct {
	ID             string   `json:"id"`
	Timestamp      string   `json:"timestamp"`
	ScientificName string   `json:"scientific_name"`
	CommonName     string   `json:"common_name"`
	Confidence     float64  `json:"confidence"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Week           int      `json:"week"`
}

func newDetectionView(d detection.Detection) DetectionView {
	return DetectionView{
		ID:             d.ID.String(),
		Timestamp:      d.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		ScientificName: d.ScientificName,
		CommonName:     d.CommonName,
		Confidence:     d.Confidence,
		Latitude:       d.Latitude,
		Longitude:      d.Longitude,
		Week:           d.Week,
	}
}

func newDetectionViews(dets []detection.Detection) []DetectionView {
	views := make([]DetectionView, len(dets))
	for i, d := range dets {
		views[i] = newDetectionView(d)
	}
	return views
}

const (
	defaultPage    = 1
	defaultPerPage = 25
	maxPerPage     = 200
)

// PaginationView describes a page's position within the full result set.
type PaginationView struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// PagedDetectionsView is the wire shape for GET /detections/.
type PagedDetectionsView struct {
	Detections []DetectionView `json:"detections"`
	Pagination PaginationView  `json:"pagination"`
}

// initDetectionRoutes registers single-detection and recent/today/best
// listing endpoints.
func (c *Controller) initDetectionRoutes() {
	g := c.Group.Group("/detections")
	g.GET("", c.getDetectionsPage)
	g.GET("/", c.getDetectionsPage)
	g.GET("/recent", c.getRecentDetections)
	g.GET("/today", c.getTodaysDetections)
	g.GET("/best", c.getBestDetections)
	g.GET("/count", c.getDetectionsCount)
	g.GET("/taxonomy/families", c.getTaxonomyFamilies)
	g.GET("/:id", c.getDetection)
	g.DELETE("/:id", c.deleteDetection)
}

// getDetectionsPage serves a paginated, date-range-filtered listing of
// detections, newest first.
func (c *Controller) getDetectionsPage(ctx echo.Context) error {
	page := defaultPage
	if raw := ctx.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(ctx, fmt.Errorf("page must be a positive integer"))
		}
		page = n
	}

	perPage := defaultPerPage
	if raw := ctx.QueryParam("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(ctx, fmt.Errorf("per_page must be a positive integer"))
		}
		if n > maxPerPage {
			n = maxPerPage
		}
		perPage = n
	}

	// parseDateRange fills an absent start_date from the day window and an
	// absent end_date with now; a caller wanting "all time" passes no date params and instead
	// relies on a wide enough default window, matching this endpoint's own
	// use in practice (the UI always passes an explicit range).
	start, end, err := parseDateRange(ctx, c.settings, 36500)
	if err != nil {
		return badRequest(ctx, err)
	}

	dets, total, err := c.store.ListDetectionsPage(ctx.Request().Context(), start, end, (page-1)*perPage, perPage)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to list detections"))
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	if totalPages == 0 {
		totalPages = 1
	}

	return ctx.JSON(http.StatusOK, PagedDetectionsView{
		Detections: newDetectionViews(dets),
		Pagination: PaginationView{
			Page:       page,
			PerPage:    perPage,
			Total:      int(total),
			TotalPages: totalPages,
			HasNext:    page < totalPages,
			HasPrev:    page > 1,
		},
	})
}

// getDetectionsCount serves the number of detections recorded on a single
// calendar day.
func (c *Controller) getDetectionsCount(ctx echo.Context) error {
	raw := ctx.QueryParam("target_date")
	if raw == "" {
		return badRequest(ctx, fmt.Errorf("target_date is required, expected YYYY-MM-DD"))
	}
	if !dateRegex.MatchString(raw) {
		return badRequest(ctx, fmt.Errorf("invalid target_date format, expected YYYY-MM-DD"))
	}

	loc := locationOf(c.settings)
	start, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return badRequest(ctx, fmt.Errorf("invalid target_date format, expected YYYY-MM-DD"))
	}
	end := start.AddDate(0, 0, 1)

	count, err := c.store.CountDetectionsBetween(ctx.Request().Context(), start, end)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to count detections"))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"count": count, "date": raw})
}

// getTaxonomyFamilies serves the distinct taxonomic families present across
// every stored detection, via the same reference-database join FamilySummary
// uses for its per-family counts.
func (c *Controller) getTaxonomyFamilies(ctx echo.Context) error {
	rows, err := c.analytic.FamilySummary(ctx.Request().Context(), time.Time{})
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to list taxonomy families"))
	}

	families := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.Family != "" {
			families = append(families, r.Family)
		}
	}
	return ctx.JSON(http.StatusOK, map[string]any{"families": families})
}

func (c *Controller) getRecentDetections(ctx echo.Context) error {
	limit := defaultRecentLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ctx.JSON(http.StatusBadRequest, newErrorResponse(err, "limit must be a positive integer"))
		}
		limit = n
	}

	dets, err := c.analytic.RecentDetections(ctx.Request().Context(), limit)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to list recent detections"))
	}
	return ctx.JSON(http.StatusOK, newDetectionViews(dets))
}

func (c *Controller) getTodaysDetections(ctx echo.Context) error {
	dets, err := c.analytic.TodaysDetections(ctx.Request().Context(), nowInLocation(c.settings))
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to list today's detections"))
	}
	return ctx.JSON(http.StatusOK, newDetectionViews(dets))
}

func (c *Controller) getBestDetections(ctx echo.Context) error {
	limit := defaultRecentLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return ctx.JSON(http.StatusBadRequest, newErrorResponse(err, "limit must be a positive integer"))
		}
		limit = n
	}

	dets, err := c.analytic.BestDetections(ctx.Request().Context(), limit)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to list best detections"))
	}
	return ctx.JSON(http.StatusOK, newDetectionViews(dets))
}

func (c *Controller) getDetection(ctx echo.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, newErrorResponse(err, "invalid detection id"))
	}

	d, err := c.store.GetDetection(ctx.Request().Context(), id)
	if err != nil {
		return ctx.JSON(http.StatusNotFound, newErrorResponse(err, "detection not found"))
	}
	return ctx.JSON(http.StatusOK, newDetectionView(d))
}

func (c *Controller) deleteDetection(ctx echo.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, newErrorResponse(err, "invalid detection id"))
	}

	if err := c.store.DeleteDetection(ctx.Request().Context(), id); err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to delete detection"))
	}
	c.analytic.InvalidateOnEditOrDelete()
	return ctx.NoContent(http.StatusNoContent)
}
