package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mverteuil/birdcore/internal/analytics"
)

const defaultAnalyticsWindowDays = 30

// initAnalyticsRoutes registers heatmap, frequency distribution,
// accumulation curve, diversity, taxonomic summary, weather correlation,
// and weekly report endpoints.
func (c *Controller) initAnalyticsRoutes() {
	g := c.Group.Group("/analytics")
	g.GET("/heatmap", c.getHeatmap)
	g.GET("/frequency-distribution", c.getFrequencyDistribution)
	g.GET("/accumulation-curve", c.getAccumulationCurve)
	g.GET("/beta-diversity", c.getBetaDiversity)
	g.GET("/species-summary", c.getSpeciesSummary)
	g.GET("/family-summary", c.getFamilySummary)
	g.GET("/weather-correlation", c.getWeatherCorrelation)
	g.GET("/weekly-report", c.getWeeklyReport)
}

func (c *Controller) getHeatmap(ctx echo.Context) error {
	start, end, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	result, err := c.analytic.Heatmap(ctx.Request().Context(), start, end)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute heatmap"))
	}
	return ctx.JSON(http.StatusOK, result)
}

func (c *Controller) getFrequencyDistribution(ctx echo.Context) error {
	start, end, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	buckets, err := c.analytic.FrequencyDistribution(ctx.Request().Context(), start, end)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute frequency distribution"))
	}
	return ctx.JSON(http.StatusOK, buckets)
}

func (c *Controller) getAccumulationCurve(ctx echo.Context) error {
	start, end, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	method := analytics.AccumulationMethod(ctx.QueryParam("method"))
	if method == "" {
		method = analytics.MethodRarefaction
	}
	points, err := c.analytic.AccumulationCurve(ctx.Request().Context(), start, end, method)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute accumulation curve"))
	}
	return ctx.JSON(http.StatusOK, points)
}

func (c *Controller) getBetaDiversity(ctx echo.Context) error {
	start, end, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	turnover, err := c.analytic.WeeklyBetaDiversity(ctx.Request().Context(), start, end, 7*24*time.Hour)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute beta diversity"))
	}
	return ctx.JSON(http.StatusOK, turnover)
}

func (c *Controller) getSpeciesSummary(ctx echo.Context) error {
	start, _, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := c.analytic.SpeciesSummary(ctx.Request().Context(), start, ctx.QueryParam("family"))
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute species summary"))
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (c *Controller) getFamilySummary(ctx echo.Context) error {
	start, _, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	rows, err := c.analytic.FamilySummary(ctx.Request().Context(), start)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute family summary"))
	}
	return ctx.JSON(http.StatusOK, rows)
}

func (c *Controller) getWeatherCorrelation(ctx echo.Context) error {
	start, end, err := parseDateRange(ctx, c.settings, defaultAnalyticsWindowDays)
	if err != nil {
		return badRequest(ctx, err)
	}
	corr, err := c.analytic.WeatherCorrelationData(ctx.Request().Context(), start, end)
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute weather correlation"))
	}
	return ctx.JSON(http.StatusOK, corr)
}

func (c *Controller) getWeeklyReport(ctx echo.Context) error {
	report, err := c.analytic.WeeklyReport(ctx.Request().Context(), nowInLocation(c.settings))
	if err != nil {
		return ctx.JSON(http.StatusInternalServerError, newErrorResponse(err, "failed to compute weekly report"))
	}
	return ctx.JSON(http.StatusOK, report)
}
