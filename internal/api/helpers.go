package api

import (
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mverteuil/birdcore/internal/conf"
)

// dateRegex guards query-string date parameters, enforcing YYYY-MM-DD at
// the API boundary.
var dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var (
	errInvalidStartDate = errors.New("invalid start_date format, expected YYYY-MM-DD")
	errInvalidEndDate   = errors.New("invalid end_date format, expected YYYY-MM-DD")
	errDateOrder        = errors.New("start_date cannot be after end_date")
)

func nowInLocation(settings *conf.Settings) time.Time {
	loc := locationOf(settings)
	return time.Now().In(loc)
}

func locationOf(settings *conf.Settings) *time.Location {
	if settings.Location.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(settings.Location.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDateRange reads start_date/end_date query parameters (YYYY-MM-DD,
// interpreted in the configured timezone), defaulting to the last `days`
// days ending now when absent.
func parseDateRange(ctx echo.Context, settings *conf.Settings, days int) (start, end time.Time, err error) {
	loc := locationOf(settings)
	now := time.Now().In(loc)

	startRaw := ctx.QueryParam("start_date")
	endRaw := ctx.QueryParam("end_date")

	if startRaw == "" && endRaw == "" {
		end = now
		start = now.AddDate(0, 0, -days)
		return start, end, nil
	}

	if startRaw != "" {
		if !dateRegex.MatchString(startRaw) {
			return time.Time{}, time.Time{}, errInvalidStartDate
		}
		start, err = time.ParseInLocation("2006-01-02", startRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidStartDate
		}
	} else {
		start = now.AddDate(0, 0, -days)
	}

	if endRaw != "" {
		if !dateRegex.MatchString(endRaw) {
			return time.Time{}, time.Time{}, errInvalidEndDate
		}
		end, err = time.ParseInLocation("2006-01-02", endRaw, loc)
		if err != nil {
			return time.Time{}, time.Time{}, errInvalidEndDate
		}
		end = end.AddDate(0, 0, 1) // end_date is inclusive of that whole day
	} else {
		end = now
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, errDateOrder
	}
	return start, end, nil
}

func badRequest(ctx echo.Context, err error) error {
	return ctx.JSON(http.StatusBadRequest, newErrorResponse(err, err.Error()))
}
