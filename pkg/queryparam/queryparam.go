// Package queryparam parses optional typed query-string filters. Missing
// parameters yield nil; malformed ones yield a validation error naming the
// parameter.
package queryparam

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
)

// DateLayout is the calendar-date format accepted in query strings.
const DateLayout = "2006-01-02"

func UUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a valid UUID", name)
	}
	return &id, nil
}

func Bool(c echo.Context, name string) (*bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be true or false", name)
	}
	return &b, nil
}

func Int(c echo.Context, name string) (*int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation("%s must be an integer", name)
	}
	return &n, nil
}

// Date parses a YYYY-MM-DD parameter as midnight UTC.
func Date(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return nil, apperr.Validation("%s must be a date in YYYY-MM-DD format", name)
	}
	return &d, nil
}

// Range reads ?from= and ?to= as an inclusive date range and returns it as
// the half-open interval [from, to+1day).
func Range(c echo.Context) (from, to *time.Time, err error) {
	if from, err = Date(c, "from"); err != nil {
		return nil, nil, err
	}
	if to, err = Date(c, "to"); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, apperr.Validation("to must not be before from")
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	return from, to, nil
}
