package metrics

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/metrics/quality", h.GetAggregate)
	api.GET("/metrics/quality/trend", h.GetTrend)
	api.POST("/metrics/quality/rollup", h.RunRollup)
}

func (h *Handler) GetAggregate(c echo.Context) error {
	source := c.QueryParam("source")
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}
	day, err := parseDay(c.QueryParam("date"))
	if err != nil {
		return err
	}

	agg, err := h.svc.GetForDate(c.Request().Context(), day, source)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no rollup for period")
	}
	return c.JSON(http.StatusOK, agg)
}

func (h *Handler) GetTrend(c echo.Context) error {
	source := c.QueryParam("source")
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	if v := c.QueryParam("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = parsed
	}
	if v := c.QueryParam("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = parsed
	}

	items, err := h.svc.Trend(c.Request().Context(), source, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RunRollup(c echo.Context) error {
	source := c.QueryParam("source")
	if source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}
	day, err := parseDay(c.QueryParam("date"))
	if err != nil {
		return err
	}

	agg, err := h.svc.Rollup(c.Request().Context(), day, source)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, agg)
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Now().UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return parsed, nil
}
