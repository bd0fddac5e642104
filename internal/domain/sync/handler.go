package sync

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinsync/clinsync/pkg/pagination"
)

type Handler struct {
	svc *Orchestrator
}

func NewHandler(svc *Orchestrator) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/sync/batches", h.StartBatch)
	api.GET("/sync/batches", h.ListBatches)
	api.GET("/sync/batches/:id", h.GetBatch)
	api.POST("/sync/batches/:id/cancel", h.CancelBatch)
	api.POST("/sync/batches/:id/resume", h.ResumeBatch)
}

func (h *Handler) StartBatch(c echo.Context) error {
	var cfg SourceConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	b, err := h.svc.StartBatch(c.Request().Context(), cfg)
	if err != nil {
		if errors.Is(err, ErrSourceBusy) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	// The run outlives the HTTP request; progress is visible on the batch row.
	go h.runDetached(b.ID)

	return c.JSON(http.StatusAccepted, b)
}

func (h *Handler) GetBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	b, err := h.svc.GetBatch(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "batch not found")
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBatches(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListBatches(c.Request().Context(), c.QueryParam("status"), c.QueryParam("source"), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CancelBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.RequestCancel(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) ResumeBatch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	b, err := h.svc.Resume(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotResumable):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrSourceBusy):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	go h.runDetached(b.ID)

	return c.JSON(http.StatusAccepted, b)
}

func (h *Handler) runDetached(batchID uuid.UUID) {
	if err := h.svc.RunToCompletion(context.Background(), batchID); err != nil {
		h.svc.log.Error().Err(err).
			Str("batch_id", batchID.String()).
			Msg("batch run ended with error")
	}
}
