package queue

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/validate"
	"github.com/medlab/lims/pkg/caldate"
	"github.com/medlab/lims/pkg/queryparam"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/queue", auth.RequireRole(auth.RoleReceptionist, auth.RoleLabTechnician, auth.RoleDoctor))
	g.POST("", h.Enqueue)
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.POST("/stations/:station/next", h.CallNext)
	g.PUT("/:id/status", h.UpdateStatus)
}

func queryDate(c echo.Context) (caldate.Date, error) {
	d, err := queryparam.Date(c, "date")
	if err != nil || d == nil {
		return caldate.Date{}, err
	}
	return caldate.Of(*d), nil
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req EnqueueRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	e, err := h.svc.Enqueue(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) List(c echo.Context) error {
	day, err := queryDate(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := Filter{Station: c.QueryParam("station"), Status: c.QueryParam("status"), Date: day}
	out, err := h.svc.List(c.Request().Context(), filter)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) CallNext(c echo.Context) error {
	e, err := h.svc.CallNext(c.Request().Context(), c.Param("station"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.HTTP(apperr.Validation("invalid id"))
	}
	var req StatusRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	e, err := h.svc.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Stats(c echo.Context) error {
	day, err := queryDate(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	out, err := h.svc.Stats(c.Request().Context(), day)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}
