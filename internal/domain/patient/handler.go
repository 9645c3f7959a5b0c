package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/validate"
	"github.com/medlab/lims/pkg/pagination"
	"github.com/medlab/lims/pkg/queryparam"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints
	read := api.Group("/patients", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor, auth.RoleLabTechnician, auth.RoleAccountant))
	read.GET("", h.Search)
	read.GET("/by-code/:code", h.GetByCode)
	read.GET("/:id", h.Get)
	read.GET("/:id/history", h.History)

	// Write endpoints
	write := api.Group("/patients", auth.RequireRole(auth.RoleReceptionist, auth.RoleDoctor))
	write.POST("", h.Create)
	write.PUT("/:id", h.Update)
	write.DELETE("/:id", h.Delete, auth.RequireRole(auth.RoleReceptionist))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in PatientInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	p, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetByCode(c echo.Context) error {
	p, err := h.svc.GetByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PatientInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	p, err := h.svc.Update(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Search(c echo.Context) error {
	from, to, err := queryparam.Range(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := SearchFilter{
		Query:  c.QueryParam("q"),
		Gender: c.QueryParam("gender"),
		From:   from,
		To:     to,
	}
	p := pagination.FromContext(c)
	patients, total, err := h.svc.Search(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, p.Limit, p.Offset))
}

func (h *Handler) History(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	hist, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, hist)
}
