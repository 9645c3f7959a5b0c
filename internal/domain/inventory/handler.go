package inventory

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
	// Stock room staff
	stock := api.Group("", auth.RequireRole(auth.RoleAccountant, auth.RoleLabTechnician))
	stock.GET("/materials", h.ListMaterials)
	stock.GET("/materials/low-stock", h.LowStock)
	stock.GET("/materials/expiring", h.Expiring)
	stock.GET("/materials/:id", h.GetMaterial)
	stock.POST("/materials/:id/adjust", h.AdjustStock)
	stock.GET("/stock-movements", h.ListMovements)

	// Master data
	master := api.Group("", auth.RequireRole(auth.RoleAccountant))
	master.POST("/materials", h.CreateMaterial)
	master.PUT("/materials/:id", h.UpdateMaterial)
	master.DELETE("/materials/:id", h.DeleteMaterial)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

func (h *Handler) CreateMaterial(c echo.Context) error {
	var in MaterialInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	m, err := h.svc.CreateMaterial(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) GetMaterial(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMaterial(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) UpdateMaterial(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in MaterialInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	m, err := h.svc.UpdateMaterial(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) DeleteMaterial(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMaterial(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListMaterials(c echo.Context) error {
	active, err := queryparam.Bool(c, "active")
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := MaterialFilter{Category: c.QueryParam("category"), Active: active, Query: c.QueryParam("q")}
	p := pagination.FromContext(c)
	out, total, err := h.svc.ListMaterials(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AdjustRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	mv, err := h.svc.AdjustStock(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, mv)
}

func (h *Handler) ListMovements(c echo.Context) error {
	materialID, err := queryparam.UUID(c, "material_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	from, to, err := queryparam.Range(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := MovementFilter{MaterialID: materialID, Reason: c.QueryParam("reason"), From: from, To: to}
	p := pagination.FromContext(c)
	out, total, err := h.svc.ListMovements(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) LowStock(c echo.Context) error {
	out, err := h.svc.LowStock(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Expiring(c echo.Context) error {
	days, err := queryparam.Int(c, "days")
	if err != nil {
		return apperr.HTTP(err)
	}
	n := 0
	if days != nil {
		n = *days
	}
	out, err := h.svc.Expiring(c.Request().Context(), n)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}
