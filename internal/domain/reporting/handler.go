package reporting

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
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
	api.GET("/dashboard", h.Dashboard, auth.RequireRole(auth.RoleAccountant, auth.RoleDoctor))

	g := api.Group("/reports", auth.RequireRole(auth.RoleAccountant))
	g.GET("", h.ListKinds)
	g.GET("/export", h.Export)
	g.GET("/:kind", h.Report)
}

func (h *Handler) rangeParams(c echo.Context) (Range, error) {
	var bounds [2]*caldate.Date
	for i, name := range []string{"from", "to"} {
		t, err := queryparam.Date(c, name)
		if err != nil {
			return Range{}, err
		}
		if t != nil {
			d := caldate.Of(*t)
			bounds[i] = &d
		}
	}
	return h.svc.ResolveRange(bounds[0], bounds[1])
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListKinds(c echo.Context) error {
	return c.JSON(http.StatusOK, Kinds)
}

func (h *Handler) Report(c echo.Context) error {
	kind := c.Param("kind")
	if findKind(kind) == nil {
		return apperr.HTTP(apperr.NotFound("report " + kind))
	}
	r, err := h.rangeParams(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	out, err := h.svc.Report(c.Request().Context(), kind, r)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Export(c echo.Context) error {
	r, err := h.rangeParams(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	var kinds []string
	for _, k := range strings.Split(c.QueryParam("kinds"), ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	data, err := h.svc.Export(c.Request().Context(), kinds, r)
	if err != nil {
		return apperr.HTTP(err)
	}
	name := fmt.Sprintf("lab-report-%s-%s.xlsx", r.From, r.To)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, XLSXContentType, data)
}
