package catalog

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
	// Read endpoints: every authenticated role
	api.GET("/test-categories", h.ListCategories)
	api.GET("/test-categories/:id", h.GetCategory)
	api.GET("/tests", h.ListTests)
	api.GET("/tests/:id", h.GetTest)

	// Write endpoints: admin only
	write := api.Group("", auth.RequireRole(auth.RoleAdmin))
	write.POST("/test-categories", h.CreateCategory)
	write.PUT("/test-categories/:id", h.UpdateCategory)
	write.DELETE("/test-categories/:id", h.DeleteCategory)
	write.POST("/tests", h.CreateTest)
	write.PUT("/tests/:id", h.UpdateTest)
	write.DELETE("/tests/:id", h.DeleteTest)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

// -- Category Handlers --

func (h *Handler) CreateCategory(c echo.Context) error {
	var in CategoryInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	cat, err := h.svc.CreateCategory(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, cat)
}

func (h *Handler) GetCategory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	cat, err := h.svc.GetCategory(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cat)
}

func (h *Handler) UpdateCategory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in CategoryInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	cat, err := h.svc.UpdateCategory(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, cat)
}

func (h *Handler) DeleteCategory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCategory(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListCategories(c echo.Context) error {
	cats, err := h.svc.ListCategories(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	if cats == nil {
		cats = []*Category{}
	}
	return c.JSON(http.StatusOK, cats)
}

// -- Test Handlers --

func (h *Handler) CreateTest(c echo.Context) error {
	var in TestInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	t, err := h.svc.CreateTest(c.Request().Context(), in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) GetTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetTest(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in TestInput
	if err := validate.Bind(c, &in); err != nil {
		return apperr.HTTP(err)
	}
	t, err := h.svc.UpdateTest(c.Request().Context(), id, in)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) DeleteTest(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteTest(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListTests(c echo.Context) error {
	categoryID, err := queryparam.UUID(c, "category_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	active, err := queryparam.Bool(c, "active")
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := TestFilter{CategoryID: categoryID, Active: active, Query: c.QueryParam("q")}
	p := pagination.FromContext(c)
	tests, total, err := h.svc.ListTests(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(tests, total, p.Limit, p.Offset))
}
