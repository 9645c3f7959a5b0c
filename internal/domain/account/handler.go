package account

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/validate"
	"github.com/medlab/lims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Public; the auth skipper lets these through without a token.
	api.POST("/auth/login", h.Login)
	api.POST("/auth/register", h.Register)

	api.GET("/auth/me", h.Me)
	api.POST("/auth/logout", h.Logout)
	api.POST("/auth/password", h.ChangePassword)

	admin := api.Group("/users", auth.RequireRole(auth.RoleAdmin))
	admin.GET("", h.ListUsers)
	admin.GET("/:id", h.GetUser)
	admin.PUT("/:id/role", h.SetRole)
	admin.PUT("/:id/approval", h.SetApproval)
	admin.PUT("/:id/active", h.SetActive)
	admin.POST("/:id/revoke-sessions", h.RevokeSessions)
	admin.POST("/:id/reset-password", h.ResetPassword)
	admin.DELETE("/:id", h.DeleteUser)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	u, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	resp, err := h.svc.Login(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.Me(c.Request().Context())
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) Logout(c echo.Context) error {
	if err := h.svc.Logout(c.Request().Context()); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ChangePassword(c echo.Context) error {
	var req ChangePasswordRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	resp, err := h.svc.ChangePassword(c.Request().Context(), req.OldPassword, req.NewPassword)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListUsers(c echo.Context) error {
	filter := UserFilter{Role: c.QueryParam("role"), Query: c.QueryParam("q")}
	if v := c.QueryParam("approved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.HTTP(apperr.Validation("approved must be true or false"))
		}
		filter.Approved = &b
	}
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.HTTP(apperr.Validation("active must be true or false"))
		}
		filter.Active = &b
	}
	p := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, p.Limit, p.Offset))
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetRole(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SetRoleRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	u, err := h.svc.SetRole(c.Request().Context(), id, req.Role)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetApproval(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SetFlagRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	u, err := h.svc.SetApproval(c.Request().Context(), id, *req.Value)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SetFlagRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	u, err := h.svc.SetActive(c.Request().Context(), id, *req.Value)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) RevokeSessions(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.RevokeSessions(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ResetPassword(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ResetPasswordRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	if err := h.svc.ResetPassword(c.Request().Context(), id, req.Password); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteUser(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteUser(c.Request().Context(), id); err != nil {
		return apperr.HTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
