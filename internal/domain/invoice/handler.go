package invoice

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
	svc     *Service
	printer *Printer
}

func NewHandler(svc *Service, printer *Printer) *Handler {
	return &Handler{svc: svc, printer: printer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/invoices", auth.RequireRole(auth.RoleReceptionist, auth.RoleAccountant))
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("/:id/print", h.Print)
	g.POST("/:id/payments", h.RecordPayment)
	g.POST("/:id/cancel", h.Cancel)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	inv, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) List(c echo.Context) error {
	patientID, err := queryparam.UUID(c, "patient_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	from, to, err := queryparam.Range(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := Filter{PatientID: patientID, Status: c.QueryParam("status"), From: from, To: to}
	p := pagination.FromContext(c)
	out, total, err := h.svc.List(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	inv, err := h.svc.RecordPayment(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	inv, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Print(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	page, err := h.svc.Print(c.Request().Context(), h.printer, id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.HTMLBlob(http.StatusOK, page)
}
