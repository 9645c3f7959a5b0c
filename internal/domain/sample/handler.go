package sample

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
	// Front desk and lab: ordering and collection
	desk := api.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleDoctor, auth.RoleReceptionist))
	desk.GET("/assignments", h.ListAssignments)
	desk.GET("/assignments/:id", h.GetAssignment)
	desk.POST("/assignments", h.AssignTests)
	desk.POST("/assignments/:id/cancel", h.CancelAssignment)
	desk.POST("/assignments/:id/samples", h.CreateSample)
	desk.GET("/samples", h.ListSamples)
	desk.GET("/samples/:id", h.GetSample)
	desk.GET("/samples/by-code/:code", h.GetSampleByCode)

	// Lab bench: processing and results
	bench := api.Group("", auth.RequireRole(auth.RoleLabTechnician, auth.RoleDoctor))
	bench.POST("/assignments/:id/start", h.StartProcessing)
	bench.POST("/assignments/:id/result", h.RecordResult)
	bench.PUT("/samples/:id/status", h.UpdateSampleStatus)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.HTTP(apperr.Validation("invalid id"))
	}
	return id, nil
}

// -- Assignment Handlers --

func (h *Handler) AssignTests(c echo.Context) error {
	var req AssignRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	out, err := h.svc.AssignTests(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	patientID, err := queryparam.UUID(c, "patient_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	testID, err := queryparam.UUID(c, "test_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	from, to, err := queryparam.Range(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := AssignmentFilter{
		PatientID: patientID,
		TestID:    testID,
		Status:    c.QueryParam("status"),
		Priority:  c.QueryParam("priority"),
		From:      from,
		To:        to,
	}
	p := pagination.FromContext(c)
	out, total, err := h.svc.ListAssignments(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}

func (h *Handler) StartProcessing(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.StartProcessing(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) RecordResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ResultRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	a, err := h.svc.RecordResult(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelAssignment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Sample Handlers --

func (h *Handler) CreateSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CreateSampleRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	smp, err := h.svc.CreateSample(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, smp)
}

func (h *Handler) GetSample(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	smp, err := h.svc.GetSample(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, smp)
}

func (h *Handler) GetSampleByCode(c echo.Context) error {
	smp, err := h.svc.GetSampleByCode(c.Request().Context(), c.Param("code"))
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, smp)
}

func (h *Handler) UpdateSampleStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SampleStatusRequest
	if err := validate.Bind(c, &req); err != nil {
		return apperr.HTTP(err)
	}
	smp, err := h.svc.UpdateSampleStatus(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, smp)
}

func (h *Handler) ListSamples(c echo.Context) error {
	assignmentID, err := queryparam.UUID(c, "assignment_id")
	if err != nil {
		return apperr.HTTP(err)
	}
	from, to, err := queryparam.Range(c)
	if err != nil {
		return apperr.HTTP(err)
	}
	filter := SampleFilter{Status: c.QueryParam("status"), AssignmentID: assignmentID, From: from, To: to}
	p := pagination.FromContext(c)
	out, total, err := h.svc.ListSamples(c.Request().Context(), filter, p.Limit, p.Offset)
	if err != nil {
		return apperr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, p.Limit, p.Offset))
}
