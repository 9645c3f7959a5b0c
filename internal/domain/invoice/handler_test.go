package invoice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/validate"
)

func newTestServer() (*echo.Echo, *testEnv) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.ErrorHandler
	api := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithUser(c.Request().Context(), uuid.New(), "tester", c.Request().Header.Get("X-Role"))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	})
	NewHandler(env.svc, &Printer{LabName: "Acme Lab", Currency: "USD"}).RegisterRoutes(api)
	return e, env
}

func serve(e *echo.Echo, method, path, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("X-Role", role)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_CreatePayPrint(t *testing.T) {
	e, env := newTestServer()

	body := `{"patient_id":"` + env.patient.ID.String() + `","test_ids":["` + env.cbc.ID.String() + `"],"discount_percent":"5"}`
	rec := serve(e, http.MethodPost, "/api/v1/invoices", auth.RoleReceptionist, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var inv Invoice
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatal(err)
	}
	assertDec(t, "total", inv.Total, "9.50")

	rec = serve(e, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/payments", auth.RoleAccountant, `{"amount":"9.50","method":"cash"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"paid"`) {
		t.Errorf("expected paid invoice: %s", rec.Body.String())
	}

	rec = serve(e, http.MethodGet, "/api/v1/invoices/"+inv.ID.String()+"/print", auth.RoleAccountant, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html, got %s", ct)
	}
}

func TestHandler_Validation(t *testing.T) {
	e, env := newTestServer()
	tests := []string{
		`{"test_ids":["` + env.cbc.ID.String() + `"]}`,
		`{"patient_id":"` + env.patient.ID.String() + `","test_ids":["` + env.cbc.ID.String() + `"],"discount_percent":"120"}`,
		`{"patient_id":"` + env.patient.ID.String() + `","items":[{"description":"x","quantity":-2,"unit_price":"1"}]}`,
	}
	for _, body := range tests {
		rec := serve(e, http.MethodPost, "/api/v1/invoices", auth.RoleReceptionist, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandler_Cancel_RequiresReason(t *testing.T) {
	e, env := newTestServer()
	inv := env.create(t, CreateRequest{TestIDs: []uuid.UUID{env.cbc.ID}})
	rec := serve(e, http.MethodPost, "/api/v1/invoices/"+inv.ID.String()+"/cancel", auth.RoleAccountant, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Roles(t *testing.T) {
	e, _ := newTestServer()
	for _, role := range []string{auth.RoleLabTechnician, auth.RoleDoctor, ""} {
		rec := serve(e, http.MethodGet, "/api/v1/invoices", role, "")
		if rec.Code != http.StatusForbidden {
			t.Errorf("role %q: expected 403, got %d", role, rec.Code)
		}
	}
	rec := serve(e, http.MethodGet, "/api/v1/invoices?status=bogus", auth.RoleAdmin, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
