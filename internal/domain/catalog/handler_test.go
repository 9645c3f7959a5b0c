package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medlab/lims/internal/platform/validate"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(svc), e
}

func TestHandler_CreateTest(t *testing.T) {
	h, e := newTestHandler()
	body := `{"code":"tsh","name":"Thyroid Stimulating Hormone","sample_type":"serum","price":"25.5","turnaround_hours":24}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tests", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateTest(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var lt LabTest
	if err := json.Unmarshal(rec.Body.Bytes(), &lt); err != nil {
		t.Fatal(err)
	}
	if lt.Code != "TSH" || lt.Price.String() != "25.5" {
		t.Errorf("unexpected test: %s", rec.Body.String())
	}
}

func TestHandler_CreateTest_NegativePrice(t *testing.T) {
	h, e := newTestHandler()
	body := `{"code":"X","name":"X","sample_type":"blood","price":"-1"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.CreateTest(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListTests_BadFilter(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?category_id=abc", nil), httptest.NewRecorder())
	err := h.ListTests(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ListCategories_Empty(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := h.ListCategories(c); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %s", rec.Body.String())
	}
}
