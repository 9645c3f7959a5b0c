package queryparam

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newContext(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestUUID(t *testing.T) {
	id, err := UUID(newContext(""), "patient_id")
	if err != nil || id != nil {
		t.Errorf("missing param: got %v, %v", id, err)
	}
	id, err = UUID(newContext("patient_id=6f1c2a56-8a3e-4a8b-9b64-3f3e2b8d5c11"), "patient_id")
	if err != nil || id == nil || id.String() != "6f1c2a56-8a3e-4a8b-9b64-3f3e2b8d5c11" {
		t.Errorf("valid param: got %v, %v", id, err)
	}
	if _, err := UUID(newContext("patient_id=nope"), "patient_id"); err == nil {
		t.Error("expected error for malformed uuid")
	}
}

func TestBoolAndInt(t *testing.T) {
	b, err := Bool(newContext("active=false"), "active")
	if err != nil || b == nil || *b {
		t.Errorf("got %v, %v", b, err)
	}
	if _, err := Bool(newContext("active=maybe"), "active"); err == nil {
		t.Error("expected error for malformed bool")
	}
	n, err := Int(newContext("days=30"), "days")
	if err != nil || n == nil || *n != 30 {
		t.Errorf("got %v, %v", n, err)
	}
	if _, err := Int(newContext("days=x"), "days"); err == nil {
		t.Error("expected error for malformed int")
	}
}

func TestRange(t *testing.T) {
	from, to, err := Range(newContext("from=2024-03-01&to=2024-03-31"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !from.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected from: %v", from)
	}
	if !to.Equal(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to should be exclusive next day, got %v", to)
	}

	if _, _, err := Range(newContext("from=2024-03-10&to=2024-03-01")); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, _, err := Range(newContext("from=03/01/2024")); err == nil {
		t.Error("expected error for malformed date")
	}
	from, to, err = Range(newContext(""))
	if err != nil || from != nil || to != nil {
		t.Errorf("empty range: %v %v %v", from, to, err)
	}
}
