package account

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/platform/apperr"
	"github.com/medlab/lims/internal/platform/auth"
	"github.com/medlab/lims/internal/platform/session"
	"github.com/medlab/lims/internal/platform/validate"
)

func newTestHandler() (*Handler, *testEnv, *echo.Echo) {
	env := newTestEnv()
	e := echo.New()
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.ErrorHandler
	return NewHandler(env.svc), env, e
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_Register(t *testing.T) {
	h, _, e := newTestHandler()
	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/api/v1/auth/register",
		`{"username":"nina","password":"password123","full_name":"Nina","role":"doctor"}`), rec)

	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Error("response must not expose the password hash")
	}
}

func TestHandler_Register_BadUsername(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"username":"a b","password":"password123","full_name":"X"}`), httptest.NewRecorder())
	if code := statusOf(t, h.Register(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_Login(t *testing.T) {
	h, env, e := newTestHandler()
	env.approvedUser(t, "oscar", auth.RoleReceptionist)

	rec := httptest.NewRecorder()
	c := e.NewContext(jsonRequest(http.MethodPost, "/", `{"username":"oscar","password":"password123"}`), rec)
	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" || resp.User == nil || resp.User.Username != "oscar" {
		t.Errorf("unexpected response: %s", rec.Body.String())
	}

	c = e.NewContext(jsonRequest(http.MethodPost, "/", `{"username":"oscar","password":"nope"}`), httptest.NewRecorder())
	if code := statusOf(t, h.Login(c)); code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", code)
	}
}

func TestHandler_SetRole_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()
	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{"role":"doctor"}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := statusOf(t, h.SetRole(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_SetApproval_MissingValue(t *testing.T) {
	h, env, e := newTestHandler()
	u := env.approvedUser(t, "paul", auth.RoleDoctor)
	c := e.NewContext(jsonRequest(http.MethodPut, "/", `{}`), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(u.ID.String())
	if code := statusOf(t, h.SetApproval(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

// A token issued before a role change must be refused afterwards, while a
// token issued after it is accepted.
func TestSessionEpoch_EndToEnd(t *testing.T) {
	h, env, e := newTestHandler()
	env.approvedUser(t, "root", auth.RoleAdmin)
	target := env.approvedUser(t, "quinn", auth.RoleReceptionist)

	epochs := session.NewEpochStore(env.repo, nil, time.Minute, zerolog.Nop())
	env.svc.sessions = epochs
	api := e.Group("/api/v1", auth.JWTMiddleware(auth.JWTConfig{
		Tokens:  env.tokens,
		Epochs:  epochs,
		Skipper: auth.AuthSkipper,
		Logger:  zerolog.Nop(),
	}))
	h.RegisterRoutes(api)

	login := func(username string) string {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, jsonRequest(http.MethodPost, "/api/v1/auth/login",
			`{"username":"`+username+`","password":"password123"}`))
		if rec.Code != http.StatusOK {
			t.Fatalf("login %s: %d %s", username, rec.Code, rec.Body.String())
		}
		var resp LoginResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return resp.Token
	}
	me := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	adminToken := login("root")
	oldToken := login("quinn")
	if rec := me(oldToken); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 before the change, got %d", rec.Code)
	}

	req := jsonRequest(http.MethodPut, "/api/v1/users/"+target.ID.String()+"/role", `{"role":"doctor"}`)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("set role: %d %s", rec.Code, rec.Body.String())
	}

	rec = me(oldToken)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale token, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session_expired") {
		t.Errorf("expected session_expired, got %s", rec.Body.String())
	}

	if rec := me(login("quinn")); rec.Code != http.StatusOK {
		t.Errorf("expected fresh token to work, got %d", rec.Code)
	}
	if rec := me(adminToken); rec.Code != http.StatusOK {
		t.Errorf("admin token must be unaffected, got %d", rec.Code)
	}
}

func TestHandler_UsersRequireAdmin(t *testing.T) {
	h, env, e := newTestHandler()
	env.approvedUser(t, "rita", auth.RoleDoctor)
	epochs := session.NewEpochStore(env.repo, nil, time.Minute, zerolog.Nop())
	api := e.Group("/api/v1", auth.JWTMiddleware(auth.JWTConfig{
		Tokens: env.tokens, Epochs: epochs, Skipper: auth.AuthSkipper, Logger: zerolog.Nop(),
	}))
	h.RegisterRoutes(api)

	resp, err := env.svc.Login(t.Context(), "rita", "password123")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}
