package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medlab/lims/internal/platform/apperr"
)

type fakeEpochs struct {
	versions map[uuid.UUID]int
	err      error
}

func (f *fakeEpochs) Current(_ context.Context, userID uuid.UUID) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	v, ok := f.versions[userID]
	if !ok {
		return 0, apperr.NotFound("user")
	}
	return v, nil
}

type fakeRevoked map[string]bool

func (f fakeRevoked) IsRevoked(_ context.Context, jti string) (bool, error) {
	return f[jti], nil
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func runJWT(t *testing.T, cfg JWTConfig, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/api/v1/patients")
	err := JWTMiddleware(cfg)(okHandler)(c)
	return c, err
}

func expectStatus(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", status)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
	if code != "" {
		body, _ := httpErr.Message.(apperr.Body)
		if body.Code != code {
			t.Errorf("expected code %q, got %q", code, body.Code)
		}
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	cfg := JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Logger: zerolog.Nop()}
	_, err := runJWT(t, cfg, "")
	expectStatus(t, err, http.StatusUnauthorized, "")
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Logger: zerolog.Nop()}
			_, err := runJWT(t, cfg, tt.header)
			expectStatus(t, err, http.StatusUnauthorized, "")
		})
	}
}

func TestJWTMiddleware_GarbageToken(t *testing.T) {
	cfg := JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Logger: zerolog.Nop()}
	_, err := runJWT(t, cfg, "Bearer not.a.jwt")
	expectStatus(t, err, http.StatusUnauthorized, "invalid_token")
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	iss := newTestIssuer()
	uid := uuid.New()
	tok, _, _ := iss.Issue(Subject{UserID: uid, Username: "carol", Role: RoleLabTechnician, SessionVersion: 2})

	cfg := JWTConfig{
		Tokens:  iss,
		Epochs:  &fakeEpochs{versions: map[uuid.UUID]int{uid: 2}},
		Revoked: fakeRevoked{},
		Logger:  zerolog.Nop(),
	}
	c, err := runJWT(t, cfg, "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := c.Request().Context()
	got, ok := UserIDFromContext(ctx)
	if !ok || got != uid {
		t.Errorf("expected user id %s, got %s", uid, got)
	}
	if RoleFromContext(ctx) != RoleLabTechnician {
		t.Errorf("expected role lab_technician, got %s", RoleFromContext(ctx))
	}
	if UsernameFromContext(ctx) != "carol" {
		t.Errorf("expected username carol, got %s", UsernameFromContext(ctx))
	}
	jti, exp := TokenFromContext(ctx)
	if jti == "" || exp.IsZero() {
		t.Errorf("expected jti and expiry on context, got %q %v", jti, exp)
	}
}

func TestJWTMiddleware_SessionVersionMismatch(t *testing.T) {
	iss := newTestIssuer()
	uid := uuid.New()
	tok, _, _ := iss.Issue(Subject{UserID: uid, Role: RoleDoctor, SessionVersion: 1})

	cfg := JWTConfig{
		Tokens: iss,
		Epochs: &fakeEpochs{versions: map[uuid.UUID]int{uid: 2}},
		Logger: zerolog.Nop(),
	}
	_, err := runJWT(t, cfg, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized, "session_expired")
}

func TestJWTMiddleware_DeletedUser(t *testing.T) {
	iss := newTestIssuer()
	tok, _, _ := iss.Issue(Subject{UserID: uuid.New(), Role: RoleDoctor, SessionVersion: 1})

	cfg := JWTConfig{Tokens: iss, Epochs: &fakeEpochs{versions: map[uuid.UUID]int{}}, Logger: zerolog.Nop()}
	_, err := runJWT(t, cfg, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized, "session_expired")
}

func TestJWTMiddleware_EpochLookupFailure(t *testing.T) {
	iss := newTestIssuer()
	tok, _, _ := iss.Issue(Subject{UserID: uuid.New(), Role: RoleDoctor, SessionVersion: 1})

	cfg := JWTConfig{Tokens: iss, Epochs: &fakeEpochs{err: errors.New("db down")}, Logger: zerolog.Nop()}
	_, err := runJWT(t, cfg, "Bearer "+tok)
	expectStatus(t, err, http.StatusInternalServerError, "internal")
}

func TestJWTMiddleware_RevokedToken(t *testing.T) {
	iss := newTestIssuer()
	uid := uuid.New()
	tok, _, _ := iss.Issue(Subject{UserID: uid, Role: RoleDoctor, SessionVersion: 1})
	claims, _ := iss.Parse(tok)

	cfg := JWTConfig{
		Tokens:  iss,
		Epochs:  &fakeEpochs{versions: map[uuid.UUID]int{uid: 1}},
		Revoked: fakeRevoked{claims.ID: true},
		Logger:  zerolog.Nop(),
	}
	_, err := runJWT(t, cfg, "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized, "token_revoked")
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	cfg := JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Skipper: AuthSkipper, Logger: zerolog.Nop()}
	if err := JWTMiddleware(cfg)(okHandler)(c); err != nil {
		t.Fatalf("expected skipped path to pass, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestDevAuthMiddleware_NoHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	jwtMW := JWTMiddleware(JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Logger: zerolog.Nop()})
	var role string
	h := DevAuthMiddleware(jwtMW)(func(c echo.Context) error {
		role = RoleFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if role != RoleAdmin {
		t.Errorf("expected admin role, got %q", role)
	}
	if ActorFromContext(c.Request().Context()) != nil {
		t.Error("expected no actor for dev admin")
	}
}

func TestDevAuthMiddleware_WithHeaderValidates(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	jwtMW := JWTMiddleware(JWTConfig{Tokens: newTestIssuer(), Epochs: &fakeEpochs{}, Logger: zerolog.Nop()})
	err := DevAuthMiddleware(jwtMW)(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized, "invalid_token")
}
