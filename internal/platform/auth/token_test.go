package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only-32b")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(testSigningKey, "lims-test", time.Hour)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	iss := newTestIssuer()
	uid := uuid.New()

	tok, exp, err := iss.Issue(Subject{UserID: uid, Username: "alice", Role: RoleDoctor, SessionVersion: 3})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Errorf("expected future expiry, got %v", exp)
	}

	claims, err := iss.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != uid.String() {
		t.Errorf("expected subject %s, got %s", uid, claims.Subject)
	}
	if claims.Username != "alice" || claims.Role != RoleDoctor {
		t.Errorf("unexpected claims: %+v", claims)
	}
	if claims.SessionVersion != 3 {
		t.Errorf("expected sv 3, got %d", claims.SessionVersion)
	}
	if claims.ID == "" {
		t.Error("expected jti to be set")
	}
}

func TestTokenIssuer_UniqueJTI(t *testing.T) {
	iss := newTestIssuer()
	s := Subject{UserID: uuid.New(), Username: "bob", Role: RoleAccountant, SessionVersion: 1}
	a, _, _ := iss.Issue(s)
	b, _, _ := iss.Issue(s)
	ca, _ := iss.Parse(a)
	cb, _ := iss.Parse(b)
	if ca.ID == cb.ID {
		t.Error("expected distinct jti per issued token")
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	iss := newTestIssuer()
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, _, err := iss.Issue(Subject{UserID: uuid.New(), Role: RoleAdmin, SessionVersion: 1})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := newTestIssuer().Parse(tok); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenIssuer_WrongKey(t *testing.T) {
	tok, _, _ := newTestIssuer().Issue(Subject{UserID: uuid.New(), Role: RoleAdmin, SessionVersion: 1})
	other := NewTokenIssuer([]byte("another-secret-key-that-is-long-enough"), "lims-test", time.Hour)
	if _, err := other.Parse(tok); err == nil {
		t.Error("expected token signed with another key to be rejected")
	}
}

func TestTokenIssuer_WrongIssuer(t *testing.T) {
	tok, _, _ := newTestIssuer().Issue(Subject{UserID: uuid.New(), Role: RoleAdmin, SessionVersion: 1})
	other := NewTokenIssuer(testSigningKey, "someone-else", time.Hour)
	if _, err := other.Parse(tok); err == nil {
		t.Error("expected issuer mismatch to be rejected")
	}
}

func TestTokenIssuer_RejectsNoneAlg(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			Subject:   uuid.NewString(),
			Issuer:    "lims-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:           RoleAdmin,
		SessionVersion: 1,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := newTestIssuer().Parse(tok); err == nil {
		t.Error("expected alg=none to be rejected")
	}
}

func TestTokenIssuer_RejectsMissingSessionVersion(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "x",
			Subject:   uuid.NewString(),
			Issuer:    "lims-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}
	tok, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if _, err := newTestIssuer().Parse(tok); err == nil {
		t.Error("expected token without sv to be rejected")
	}
}
