package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

func TestBearerTokenFromStringSuccess(t *testing.T) {
	token, err := bearerTokenFromString("Bearer header.payload.signature")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "header.payload.signature" {
		t.Fatalf("unexpected token content: %s", token)
	}
}

func TestBearerTokenFromStringMissing(t *testing.T) {
	if _, err := bearerTokenFromString("  "); err == nil || err.Error() != "missing authorization header" {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestBearerTokenFromStringManyPeriods(t *testing.T) {
	header := "Bearer " + strings.Repeat(".", 1000)
	if _, err := bearerTokenFromString(header); err == nil || err.Error() != "bad auth header" {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestBearerTokenFromStringWrongScheme(t *testing.T) {
	if _, err := bearerTokenFromString("Basic a.b.c"); err != errBadAuthorization {
		t.Fatalf("expected bad auth header error, got %v", err)
	}
}

func TestTokenFromRequestFallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "a.b.c"})

	token, err := tokenFromRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "a.b.c" {
		t.Fatalf("unexpected token: %s", token)
	}

	req.Header.Set(echo.HeaderAuthorization, "Bearer x.y.z")
	token, err = tokenFromRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "x.y.z" {
		t.Fatalf("expected header to win over cookie, got %s", token)
	}
}

func TestTokenFromRequestMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	if _, err := tokenFromRequest(req); err != errMissingAuthorization {
		t.Fatalf("expected missing authorization, got %v", err)
	}
}

func TestLocalAuthRoundTrip(t *testing.T) {
	auth := NewLocalAuth([]byte("test-secret"), time.Hour)

	signed, exp, err := auth.IssueToken("user-123", "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if time.Until(exp) < 59*time.Minute {
		t.Fatalf("unexpected expiry: %v", exp)
	}

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+signed)
	userID, err := auth.UserIDFromRequest(req)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestLocalAuthRejectsExpiredToken(t *testing.T) {
	auth := NewLocalAuth([]byte("test-secret"), time.Hour)
	auth.now = func() time.Time { return time.Now().Add(-3 * time.Hour) }
	signed, _, err := auth.IssueToken("user-123", "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	auth.now = time.Now

	if _, err := auth.UserIDFromBearer(signed); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestLocalAuthRejectsForeignSecret(t *testing.T) {
	other := NewLocalAuth([]byte("other-secret"), time.Hour)
	signed, _, err := other.IssueToken("user-123", "alice")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	auth := NewLocalAuth([]byte("test-secret"), time.Hour)
	if _, err := auth.UserIDFromBearer(signed); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestLocalAuthRejectsWrongIssuer(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"sub": "user-123",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := NewLocalAuth(secret, time.Hour)
	if _, err := auth.UserIDFromBearer(signed); err == nil || err.Error() != "invalid issuer" {
		t.Fatalf("expected invalid issuer, got %v", err)
	}
}

func TestLocalAuthRequiresSubject(t *testing.T) {
	secret := []byte("test-secret")
	claims := jwt.MapClaims{
		"iss": localIssuer,
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	auth := NewLocalAuth(secret, time.Hour)
	if _, err := auth.UserIDFromBearer(signed); err == nil || err.Error() != "missing sub" {
		t.Fatalf("expected missing sub, got %v", err)
	}
}

func TestJWKSAuthCannotIssue(t *testing.T) {
	auth := NewJWKSAuth(nil, "aud", "https://issuer/", time.Minute)
	if _, _, err := auth.IssueToken("u", "n"); err == nil {
		t.Fatalf("expected jwks auth to refuse issuing tokens")
	}
}

func TestNoAuthReturnsAnonymousOwner(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	userID, err := NoAuth{}.UserIDFromRequest(req)
	if err != nil || userID != "" {
		t.Fatalf("expected anonymous owner, got %q %v", userID, err)
	}
}
