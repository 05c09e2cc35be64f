package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("mpi-test-signing-key-0123456789ab")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return raw
}

func testClaims(roles []string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "reviewer-1",
			Issuer:    "mpi-test",
			Audience:  jwt.ClaimStrings{"mpi"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: roles,
	}
}

func runJWT(t *testing.T, authHeader string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(JWTConfig{Issuer: "mpi-test", Audience: "mpi", SigningKey: testKey})
	h := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, UserIDFromContext(c.Request().Context()))
	})
	return rec, h(c)
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	raw := signToken(t, testClaims([]string{"reviewer"}))
	rec, err := runJWT(t, "Bearer "+raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "reviewer-1" {
		t.Errorf("expected subject in context, got %q", rec.Body.String())
	}
}

func TestJWTMiddleware_MissingToken(t *testing.T) {
	_, err := runJWT(t, "")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	claims := testClaims(nil)
	claims.Issuer = "someone-else"
	_, err := runJWT(t, "Bearer "+signToken(t, claims))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestJWTMiddleware_Expired(t *testing.T) {
	claims := testClaims(nil)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err := runJWT(t, "Bearer "+signToken(t, claims))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func requireRoleResult(t *testing.T, userRoles []string, required ...string) error {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	mw := JWTMiddleware(JWTConfig{Issuer: "mpi-test", Audience: "mpi", SigningKey: testKey})
	req.Header.Set("Authorization", "Bearer "+signToken(t, testClaims(userRoles)))

	h := mw(RequireRole(required...)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	return h(c)
}

func TestRequireRole(t *testing.T) {
	if err := requireRoleResult(t, []string{"reviewer"}, "reviewer"); err != nil {
		t.Errorf("reviewer should pass reviewer gate: %v", err)
	}
	if err := requireRoleResult(t, []string{"admin"}, "reviewer"); err != nil {
		t.Errorf("admin should pass any gate: %v", err)
	}
	err := requireRoleResult(t, []string{"ingest"}, "reviewer")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong role, got %v", err)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := DevAuthMiddleware()(func(c echo.Context) error {
		roles := RolesFromContext(c.Request().Context())
		if len(roles) != 1 || roles[0] != "admin" {
			t.Errorf("expected admin role, got %v", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = rec
}
