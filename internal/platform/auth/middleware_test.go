package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "rcm-idp",
			Audience:  jwt.ClaimStrings{"rcm-api"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: "hospital_1",
		Roles:    []string{RoleBilling},
	}
}

func runJWT(t *testing.T, cfg JWTConfig, authHeader string) (echo.Context, bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	var seen echo.Context
	h := JWTMiddleware(cfg)(func(c echo.Context) error {
		called = true
		seen = c
		return nil
	})
	err := h(c)
	if seen == nil {
		seen = c
	}
	return seen, called, err
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", he.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, called, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, "")
	assertUnauthorized(t, err)
	if called {
		t.Error("handler must not run without a token")
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	for _, header := range []string{"Basic abc", "Bearer", "token-only"} {
		_, _, err := runJWT(t, JWTConfig{SigningKey: testSigningKey}, header)
		assertUnauthorized(t, err)
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(), testSigningKey)
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "rcm-idp", Audience: "rcm-api"}

	c, called, err := runJWT(t, cfg, "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler was not called")
	}

	if tid := c.Get("jwt_tenant_id"); tid != "hospital_1" {
		t.Errorf("expected jwt_tenant_id hospital_1, got %v", tid)
	}
	ctx := c.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "user-123" {
		t.Errorf("expected user-123, got %s", uid)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 1 || roles[0] != RoleBilling {
		t.Errorf("expected [billing], got %v", roles)
	}
}

func TestJWTMiddleware_RejectedTokens(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-1 * time.Hour))

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "rcm-idp", Audience: "rcm-api"}

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"no expiry", createTestToken(t, noExpiry, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"wrong audience", createTestToken(t, wrongAudience, testSigningKey)},
		{"wrong key", createTestToken(t, validClaims(), []byte("another-key"))},
		{"garbage", "not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, called, err := runJWT(t, cfg, "Bearer "+tt.token)
			assertUnauthorized(t, err)
			if called {
				t.Error("handler must not run for a rejected token")
			}
		})
	}
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := DevAuthMiddleware(JWTConfig{})(func(c echo.Context) error {
		if tid := c.Get("jwt_tenant_id"); tid != "default" {
			t.Errorf("expected default tenant, got %v", tid)
		}
		roles := RolesFromContext(c.Request().Context())
		if len(roles) != 1 || roles[0] != RoleAdmin {
			t.Errorf("expected [admin], got %v", roles)
		}
		if uid := UserIDFromContext(c.Request().Context()); uid != "dev-user" {
			t.Errorf("expected dev-user, got %s", uid)
		}
		return nil
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_VerifiesSuppliedToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	c := e.NewContext(req, httptest.NewRecorder())

	h := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		t.Error("handler must not run for an invalid token")
		return nil
	})
	assertUnauthorized(t, h(c))
}
