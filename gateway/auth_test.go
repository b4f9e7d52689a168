package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func authHandler(a *Authenticator, scopes ...string) http.Handler {
	return a.Middleware(scopes...)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func signWith(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func doAuth(handler http.Handler, token string) int {
	req := httptest.NewRequest(http.MethodPost, "/admin/epoch/close", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	if code := doAuth(authHandler(a, "pool:admin"), ""); code != http.StatusOK {
		t.Fatalf("disabled auth: got %d", code)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	a := NewAuthenticator(AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "tranchepool",
		Audience:   "gateway",
	}, nil)
	handler := authHandler(a, "pool:admin")

	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", signWith(t, "other-secret", jwt.MapClaims{
			"iss": "tranchepool", "aud": "gateway", "scope": "pool:admin", "exp": exp,
		}), http.StatusUnauthorized},
		{"wrong issuer", signWith(t, testSecret, jwt.MapClaims{
			"iss": "someone-else", "aud": "gateway", "scope": "pool:admin", "exp": exp,
		}), http.StatusUnauthorized},
		{"expired", signWith(t, testSecret, jwt.MapClaims{
			"iss": "tranchepool", "aud": "gateway", "scope": "pool:admin",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}), http.StatusUnauthorized},
		{"missing scope", signWith(t, testSecret, jwt.MapClaims{
			"iss": "tranchepool", "aud": "gateway", "scope": "pool:read", "exp": exp,
		}), http.StatusForbidden},
		{"valid", signWith(t, testSecret, jwt.MapClaims{
			"iss": "tranchepool", "aud": "gateway", "scope": "pool:admin pool:read", "exp": exp,
		}), http.StatusOK},
	}
	for _, tc := range cases {
		if code := doAuth(handler, tc.token); code != tc.want {
			t.Fatalf("%s: got %d want %d", tc.name, code, tc.want)
		}
	}
}
