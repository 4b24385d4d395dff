package api

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/transfa/ledger-service/internal/domain"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := GetPrincipal(r.Context())
		if !ok {
			http.Error(w, "missing principal", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(principal)
	})
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	verifier := NewTokenVerifier(testSecret, "", "")
	handler := AuthMiddleware(verifier)(principalEcho())

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7", "exp": time.Now().Add(-time.Minute).Unix(),
	}).SignedString([]byte(testSecret))
	wrongKey, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("someone-else"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
	}).SignedString([]byte(testSecret))
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Token abc",
		"expired":        "Bearer " + expired,
		"wrong key":      "Bearer " + wrongKey,
		"no expiry":      "Bearer " + noExpiry,
		"no subject":     "Bearer " + noSubject,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthMiddleware_StoresPrincipal(t *testing.T) {
	verifier := NewTokenVerifier(testSecret, "", "")
	handler := AuthMiddleware(verifier)(principalEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "ada", "staff", "customer"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var principal Principal
	if err := json.Unmarshal(rec.Body.Bytes(), &principal); err != nil {
		t.Fatalf("decode principal: %v", err)
	}
	if principal.Subject != "ada" || !principal.HasRole(domain.RoleStaff) || !principal.HasRole(domain.RoleCustomer) {
		t.Fatalf("unexpected principal %+v", principal)
	}
}

func TestTokenVerifier_IssuerMustMatch(t *testing.T) {
	verifier := NewTokenVerifier(testSecret, "", "https://auth.transfa.test")

	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7", "iss": "https://evil.test", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if _, err := verifier.Verify(signed); err == nil {
		t.Fatalf("expected issuer mismatch to be rejected")
	}

	signed, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7", "iss": "https://auth.transfa.test", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	if _, err := verifier.Verify(signed); err != nil {
		t.Fatalf("expected matching issuer to pass, got %v", err)
	}
}

func TestTokenVerifier_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	hits := 0
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "key-1",
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	defer jwks.Close()

	verifier := NewTokenVerifier("", jwks.URL, "")
	sign := func(kid string) string {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": "user_2abc", "exp": time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = kid
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return signed
	}

	for i := 0; i < 2; i++ {
		principal, err := verifier.Verify(sign("key-1"))
		if err != nil {
			t.Fatalf("Verify returned error: %v", err)
		}
		if principal.Subject != "user_2abc" {
			t.Fatalf("unexpected subject %q", principal.Subject)
		}
	}
	if hits != 1 {
		t.Fatalf("expected JWKS to be fetched once and cached, got %d fetches", hits)
	}

	if _, err := verifier.Verify(sign("key-2")); err == nil {
		t.Fatalf("expected unknown kid to be rejected")
	}

	hmacToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7", "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("guess"))
	if _, err := verifier.Verify(hmacToken); err == nil {
		t.Fatalf("expected HMAC token to be rejected by an RSA verifier")
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.GetReqID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "req-123" || rec.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("expected propagated request id, got ctx=%q header=%q", seen, rec.Header().Get("X-Request-ID"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-123" || rec.Header().Get("X-Request-ID") != seen {
		t.Fatalf("expected a fresh request id, got %q", seen)
	}
}

func TestInternalAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	cases := []struct {
		name     string
		required string
		provided string
		want     int
	}{
		{name: "matching key", required: "k1", provided: "k1", want: http.StatusNoContent},
		{name: "wrong key", required: "k1", provided: "k2", want: http.StatusUnauthorized},
		{name: "missing key", required: "k1", provided: "", want: http.StatusUnauthorized},
		{name: "unconfigured", required: "", provided: "", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.provided != "" {
				req.Header.Set("X-Internal-API-Key", tc.provided)
			}
			rec := httptest.NewRecorder()
			InternalAuthMiddleware(tc.required)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}
