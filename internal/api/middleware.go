/**
 * @description
 * This file contains custom middleware for the HTTP router: bearer token
 * authentication, role checks, request IDs and the internal API key guard.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Token parsing and signature checks.
 * - github.com/go-chi/chi/v5/middleware: Request ID context key shared with chi's logger.
 * - github.com/google/uuid: Request ID generation.
 */

package api

import (
	"context"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/transfa/ledger-service/internal/domain"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const principalKey ContextKey = "principal"

const jwksCacheTTL = 10 * time.Minute

// Principal is the authenticated caller as described by its bearer token.
type Principal struct {
	Subject string
	Roles   []domain.Role
}

// HasRole reports whether the token carried the role.
func (p Principal) HasRole(role domain.Role) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenVerifier validates bearer tokens signed either with a shared HMAC
// secret or with RSA keys published at a JWKS endpoint.
type TokenVerifier struct {
	secret  []byte
	jwksURL string
	issuer  string
	client  *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewTokenVerifier prefers the HMAC secret when both sources are configured.
func NewTokenVerifier(secret, jwksURL, issuer string) *TokenVerifier {
	return &TokenVerifier{
		secret:  []byte(secret),
		jwksURL: jwksURL,
		issuer:  issuer,
		client:  &http.Client{Timeout: 10 * time.Second},
		keys:    make(map[string]*rsa.PublicKey),
	}
}

// Verify parses and validates a raw token and returns its principal.
func (v *TokenVerifier) Verify(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var keyFunc jwt.Keyfunc
	if len(v.secret) > 0 {
		opts = append(opts, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		keyFunc = func(*jwt.Token) (interface{}, error) { return v.secret, nil }
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))
		keyFunc = v.rsaKey
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return nil, errors.New("subject not found in token")
	}
	return &Principal{Subject: subject, Roles: rolesFromClaims(claims)}, nil
}

func rolesFromClaims(claims jwt.MapClaims) []domain.Role {
	var roles []domain.Role
	switch raw := claims["roles"].(type) {
	case []interface{}:
		for _, item := range raw {
			if s, ok := item.(string); ok && s != "" {
				roles = append(roles, domain.Role(strings.ToUpper(s)))
			}
		}
	case string:
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				roles = append(roles, domain.Role(strings.ToUpper(s)))
			}
		}
	}
	return roles
}

func (v *TokenVerifier) rsaKey(token *jwt.Token) (interface{}, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("kid not found in token header")
	}

	v.mu.RLock()
	key, cached := v.keys[kid]
	fresh := time.Since(v.fetchedAt) < jwksCacheTTL
	v.mu.RUnlock()
	if cached && fresh {
		return key, nil
	}

	if err := v.refreshKeys(); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("key with kid %s not found", kid)
}

func (v *TokenVerifier) refreshKeys() error {
	if v.jwksURL == "" {
		return errors.New("no JWKS endpoint configured")
	}
	resp, err := v.client.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			return err
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}

// parseRSAPublicKey parses RSA public key from modulus and exponent
func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: int(exp)}, nil
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller's Principal in the request context.
func AuthMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			principal, err := verifier.Verify(tokenString)
			if err != nil {
				http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, *principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only if the token carries role.
func RequireRole(role domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok || !principal.HasRole(role) {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal retrieves the authenticated caller from the request context.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey).(Principal)
	return principal, ok
}

// RequestID propagates X-Request-ID or mints one. The value is stored under
// chi's key so middleware.Logger prints it.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, reqID)
		w.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// InternalAuthMiddleware validates the internal API key for server-to-server calls.
// An empty key closes the routes entirely.
func InternalAuthMiddleware(requiredKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Internal-API-Key")
			if requiredKey == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(requiredKey)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
