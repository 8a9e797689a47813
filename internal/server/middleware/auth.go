package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gosuda/taskrelay/internal/auth"
)

// AuthConfig selects the accepted credentials. Requests are accepted when
// either a valid HS256 bearer token or one of the API keys is presented.
type AuthConfig struct {
	JWTSecret string
	APIKeys   []string
}

// Enabled reports whether any credential source is configured.
func (c AuthConfig) Enabled() bool {
	return c.JWTSecret != "" || len(c.APIKeys) > 0
}

// Auth authenticates requests. Browser clients that cannot set headers on
// EventSource or WebSocket requests may pass the bearer token in the
// access_token query parameter.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	keyHashes := make([][32]byte, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keyHashes = append(keyHashes, sha256.Sum256([]byte(k)))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.JWTSecret != "" {
				if tok := extractBearer(r); tok != "" {
					if ctx, ok := authenticateJWT(r.Context(), tok, cfg.JWTSecret); ok {
						next.ServeHTTP(w, r.WithContext(ctx))
						return
					}
				}
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				if ctx, ok := authenticateAPIKey(r.Context(), key, keyHashes); ok {
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			writeProblem(w, http.StatusUnauthorized, "missing or invalid credentials")
		})
	}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return header[7:]
	}
	return r.URL.Query().Get("access_token")
}

func authenticateJWT(ctx context.Context, tokenStr, secret string) (context.Context, bool) {
	claims, err := auth.ValidateToken(secret, tokenStr)
	if err != nil {
		return ctx, false
	}

	role := claims.Role
	if role == "" {
		role = RoleViewer
	}

	return WithIdentity(ctx, Identity{Subject: claims.Subject, Role: role}), true
}

func authenticateAPIKey(ctx context.Context, rawKey string, hashes [][32]byte) (context.Context, bool) {
	if len(rawKey) < 8 {
		return ctx, false
	}

	sum := sha256.Sum256([]byte(rawKey))
	for _, h := range hashes {
		if subtle.ConstantTimeCompare(sum[:], h[:]) == 1 {
			return WithIdentity(ctx, Identity{Subject: "apikey:" + rawKey[:8], Role: RoleOperator}), true
		}
	}
	return ctx, false
}
