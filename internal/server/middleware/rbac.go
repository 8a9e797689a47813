package middleware

import (
	"net/http"
	"slices"
)

// Roles carried in the JWT "role" claim. API keys always act as operators.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// RequireRole rejects callers whose role is not listed. Chain it after Auth:
// a request with no identity gets 401, a known caller with another role 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := RoleFromContext(r.Context())
			switch {
			case !ok:
				writeProblem(w, http.StatusUnauthorized, "authentication required")
			case !slices.Contains(roles, role):
				writeProblem(w, http.StatusForbidden, "insufficient permissions")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireOperator guards routes that start automations.
func RequireOperator() func(http.Handler) http.Handler {
	return RequireRole(RoleOperator)
}
