package middleware

import (
	"context"
	"net/http"

	"github.com/transferwave/identity-core/internal/http/response"
)

// PermissionChecker answers whether a user holds a named permission within
// an organization scope. A nil organizationID means system scope.
type PermissionChecker interface {
	Check(ctx context.Context, userID, permissionName string, organizationID *string) (bool, error)
}

// RequirePermission guards a route behind a resolved permission. The
// organization scope is taken from the X-Organization-Id header when present.
func RequirePermission(checker PermissionChecker, permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			allowed, err := checker.Check(r.Context(), claims.Subject, permission, organizationScope(r))
			if err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "RBAC_UNAVAILABLE", "permission resolution unavailable", nil)
				return
			}
			if !allowed {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient permission", map[string]string{"required": permission})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func organizationScope(r *http.Request) *string {
	if org := r.Header.Get("X-Organization-Id"); org != "" {
		return &org
	}
	return nil
}
