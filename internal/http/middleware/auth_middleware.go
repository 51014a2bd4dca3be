package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/transferwave/identity-core/internal/http/response"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/security"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"
)

// SessionValidator answers whether the session bound to an access token is
// still live. A nil validator skips the liveness check.
type SessionValidator interface {
	Validate(id string) (bool, error)
}

// AuthMiddleware parses the bearer access token and, when the token carries a
// session_id claim, rejects tokens whose session has been revoked or expired.
func AuthMiddleware(jwtMgr *security.JWTManager, sessions SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				observability.RecordSessionEvent("token_validate", "missing")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := jwtMgr.ParseAccessToken(raw)
			if err != nil {
				observability.RecordSessionEvent("token_validate", "invalid")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}
			if sessions != nil && claims.SessionID != "" {
				live, err := sessions.Validate(claims.SessionID)
				if err != nil {
					response.Error(w, r, http.StatusServiceUnavailable, "SESSION_CHECK_UNAVAILABLE", "session validation unavailable", nil)
					return
				}
				if !live {
					observability.RecordSessionEvent("token_validate", "session_revoked")
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session no longer valid", nil)
					return
				}
			}
			observability.RecordSessionEvent("token_validate", "valid")
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
