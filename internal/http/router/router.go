package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/health"
	"github.com/transferwave/identity-core/internal/http/handler"
	"github.com/transferwave/identity-core/internal/http/middleware"
	"github.com/transferwave/identity-core/internal/http/response"
	"github.com/transferwave/identity-core/internal/security"
	"github.com/transferwave/identity-core/internal/service"
)

// SessionDirectory is the slice of the session manager the router needs.
type SessionDirectory interface {
	Validate(id string) (bool, error)
	ListActive(userID, currentSessionID string) ([]service.SessionView, error)
	Revoke(id, reason string) (bool, error)
}

// PermissionDirectory is the slice of the permission resolver the router
// needs, covering both route guards and the introspection endpoint.
type PermissionDirectory interface {
	Check(ctx context.Context, userID, permissionName string, organizationID *string) (bool, error)
	ListUserPermissions(ctx context.Context, userID string, organizationID *string) (*domain.UserPermissions, error)
}

type Dependencies struct {
	JWTManager     *security.JWTManager
	Sessions       SessionDirectory
	Permissions    PermissionDirectory
	MfaHandler     *handler.MfaHandler
	Credentials    *handler.CredentialHandler
	Readiness      *health.ProbeRunner
	EnableOTelHTTP bool
}

// NewRouter wires the operational surface: health probes plus the session and
// permission introspection endpoints other TransferWave services call.
func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": map[string]string{}})
			return
		}
		checks := dep.Readiness.Results()
		if dep.Readiness.Ready() {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": checks})
	})

	r.Route("/identity", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(dep.JWTManager, dep.Sessions))

		r.Get("/me/sessions", func(w http.ResponseWriter, r *http.Request) {
			claims, _ := middleware.ClaimsFromContext(r.Context())
			views, err := dep.Sessions.ListActive(claims.Subject, claims.SessionID)
			if err != nil {
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not list sessions", nil)
				return
			}
			response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
		})

		r.Delete("/me/sessions/{session_id}", func(w http.ResponseWriter, r *http.Request) {
			claims, _ := middleware.ClaimsFromContext(r.Context())
			sessionID := chi.URLParam(r, "session_id")
			if !ownsSession(dep.Sessions, claims.Subject, sessionID) {
				response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
				return
			}
			if _, err := dep.Sessions.Revoke(sessionID, "user_revoked"); err != nil {
				if fault.IsKind(err, fault.KindNotFound) {
					response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "session not found", nil)
					return
				}
				response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not revoke session", nil)
				return
			}
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
		})

		r.With(middleware.RequirePermission(dep.Permissions, "identity.permissions.read")).
			Get("/users/{user_id}/permissions", func(w http.ResponseWriter, r *http.Request) {
				perms, err := dep.Permissions.ListUserPermissions(r.Context(), chi.URLParam(r, "user_id"), organizationScope(r))
				if err != nil {
					response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not resolve permissions", nil)
					return
				}
				response.JSON(w, r, http.StatusOK, perms)
			})

		if dep.MfaHandler != nil {
			r.Route("/mfa", func(r chi.Router) {
				r.Post("/challenges", dep.MfaHandler.StartChallenge)
				r.Post("/challenges/{mfa_session_id}/verify", dep.MfaHandler.VerifyChallenge)
				r.Delete("/challenges/{mfa_session_id}", dep.MfaHandler.CancelChallenge)
				r.Get("/methods", dep.MfaHandler.ListMethods)
				r.Post("/methods/totp", dep.MfaHandler.EnrollTOTP)
				r.Post("/backup-codes", dep.MfaHandler.IssueBackupCodes)
			})
		}

		if dep.Credentials != nil {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequirePermission(dep.Permissions, "identity.credentials.manage"))
				r.Post("/orgs/{org_id}/credentials", dep.Credentials.Store)
				r.Get("/orgs/{org_id}/credentials", dep.Credentials.List)
				r.Get("/credentials/{credential_id}/decrypt", dep.Credentials.Decrypt)
				r.Post("/credentials/{credential_id}/default", dep.Credentials.SetDefault)
				r.Post("/credentials/{credential_id}/deactivate", dep.Credentials.Deactivate)
				r.Delete("/credentials/{credential_id}", dep.Credentials.Delete)
			})
		}
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}

// ownsSession keeps one user from revoking another's session by guessing IDs.
func ownsSession(sessions SessionDirectory, userID, sessionID string) bool {
	views, err := sessions.ListActive(userID, "")
	if err != nil {
		return false
	}
	for _, v := range views {
		if v.ID == sessionID {
			return true
		}
	}
	return false
}

func organizationScope(r *http.Request) *string {
	if org := r.Header.Get("X-Organization-Id"); org != "" {
		return &org
	}
	return nil
}
