package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/health"
	"github.com/transferwave/identity-core/internal/security"
	"github.com/transferwave/identity-core/internal/service"
)

type fakeSessionDirectory struct {
	views   map[string][]service.SessionView
	live    map[string]bool
	revoked []string
}

func (f *fakeSessionDirectory) Validate(id string) (bool, error) {
	return f.live[id], nil
}

func (f *fakeSessionDirectory) ListActive(userID, currentSessionID string) ([]service.SessionView, error) {
	views := f.views[userID]
	out := make([]service.SessionView, len(views))
	copy(out, views)
	for i := range out {
		out[i].IsCurrent = out[i].ID == currentSessionID
	}
	return out, nil
}

func (f *fakeSessionDirectory) Revoke(id, reason string) (bool, error) {
	f.revoked = append(f.revoked, id)
	return true, nil
}

type fakePermissionDirectory struct {
	grants map[string][]string
}

func (f *fakePermissionDirectory) Check(_ context.Context, userID, permissionName string, _ *string) (bool, error) {
	for _, name := range f.grants[userID] {
		if name == permissionName {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePermissionDirectory) ListUserPermissions(_ context.Context, userID string, _ *string) (*domain.UserPermissions, error) {
	return &domain.UserPermissions{Permissions: f.grants[userID], ByResource: map[string][]string{}}, nil
}

func newRouterTestDeps() (Dependencies, *fakeSessionDirectory, *security.JWTManager) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	sessions := &fakeSessionDirectory{
		views: map[string][]service.SessionView{
			"user-1": {
				{ID: "sess-1", DeviceID: "laptop", IsMfaComplete: true},
				{ID: "sess-2", DeviceID: "phone"},
			},
		},
		live: map[string]bool{"sess-1": true},
	}
	deps := Dependencies{
		JWTManager: jwtMgr,
		Sessions:   sessions,
		Permissions: &fakePermissionDirectory{grants: map[string][]string{
			"user-1": {"identity.permissions.read", "transfers.read"},
		}},
	}
	return deps, sessions, jwtMgr
}

func perform(r http.Handler, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.10.10.10:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func signToken(t *testing.T, jwtMgr *security.JWTManager, userID, sessionID string) string {
	t.Helper()
	token, err := jwtMgr.SignAccessToken(userID, sessionID, nil, nil, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestHealthzAlwaysOK(t *testing.T) {
	deps, _, _ := newRouterTestDeps()
	r := NewRouter(deps)

	rr := perform(r, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestReadyzReflectsProbeState(t *testing.T) {
	deps, _, _ := newRouterTestDeps()
	deps.Readiness = health.NewProbeRunner(time.Minute, time.Second, health.Probe{
		Name:  "database",
		Check: func(ctx context.Context) error { return nil },
	})
	r := NewRouter(deps)

	rr := perform(r, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first sweep, got %d", rr.Code)
	}

	deps.Readiness.RunOnce(context.Background())
	rr = perform(r, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after sweep, got %d", rr.Code)
	}
}

func TestListSessionsRequiresAuth(t *testing.T) {
	deps, _, _ := newRouterTestDeps()
	r := NewRouter(deps)

	rr := perform(r, http.MethodGet, "/identity/me/sessions", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
}

func TestListSessionsMarksCurrent(t *testing.T) {
	deps, _, jwtMgr := newRouterTestDeps()
	r := NewRouter(deps)

	token := signToken(t, jwtMgr, "user-1", "sess-1")
	rr := perform(r, http.MethodGet, "/identity/me/sessions", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Data struct {
			Sessions []service.SessionView `json:"sessions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(body.Data.Sessions))
	}
	for _, v := range body.Data.Sessions {
		if v.ID == "sess-1" && !v.IsCurrent {
			t.Fatal("expected sess-1 to be marked current")
		}
		if v.ID == "sess-2" && v.IsCurrent {
			t.Fatal("expected sess-2 not to be marked current")
		}
	}
}

func TestRevokeSessionOnlyOwn(t *testing.T) {
	deps, sessions, jwtMgr := newRouterTestDeps()
	r := NewRouter(deps)
	token := signToken(t, jwtMgr, "user-1", "sess-1")

	rr := perform(r, http.MethodDelete, "/identity/me/sessions/sess-2", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 revoking own session, got %d", rr.Code)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != "sess-2" {
		t.Fatalf("expected sess-2 revoked, got %v", sessions.revoked)
	}

	rr = perform(r, http.MethodDelete, "/identity/me/sessions/other-users-session", token)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 revoking foreign session, got %d", rr.Code)
	}
	if len(sessions.revoked) != 1 {
		t.Fatalf("expected no extra revocations, got %v", sessions.revoked)
	}
}

func TestUserPermissionsEndpointGuarded(t *testing.T) {
	deps, sessions, jwtMgr := newRouterTestDeps()
	sessions.views["user-2"] = []service.SessionView{{ID: "sess-9"}}
	sessions.live["sess-9"] = true
	r := NewRouter(deps)

	// user-2 lacks identity.permissions.read
	token := signToken(t, jwtMgr, "user-2", "sess-9")
	rr := perform(r, http.MethodGet, "/identity/users/user-1/permissions", token)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without grant, got %d", rr.Code)
	}

	token = signToken(t, jwtMgr, "user-1", "sess-1")
	rr = perform(r, http.MethodGet, "/identity/users/user-1/permissions", token)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with grant, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Data domain.UserPermissions `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Data.Permissions) != 2 {
		t.Fatalf("expected 2 permissions, got %v", body.Data.Permissions)
	}
}
