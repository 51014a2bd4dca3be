package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/transferwave/identity-core/internal/security"
)

type stubSessionValidator struct {
	live map[string]bool
}

func (s *stubSessionValidator) Validate(id string) (bool, error) {
	return s.live[id], nil
}

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	h := AuthMiddleware(jwtMgr, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/identity/me/sessions", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, err := jwtMgr.SignAccessToken("user-1", "sess-1", nil, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var gotSubject string
	h := AuthMiddleware(jwtMgr, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			t.Fatal("expected claims in context")
		}
		gotSubject = claims.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/identity/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid token, got %d", rr.Code)
	}
	if gotSubject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", gotSubject)
	}
}

func TestAuthMiddlewareRejectsRevokedSession(t *testing.T) {
	jwtMgr := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	token, err := jwtMgr.SignAccessToken("user-1", "sess-1", nil, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	sessions := &stubSessionValidator{live: map[string]bool{"sess-1": false}}
	h := AuthMiddleware(jwtMgr, sessions)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/identity/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for revoked session, got %d", rr.Code)
	}

	sessions.live["sess-1"] = true
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for live session, got %d", rr.Code)
	}
}

func TestAuthMiddlewareRejectsWrongSecret(t *testing.T) {
	signer := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456")
	verifier := security.NewJWTManager("iss", "aud", "differentsecretdifferentsecret12")
	token, err := signer.SignAccessToken("user-1", "sess-1", nil, nil, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	h := AuthMiddleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/identity/me/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed with wrong secret, got %d", rr.Code)
	}
}
