package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

type sessionView struct {
	ID        string `json:"id"`
	IsCurrent bool   `json:"is_current"`
	DeviceID  string `json:"device_id"`
}

func listSessions(t *testing.T, srv *identityServer, token string) []sessionView {
	t.Helper()
	resp, env := doJSON(t, srv.Client, http.MethodGet, srv.URL+"/identity/me/sessions", token, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("list sessions: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var data struct {
		Sessions []sessionView `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	return data.Sessions
}

func TestSessionListAndRevokeByDevice(t *testing.T) {
	srv := newIdentityServer(t)

	laptopID, laptopToken := srv.login(t, "user-1", "laptop")
	phoneID, phoneToken := srv.login(t, "user-1", "phone")

	views := listSessions(t, srv, laptopToken)
	if len(views) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(views))
	}
	for _, v := range views {
		if v.ID == laptopID && !v.IsCurrent {
			t.Fatal("the caller's session was not marked current")
		}
		if v.ID == phoneID && v.IsCurrent {
			t.Fatal("a foreign device session was marked current")
		}
	}

	// Revoke the phone session from the laptop.
	resp, env := doJSON(t, srv.Client, http.MethodDelete, srv.URL+"/identity/me/sessions/"+phoneID, laptopToken, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("revoke: status=%d success=%v", resp.StatusCode, env.Success)
	}

	views = listSessions(t, srv, laptopToken)
	if len(views) != 1 || views[0].ID != laptopID {
		t.Fatalf("after revoke sessions = %+v", views)
	}

	// The phone's token is now bound to a revoked session.
	resp, env = doJSON(t, srv.Client, http.MethodGet, srv.URL+"/identity/me/sessions", phoneToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked session token accepted: status=%d", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error envelope = %+v", env.Error)
	}
}

func TestSessionRevokeIsScopedToOwner(t *testing.T) {
	srv := newIdentityServer(t)

	victimID, victimToken := srv.login(t, "user-1", "laptop")
	_, attackerToken := srv.login(t, "user-2", "laptop")

	// Another user revoking by guessed ID sees 404, not 403, so session IDs
	// stay unconfirmed.
	resp, env := doJSON(t, srv.Client, http.MethodDelete, srv.URL+"/identity/me/sessions/"+victimID, attackerToken, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-user revoke: status=%d", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("error envelope = %+v", env.Error)
	}

	// The victim's session is untouched.
	if views := listSessions(t, srv, victimToken); len(views) != 1 {
		t.Fatalf("victim sessions = %d, want 1", len(views))
	}
}

func TestSessionEndpointsRequireToken(t *testing.T) {
	srv := newIdentityServer(t)

	resp, env := doJSON(t, srv.Client, http.MethodGet, srv.URL+"/identity/me/sessions", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: status=%d", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error envelope = %+v", env.Error)
	}

	resp, _ = doJSON(t, srv.Client, http.MethodGet, srv.URL+"/identity/me/sessions", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status=%d", resp.StatusCode)
	}
}
