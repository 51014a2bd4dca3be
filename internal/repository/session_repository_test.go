package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/transferwave/identity-core/internal/domain"
)

func newTestSession(userID string, expires time.Time) *domain.Session {
	return &domain.Session{
		ID:             newID(),
		UserID:         userID,
		DeviceID:       "device-1",
		ExpiresAt:      expires,
		LastActivityAt: time.Now().UTC(),
	}
}

func TestSessionRepositoryListActiveByUserID(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	active := newTestSession("u1", time.Now().Add(2*time.Hour))
	expired := newTestSession("u1", time.Now().Add(-time.Hour))
	otherUser := newTestSession("u2", time.Now().Add(2*time.Hour))
	revoked := newTestSession("u1", time.Now().Add(2*time.Hour))

	for _, s := range []*domain.Session{active, expired, otherUser, revoked} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if _, err := repo.Revoke(revoked.ID, "test"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	sessions, err := repo.ListActiveByUserID("u1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 active session, got %d", len(sessions))
	}
	if sessions[0].ID != active.ID {
		t.Fatalf("unexpected active session: %+v", sessions[0])
	}
}

func TestSessionRepositoryRevokeOnce(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	s := newTestSession("u1", time.Now().Add(time.Hour))
	if err := repo.Create(s); err != nil {
		t.Fatalf("create: %v", err)
	}

	changed, err := repo.Revoke(s.ID, "logout")
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true on first revoke")
	}

	changed, err = repo.Revoke(s.ID, "logout")
	if err != nil {
		t.Fatalf("idempotent revoke: %v", err)
	}
	if changed {
		t.Fatal("expected changed=false on already revoked session")
	}

	got, err := repo.FindByID(s.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !got.Revoked || got.RevocationReason == nil || *got.RevocationReason != "logout" {
		t.Fatalf("revocation not persisted: %+v", got)
	}

	if _, err := repo.Revoke("missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("revoke missing: got %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepositoryRevokedSessionImmutable(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	s := newTestSession("u1", time.Now().Add(time.Hour))
	if err := repo.Create(s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Revoke(s.ID, "compromised"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if err := repo.Extend(s.ID, time.Now().Add(4*time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("extend revoked: got %v, want ErrSessionNotFound", err)
	}
	if err := repo.MarkMfaComplete(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("mfa complete on revoked: got %v, want ErrSessionNotFound", err)
	}
	if err := repo.TouchActivity(s.ID, time.Now()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("touch revoked: got %v, want ErrSessionNotFound", err)
	}
}

func TestSessionRepositoryRevokeAllForUserWithExceptions(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	keep := newTestSession("u1", time.Now().Add(time.Hour))
	drop1 := newTestSession("u1", time.Now().Add(time.Hour))
	drop2 := newTestSession("u1", time.Now().Add(time.Hour))
	other := newTestSession("u2", time.Now().Add(time.Hour))
	for _, s := range []*domain.Session{keep, drop1, drop2, other} {
		if err := repo.Create(s); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	count, err := repo.RevokeAllForUser("u1", []string{keep.ID}, "revoke_others")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if count != 2 {
		t.Fatalf("revoked %d sessions, want 2", count)
	}

	kept, err := repo.FindByID(keep.ID)
	if err != nil {
		t.Fatalf("find kept: %v", err)
	}
	if kept.Revoked {
		t.Fatal("excepted session was revoked")
	}
	unrelated, err := repo.FindByID(other.ID)
	if err != nil {
		t.Fatalf("find other user: %v", err)
	}
	if unrelated.Revoked {
		t.Fatal("other user's session was revoked")
	}
}

func TestSessionRepositoryRevokeExpired(t *testing.T) {
	repo := NewSessionRepository(openTestDB(t))

	live := newTestSession("u1", time.Now().Add(time.Hour))
	stale := newTestSession("u1", time.Now().Add(-time.Minute))
	if err := repo.Create(live); err != nil {
		t.Fatalf("create live: %v", err)
	}
	if err := repo.Create(stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}

	count, err := repo.RevokeExpired()
	if err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	if count != 1 {
		t.Fatalf("revoked %d sessions, want 1", count)
	}

	// The expired row stays readable for audit.
	got, err := repo.FindByID(stale.ID)
	if err != nil {
		t.Fatalf("find stale: %v", err)
	}
	if !got.Revoked || got.RevocationReason == nil || *got.RevocationReason != "expired" {
		t.Fatalf("expired session not marked: %+v", got)
	}
}
