package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
)

type SessionView struct {
	ID             string     `json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	DeviceID       string     `json:"device_id"`
	UserAgent      string     `json:"user_agent"`
	IP             string     `json:"ip"`
	IsMfaComplete  bool       `json:"is_mfa_complete"`
	IsCurrent      bool       `json:"is_current"`
}

// SessionManager owns the session lifecycle: create, validate, extend, MFA
// completion, revocation, and expiry sweeps. Revocation never deletes rows.
type SessionManager struct {
	sessionRepo repository.SessionRepository
	jwtMgr      *security.JWTManager
	accessTTL   time.Duration
}

func NewSessionManager(sessionRepo repository.SessionRepository, jwtMgr *security.JWTManager, accessTTL time.Duration) *SessionManager {
	return &SessionManager{
		sessionRepo: sessionRepo,
		jwtMgr:      jwtMgr,
		accessTTL:   accessTTL,
	}
}

func (s *SessionManager) Create(userID string, ttl time.Duration, dev DeviceInfo) (*domain.Session, error) {
	if userID == "" {
		return nil, fault.InvalidState("session requires a user id")
	}
	if ttl <= 0 {
		return nil, fault.InvalidState("session ttl must be positive")
	}
	now := time.Now().UTC()
	session := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		DeviceID:       dev.DeviceID,
		UserAgent:      dev.UserAgent,
		IP:             dev.IP,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "create session", err)
	}
	observability.RecordSessionEvent("create", "success")
	return session, nil
}

// Validate reports whether the session can authenticate requests right now.
// A missing session is simply not valid; callers that need to distinguish
// absence use Get.
func (s *SessionManager) Validate(id string) (bool, error) {
	session, err := s.sessionRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindTransient, "load session", err)
	}
	return session.Active(time.Now().UTC()), nil
}

func (s *SessionManager) Get(id string) (*domain.Session, error) {
	session, err := s.sessionRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, fault.NotFound("session not found")
		}
		return nil, fault.Wrap(fault.KindTransient, "load session", err)
	}
	return session, nil
}

func (s *SessionManager) Extend(id string, newExpiry time.Time) error {
	if !newExpiry.After(time.Now().UTC()) {
		return fault.InvalidState("new expiry must be in the future")
	}
	if err := s.sessionRepo.Extend(id, newExpiry.UTC()); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return fault.NotFound("session not found or revoked")
		}
		return fault.Wrap(fault.KindTransient, "extend session", err)
	}
	return nil
}

func (s *SessionManager) TouchActivity(id string) error {
	if err := s.sessionRepo.TouchActivity(id, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return fault.NotFound("session not found or revoked")
		}
		return fault.Wrap(fault.KindTransient, "touch session", err)
	}
	return nil
}

func (s *SessionManager) MarkMfaComplete(id string) error {
	if err := s.sessionRepo.MarkMfaComplete(id); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return fault.NotFound("session not found or revoked")
		}
		return fault.Wrap(fault.KindTransient, "mark mfa complete", err)
	}
	observability.RecordSessionEvent("mfa_complete", "success")
	return nil
}

// Revoke marks the session revoked. Revoking an already-revoked session is
// reported via the changed flag, not an error.
func (s *SessionManager) Revoke(id, reason string) (bool, error) {
	changed, err := s.sessionRepo.Revoke(id, reason)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, fault.NotFound("session not found")
		}
		return false, fault.Wrap(fault.KindTransient, "revoke session", err)
	}
	if changed {
		observability.RecordSessionEvent("revoke", "success")
	}
	return changed, nil
}

func (s *SessionManager) RevokeAll(userID string, exceptIDs []string, reason string) (int64, error) {
	n, err := s.sessionRepo.RevokeAllForUser(userID, exceptIDs, reason)
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "revoke all sessions", err)
	}
	observability.RecordSessionEvent("revoke_all", "success")
	return n, nil
}

// RevokeExpired is called by the maintenance scheduler; rows are marked
// revoked with reason "expired" and kept for audit.
func (s *SessionManager) RevokeExpired() (int64, error) {
	n, err := s.sessionRepo.RevokeExpired()
	if err != nil {
		return 0, fault.Wrap(fault.KindTransient, "revoke expired sessions", err)
	}
	return n, nil
}

func (s *SessionManager) ListActive(userID, currentSessionID string) ([]SessionView, error) {
	sessions, err := s.sessionRepo.ListActiveByUserID(userID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "list sessions", err)
	}
	views := make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, SessionView{
			ID:             session.ID,
			CreatedAt:      session.CreatedAt,
			ExpiresAt:      session.ExpiresAt,
			LastActivityAt: session.LastActivityAt,
			RevokedAt:      session.RevokedAt,
			DeviceID:       session.DeviceID,
			UserAgent:      session.UserAgent,
			IP:             session.IP,
			IsMfaComplete:  session.IsMfaComplete,
			IsCurrent:      session.ID == currentSessionID,
		})
	}
	return views, nil
}

// MintAccessToken signs a short-lived JWT bound to the session via the
// session_id claim. The session must still be active.
func (s *SessionManager) MintAccessToken(sessionID string, roles, permissions []string) (string, error) {
	session, err := s.Get(sessionID)
	if err != nil {
		return "", err
	}
	if !session.Active(time.Now().UTC()) {
		return "", fault.InvalidState("session expired or revoked")
	}
	token, err := s.jwtMgr.SignAccessToken(session.UserID, session.ID, roles, permissions, s.accessTTL)
	if err != nil {
		return "", fault.Wrap(fault.KindTransient, "sign access token", err)
	}
	return token, nil
}
