package repository

import (
	"context"
	"errors"
	"time"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/observability"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Create(s *domain.Session) error
	FindByID(id string) (*domain.Session, error)
	ListActiveByUserID(userID string) ([]domain.Session, error)
	Extend(id string, newExpiry time.Time) error
	TouchActivity(id string, at time.Time) error
	MarkMfaComplete(id string) error
	Revoke(id, reason string) (bool, error)
	RevokeAllForUser(userID string, exceptIDs []string, reason string) (int64, error)
	RevokeExpired() (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(s *domain.Session) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindByID(id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(userID string) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.Where("user_id = ? AND revoked = ? AND expires_at > ?", userID, false, time.Now()).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) Extend(id string, newExpiry time.Time) error {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND revoked = ?", id, false).
		Update("expires_at", newExpiry)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "extend", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "session", "extend", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "extend", "success")
	return nil
}

func (r *GormSessionRepository) TouchActivity(id string, at time.Time) error {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND revoked = ?", id, false).
		Update("last_activity_at", at)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch_activity", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "session", "touch_activity", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "touch_activity", "success")
	return nil
}

func (r *GormSessionRepository) MarkMfaComplete(id string) error {
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND revoked = ?", id, false).
		Update("is_mfa_complete", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "mark_mfa_complete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "session", "mark_mfa_complete", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "mark_mfa_complete", "success")
	return nil
}

// Revoke flips a session once. The second return is false when the session
// was already revoked; revoked rows stay immutable except for the reason set
// on that first transition.
func (r *GormSessionRepository) Revoke(id, reason string) (bool, error) {
	if _, err := r.FindByID(id); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res := r.db.Model(&domain.Session{}).
		Where("id = ? AND revoked = ?", id, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revocation_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) RevokeAllForUser(userID string, exceptIDs []string, reason string) (int64, error) {
	now := time.Now().UTC()
	q := r.db.Model(&domain.Session{}).Where("user_id = ? AND revoked = ?", userID, false)
	if len(exceptIDs) > 0 {
		q = q.Where("id NOT IN ?", exceptIDs)
	}
	res := q.Updates(map[string]any{"revoked": true, "revoked_at": now, "revocation_reason": reason})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_all_for_user", "success")
	return res.RowsAffected, nil
}

// RevokeExpired marks expired-but-unrevoked sessions as revoked in one
// statement. Rows are kept for audit, never deleted.
func (r *GormSessionRepository) RevokeExpired() (int64, error) {
	now := time.Now().UTC()
	res := r.db.Model(&domain.Session{}).
		Where("revoked = ? AND expires_at <= ?", false, now).
		Updates(map[string]any{"revoked": true, "revoked_at": now, "revocation_reason": "expired"})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "session", "revoke_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "session", "revoke_expired", "success")
	return res.RowsAffected, nil
}
