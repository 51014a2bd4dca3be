package repository

import (
	"context"
	"errors"
	"time"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrTokenNotFound    = errors.New("refresh token not found")
	ErrTokenAlreadyUsed = errors.New("refresh token already used")
)

type RefreshTokenRepository interface {
	Create(t *domain.RefreshToken) error
	FindByID(id string) (*domain.RefreshToken, error)
	FindByLookupDigest(digest string) (*domain.RefreshToken, error)
	// Redeem flips IsUsed exactly once under a row lock. A concurrent loser
	// gets ErrTokenAlreadyUsed.
	Redeem(id string) (*domain.RefreshToken, error)
	Revoke(id string) error
	RevokeAllForUser(userID string) (int64, error)
	Cleanup(usedRetention time.Duration) (int64, error)
}

type GormRefreshTokenRepository struct{ db *gorm.DB }

func NewRefreshTokenRepository(db *gorm.DB) RefreshTokenRepository {
	return &GormRefreshTokenRepository{db: db}
}

func (r *GormRefreshTokenRepository) Create(t *domain.RefreshToken) error {
	err := r.db.Create(t).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "create", "success")
	return nil
}

func (r *GormRefreshTokenRepository) FindByID(id string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.Where("id = ?", id).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_id", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) FindByLookupDigest(digest string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.Where("lookup_digest = ?", digest).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_digest", "not_found")
			return nil, ErrTokenNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_digest", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "find_by_digest", "success")
	return &t, nil
}

func (r *GormRefreshTokenRepository) Redeem(id string) (*domain.RefreshToken, error) {
	// The guarded update is the linearization point: of any number of
	// concurrent redeemers, exactly one sees RowsAffected=1.
	now := time.Now().UTC()
	res := r.db.Model(&domain.RefreshToken{}).
		Where("id = ? AND is_used = ?", id, false).
		Updates(map[string]any{"is_used": true, "used_at": now})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		var t domain.RefreshToken
		lookupErr := r.db.Where("id = ?", id).First(&t).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			err = ErrTokenNotFound
		case lookupErr != nil:
			err = lookupErr
		default:
			err = ErrTokenAlreadyUsed
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "redeem", "not_found")
		case errors.Is(err, ErrTokenAlreadyUsed):
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "redeem", "already_used")
		default:
			observability.RecordRepositoryOperation(context.Background(), "refresh_token", "redeem", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "redeem", "success")
	var redeemed domain.RefreshToken
	if err := r.db.Where("id = ?", id).First(&redeemed).Error; err != nil {
		return nil, err
	}
	return &redeemed, nil
}

func (r *GormRefreshTokenRepository) Revoke(id string) error {
	res := r.db.Model(&domain.RefreshToken{}).
		Where("id = ?", id).
		Update("is_revoked", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke", "not_found")
		return ErrTokenNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke", "success")
	return nil
}

func (r *GormRefreshTokenRepository) RevokeAllForUser(userID string) (int64, error) {
	res := r.db.Model(&domain.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Update("is_revoked", true)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "revoke_all_for_user", "success")
	return res.RowsAffected, nil
}

// Cleanup deletes tokens that expired, plus used tokens older than the
// retention window. Single statement so the transaction stays short.
func (r *GormRefreshTokenRepository) Cleanup(usedRetention time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-usedRetention)
	res := r.db.
		Where("expires_at <= ? OR (is_used = ? AND used_at <= ?)", now, true, cutoff).
		Delete(&domain.RefreshToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "refresh_token", "cleanup", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "refresh_token", "cleanup", "success")
	return res.RowsAffected, nil
}
