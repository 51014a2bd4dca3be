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
	ErrMfaMethodNotFound    = errors.New("mfa method not found")
	ErrMfaMethodExists      = errors.New("mfa method already enrolled for type")
	ErrMfaSessionNotFound   = errors.New("mfa session not found")
	ErrBackupCodeNotFound   = errors.New("no matching unused backup code")
	ErrWebAuthnCredNotFound = errors.New("webauthn credential not found")
	ErrStaleSignCount       = errors.New("webauthn sign count did not increase")
)

type MfaMethodRepository interface {
	Create(m *domain.MfaMethod) error
	FindByID(id string) (*domain.MfaMethod, error)
	FindByUserAndType(userID string, t domain.MfaMethodType) (*domain.MfaMethod, error)
	ListByUser(userID string) ([]domain.MfaMethod, error)
	UpdateStatus(id string, status domain.MfaMethodStatus) error
}

type GormMfaMethodRepository struct{ db *gorm.DB }

func NewMfaMethodRepository(db *gorm.DB) MfaMethodRepository {
	return &GormMfaMethodRepository{db: db}
}

func (r *GormMfaMethodRepository) Create(m *domain.MfaMethod) error {
	err := r.db.Create(m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "mfa_method", "create", "conflict")
			return ErrMfaMethodExists
		}
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_method", "create", "success")
	return nil
}

func (r *GormMfaMethodRepository) FindByID(id string) (*domain.MfaMethod, error) {
	var m domain.MfaMethod
	err := r.db.Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_id", "not_found")
			return nil, ErrMfaMethodNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_id", "success")
	return &m, nil
}

func (r *GormMfaMethodRepository) FindByUserAndType(userID string, t domain.MfaMethodType) (*domain.MfaMethod, error) {
	var m domain.MfaMethod
	err := r.db.Where("user_id = ? AND type = ?", userID, t).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_user_type", "not_found")
			return nil, ErrMfaMethodNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_user_type", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_method", "find_by_user_type", "success")
	return &m, nil
}

func (r *GormMfaMethodRepository) ListByUser(userID string) ([]domain.MfaMethod, error) {
	var methods []domain.MfaMethod
	err := r.db.Where("user_id = ?", userID).Find(&methods).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "list_by_user", "error")
		return methods, err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_method", "list_by_user", "success")
	return methods, nil
}

func (r *GormMfaMethodRepository) UpdateStatus(id string, status domain.MfaMethodStatus) error {
	res := r.db.Model(&domain.MfaMethod{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "update_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "mfa_method", "update_status", "not_found")
		return ErrMfaMethodNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_method", "update_status", "success")
	return nil
}

type MfaSessionRepository interface {
	Create(s *domain.MfaSession) error
	FindByID(id string) (*domain.MfaSession, error)
	// SetStatus writes the new status only when the current status is one of
	// allowedFrom; the state machine's monotonic transitions rely on it.
	SetStatus(id string, to domain.MfaSessionStatus, allowedFrom []domain.MfaSessionStatus) (bool, error)
	Complete(id string, at time.Time) (bool, error)
	IncrementAttempt(id string) error
	SetChallenge(id, challengeID, challengeHash string) error
}

type GormMfaSessionRepository struct{ db *gorm.DB }

func NewMfaSessionRepository(db *gorm.DB) MfaSessionRepository {
	return &GormMfaSessionRepository{db: db}
}

func (r *GormMfaSessionRepository) Create(s *domain.MfaSession) error {
	err := r.db.Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "create", "success")
	return nil
}

func (r *GormMfaSessionRepository) FindByID(id string) (*domain.MfaSession, error) {
	var s domain.MfaSession
	err := r.db.Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "mfa_session", "find_by_id", "not_found")
			return nil, ErrMfaSessionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "find_by_id", "success")
	return &s, nil
}

func (r *GormMfaSessionRepository) SetStatus(id string, to domain.MfaSessionStatus, allowedFrom []domain.MfaSessionStatus) (bool, error) {
	res := r.db.Model(&domain.MfaSession{}).
		Where("id = ? AND status IN ?", id, allowedFrom).
		Update("status", to)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "set_status", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "set_status", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormMfaSessionRepository) Complete(id string, at time.Time) (bool, error) {
	res := r.db.Model(&domain.MfaSession{}).
		Where("id = ? AND status IN ?", id, []domain.MfaSessionStatus{domain.MfaSessionPending, domain.MfaSessionFailed}).
		Updates(map[string]any{"status": domain.MfaSessionCompleted, "verified_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "complete", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "complete", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormMfaSessionRepository) IncrementAttempt(id string) error {
	res := r.db.Model(&domain.MfaSession{}).
		Where("id = ?", id).
		Update("attempt_count", gorm.Expr("attempt_count + 1"))
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "increment_attempt", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "increment_attempt", "not_found")
		return ErrMfaSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "increment_attempt", "success")
	return nil
}

func (r *GormMfaSessionRepository) SetChallenge(id, challengeID, challengeHash string) error {
	res := r.db.Model(&domain.MfaSession{}).
		Where("id = ?", id).
		Updates(map[string]any{"challenge_id": challengeID, "challenge_hash": challengeHash})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "set_challenge", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "mfa_session", "set_challenge", "not_found")
		return ErrMfaSessionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "mfa_session", "set_challenge", "success")
	return nil
}

type BackupCodeRepository interface {
	// Replace swaps a user's whole code set in one transaction.
	Replace(userID string, hashes []string) error
	ListUnused(userID string) ([]domain.BackupCode, error)
	// MarkUsed flips a single code once; the second caller loses.
	MarkUsed(id string, at time.Time) (bool, error)
	CountUnused(userID string) (int64, error)
}

type GormBackupCodeRepository struct{ db *gorm.DB }

func NewBackupCodeRepository(db *gorm.DB) BackupCodeRepository {
	return &GormBackupCodeRepository{db: db}
}

func (r *GormBackupCodeRepository) Replace(userID string, hashes []string) error {
	now := time.Now().UTC()
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&domain.BackupCode{}).Error; err != nil {
			return err
		}
		codes := make([]domain.BackupCode, 0, len(hashes))
		for _, h := range hashes {
			codes = append(codes, domain.BackupCode{
				ID:        newID(),
				UserID:    userID,
				CodeHash:  h,
				CreatedAt: now,
			})
		}
		if len(codes) == 0 {
			return nil
		}
		return tx.Create(&codes).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "backup_code", "replace", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "backup_code", "replace", "success")
	return nil
}

func (r *GormBackupCodeRepository) ListUnused(userID string) ([]domain.BackupCode, error) {
	var codes []domain.BackupCode
	err := r.db.Where("user_id = ? AND used = ?", userID, false).Find(&codes).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "backup_code", "list_unused", "error")
		return codes, err
	}
	observability.RecordRepositoryOperation(context.Background(), "backup_code", "list_unused", "success")
	return codes, nil
}

func (r *GormBackupCodeRepository) MarkUsed(id string, at time.Time) (bool, error) {
	res := r.db.Model(&domain.BackupCode{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "backup_code", "mark_used", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(context.Background(), "backup_code", "mark_used", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormBackupCodeRepository) CountUnused(userID string) (int64, error) {
	var n int64
	err := r.db.Model(&domain.BackupCode{}).
		Where("user_id = ? AND used = ?", userID, false).
		Count(&n).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "backup_code", "count_unused", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(context.Background(), "backup_code", "count_unused", "success")
	return n, nil
}

type WebAuthnCredentialRepository interface {
	Create(c *domain.WebAuthnCredential) error
	FindByCredentialID(credentialID string) (*domain.WebAuthnCredential, error)
	ListByUser(userID string) ([]domain.WebAuthnCredential, error)
	// AdvanceSignCount persists the new counter only when it strictly
	// increases; a stale counter returns ErrStaleSignCount.
	AdvanceSignCount(id string, newCount uint32) error
}

type GormWebAuthnCredentialRepository struct{ db *gorm.DB }

func NewWebAuthnCredentialRepository(db *gorm.DB) WebAuthnCredentialRepository {
	return &GormWebAuthnCredentialRepository{db: db}
}

func (r *GormWebAuthnCredentialRepository) Create(c *domain.WebAuthnCredential) error {
	err := r.db.Create(c).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "create", "success")
	return nil
}

func (r *GormWebAuthnCredentialRepository) FindByCredentialID(credentialID string) (*domain.WebAuthnCredential, error) {
	var c domain.WebAuthnCredential
	err := r.db.Where("credential_id = ?", credentialID).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "find_by_credential_id", "not_found")
			return nil, ErrWebAuthnCredNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "find_by_credential_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "find_by_credential_id", "success")
	return &c, nil
}

func (r *GormWebAuthnCredentialRepository) ListByUser(userID string) ([]domain.WebAuthnCredential, error) {
	var creds []domain.WebAuthnCredential
	err := r.db.Where("user_id = ?", userID).Find(&creds).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "list_by_user", "error")
		return creds, err
	}
	observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "list_by_user", "success")
	return creds, nil
}

func (r *GormWebAuthnCredentialRepository) AdvanceSignCount(id string, newCount uint32) error {
	// Guarded update: the counter only moves forward, and concurrent
	// assertions with the same count leave one winner.
	res := r.db.Model(&domain.WebAuthnCredential{}).
		Where("id = ? AND sign_count < ?", id, newCount).
		Update("sign_count", newCount)
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		var c domain.WebAuthnCredential
		lookupErr := r.db.Where("id = ?", id).First(&c).Error
		switch {
		case errors.Is(lookupErr, gorm.ErrRecordNotFound):
			err = ErrWebAuthnCredNotFound
		case lookupErr != nil:
			err = lookupErr
		default:
			err = ErrStaleSignCount
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrWebAuthnCredNotFound):
			observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "advance_sign_count", "not_found")
		case errors.Is(err, ErrStaleSignCount):
			observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "advance_sign_count", "replay")
		default:
			observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "advance_sign_count", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "webauthn_credential", "advance_sign_count", "success")
	return nil
}
