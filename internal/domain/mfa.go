package domain

import "time"

type MfaMethodType string

const (
	MfaMethodTOTP          MfaMethodType = "TOTP"
	MfaMethodSMS           MfaMethodType = "SMS"
	MfaMethodEmail         MfaMethodType = "EMAIL"
	MfaMethodPush          MfaMethodType = "PUSH"
	MfaMethodRecoveryCodes MfaMethodType = "RECOVERY_CODES"
	MfaMethodWebAuthn      MfaMethodType = "WEBAUTHN"
)

type MfaMethodStatus string

const (
	MfaMethodActive   MfaMethodStatus = "ACTIVE"
	MfaMethodInactive MfaMethodStatus = "INACTIVE"
	MfaMethodPending  MfaMethodStatus = "PENDING"
	MfaMethodRevoked  MfaMethodStatus = "REVOKED"
)

// MfaMethod is one enrolled second factor. At most one row exists per
// (UserID, Type).
type MfaMethod struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	UserID      string          `gorm:"size:36;index:idx_mfa_user_type,unique;not null" json:"user_id"`
	Type        MfaMethodType   `gorm:"size:20;index:idx_mfa_user_type,unique;not null" json:"type"`
	Status      MfaMethodStatus `gorm:"size:20;not null;default:PENDING" json:"status"`
	Secret      []byte          `gorm:"type:blob" json:"-"`
	PhoneNumber *string         `gorm:"size:32" json:"phone_number,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// BackupCode is a single-use recovery credential. Only the hash is stored;
// plaintext codes are shown to the user exactly once at issue time.
type BackupCode struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"size:36;index;not null" json:"user_id"`
	CodeHash  string     `gorm:"size:128;not null" json:"-"`
	Used      bool       `gorm:"not null;default:false;index" json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type MfaSessionStatus string

const (
	MfaSessionPending   MfaSessionStatus = "PENDING"
	MfaSessionCompleted MfaSessionStatus = "COMPLETED"
	MfaSessionExpired   MfaSessionStatus = "EXPIRED"
	MfaSessionFailed    MfaSessionStatus = "FAILED"
	MfaSessionCancelled MfaSessionStatus = "CANCELLED"
)

// Terminal reports whether no further transition out of the status is
// allowed. FAILED is re-enterable and EXPIRED is decided lazily, so only
// COMPLETED and CANCELLED are terminal here.
func (s MfaSessionStatus) Terminal() bool {
	return s == MfaSessionCompleted || s == MfaSessionCancelled
}

// MfaSession tracks one second-factor challenge attempt bound to a Session.
type MfaSession struct {
	ID            string           `gorm:"primaryKey;size:36" json:"id"`
	UserID        string           `gorm:"size:36;index;not null" json:"user_id"`
	SessionID     string           `gorm:"size:36;index;not null" json:"session_id"`
	MethodID      *string          `gorm:"size:36" json:"method_id,omitempty"`
	Status        MfaSessionStatus `gorm:"size:20;not null;default:PENDING" json:"status"`
	ChallengeID   *string          `gorm:"size:64" json:"challenge_id,omitempty"`
	ChallengeHash *string          `gorm:"size:128" json:"-"`
	AttemptCount  int              `gorm:"not null;default:0" json:"attempt_count"`
	ExpiresAt     time.Time        `gorm:"index;not null" json:"expires_at"`
	VerifiedAt    *time.Time       `json:"verified_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// WebAuthnCredential holds a registered authenticator public key. SignCount
// must strictly increase on every assertion; a non-increasing counter is
// treated as a cloned-authenticator replay signal.
type WebAuthnCredential struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	UserID       string    `gorm:"size:36;index;not null" json:"user_id"`
	CredentialID string    `gorm:"size:256;uniqueIndex;not null" json:"credential_id"`
	PublicKey    []byte    `gorm:"type:blob;not null" json:"-"`
	SignCount    uint32    `gorm:"not null;default:0" json:"sign_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
