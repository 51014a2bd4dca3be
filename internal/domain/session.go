package domain

import "time"

// Session is the server-side record for one authenticated device context.
// Sessions are never physically deleted; revocation keeps the row for audit.
type Session struct {
	ID               string     `gorm:"primaryKey;size:36" json:"id"`
	UserID           string     `gorm:"size:36;index;not null" json:"user_id"`
	DeviceID         string     `gorm:"size:128" json:"device_id"`
	UserAgent        string     `gorm:"size:512" json:"user_agent"`
	IP               string     `gorm:"size:64" json:"ip"`
	SessionData      string     `gorm:"type:text" json:"-"`
	IsMfaComplete    bool       `gorm:"not null;default:false" json:"is_mfa_complete"`
	Revoked          bool       `gorm:"not null;default:false;index" json:"revoked"`
	RevocationReason *string    `gorm:"size:64" json:"revocation_reason,omitempty"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expires_at"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	RevokedAt        *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Active reports whether the session can still authenticate requests.
func (s *Session) Active(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// RefreshToken stores no plaintext secret. LookupDigest is a deterministic
// keyed hash used for O(1) redemption lookup; TokenHash is the slow at-rest
// verifier checked after lookup succeeds.
type RefreshToken struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	UserID       string     `gorm:"size:36;index;not null" json:"user_id"`
	LookupDigest string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	TokenHash    string     `gorm:"size:128;not null" json:"-"`
	ClientID     *string    `gorm:"size:64" json:"client_id,omitempty"`
	Scope        *string    `gorm:"size:256" json:"scope,omitempty"`
	IsUsed       bool       `gorm:"not null;default:false;index" json:"is_used"`
	IsRevoked    bool       `gorm:"not null;default:false;index" json:"is_revoked"`
	UsedAt       *time.Time `json:"used_at,omitempty"`
	ExpiresAt    time.Time  `gorm:"index;not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Redeemable reports whether the token can still be exchanged.
func (t *RefreshToken) Redeemable(now time.Time) bool {
	return !t.IsUsed && !t.IsRevoked && now.Before(t.ExpiresAt)
}
