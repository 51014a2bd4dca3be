package domain

import "time"

type CredentialStatus string

const (
	CredentialActive   CredentialStatus = "ACTIVE"
	CredentialInactive CredentialStatus = "INACTIVE"
)

// OrganizationCloudCredential stores one third-party cloud secret as an AEAD
// envelope. Plaintext never persists; EncryptedPayload is the JSON envelope
// produced by security.Vault. At most one row per (OrganizationID,
// CloudProviderID) carries IsDefault=true.
type OrganizationCloudCredential struct {
	ID               string           `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID   string           `gorm:"size:36;index:idx_cred_org_provider;not null" json:"organization_id"`
	CloudProviderID  string           `gorm:"size:36;index:idx_cred_org_provider;not null" json:"cloud_provider_id"`
	Name             string           `gorm:"size:128;not null" json:"name"`
	CredentialType   string           `gorm:"size:64;not null" json:"credential_type"`
	EncryptedPayload string           `gorm:"type:text;not null" json:"-"`
	Status           CredentialStatus `gorm:"size:20;not null;default:ACTIVE" json:"status"`
	IsDefault        bool             `gorm:"not null;default:false" json:"is_default"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
