package service

import (
	"errors"

	"github.com/google/uuid"
	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
	"github.com/transferwave/identity-core/internal/security"
)

// CredentialService stores organization cloud secrets as AEAD envelopes and
// decrypts on read. Plaintext is never cached or persisted; a tag mismatch on
// decrypt surfaces as TamperDetected and nothing else.
type CredentialService struct {
	credRepo repository.CredentialRepository
	vault    *security.Vault
}

func NewCredentialService(credRepo repository.CredentialRepository, vault *security.Vault) *CredentialService {
	return &CredentialService{credRepo: credRepo, vault: vault}
}

type StoreCredentialInput struct {
	OrganizationID  string
	CloudProviderID string
	Name            string
	CredentialType  string
	Payload         []byte
	IsDefault       bool
}

func (s *CredentialService) Store(in StoreCredentialInput) (*domain.OrganizationCloudCredential, error) {
	if in.OrganizationID == "" || in.CloudProviderID == "" {
		return nil, fault.InvalidState("credential requires organization and provider ids")
	}
	envelope, err := s.vault.EncryptToJSON(in.Payload)
	if err != nil {
		observability.RecordVaultEvent("encrypt", "error")
		return nil, fault.Wrap(fault.KindTransient, "encrypt credential payload", err)
	}
	observability.RecordVaultEvent("encrypt", "success")
	cred := &domain.OrganizationCloudCredential{
		ID:               uuid.NewString(),
		OrganizationID:   in.OrganizationID,
		CloudProviderID:  in.CloudProviderID,
		Name:             in.Name,
		CredentialType:   in.CredentialType,
		EncryptedPayload: envelope,
		Status:           domain.CredentialActive,
		IsDefault:        in.IsDefault,
	}
	if err := s.credRepo.Create(cred); err != nil {
		return nil, fault.Wrap(fault.KindTransient, "store credential", err)
	}
	return cred, nil
}

// DecryptedCredential pairs the row metadata with its decrypted payload.
type DecryptedCredential struct {
	Credential *domain.OrganizationCloudCredential
	Payload    []byte
}

// GetDefaultCredential selects the default active credential for the pair and
// decrypts it. Absence is NotFound, a corrupt envelope is TamperDetected.
func (s *CredentialService) GetDefaultCredential(organizationID, providerID string) (*DecryptedCredential, error) {
	cred, err := s.credRepo.FindDefault(organizationID, providerID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, fault.NotFound("no default credential")
		}
		return nil, fault.Wrap(fault.KindTransient, "load default credential", err)
	}
	return s.decrypt(cred)
}

// GetAnyActiveCredential prefers the default but falls back to the oldest
// active credential for the pair.
func (s *CredentialService) GetAnyActiveCredential(organizationID, providerID string) (*DecryptedCredential, error) {
	cred, err := s.credRepo.FindAnyActive(organizationID, providerID)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, fault.NotFound("no active credential")
		}
		return nil, fault.Wrap(fault.KindTransient, "load active credential", err)
	}
	return s.decrypt(cred)
}

func (s *CredentialService) Get(id string) (*DecryptedCredential, error) {
	cred, err := s.credRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return nil, fault.NotFound("credential not found")
		}
		return nil, fault.Wrap(fault.KindTransient, "load credential", err)
	}
	return s.decrypt(cred)
}

func (s *CredentialService) decrypt(cred *domain.OrganizationCloudCredential) (*DecryptedCredential, error) {
	payload, err := s.vault.DecryptFromJSON(cred.EncryptedPayload)
	if err != nil {
		if fault.IsKind(err, fault.KindTamperDetected) {
			observability.RecordVaultEvent("decrypt", "tamper")
			return nil, err
		}
		observability.RecordVaultEvent("decrypt", "error")
		return nil, err
	}
	observability.RecordVaultEvent("decrypt", "success")
	return &DecryptedCredential{Credential: cred, Payload: payload}, nil
}

// SetDefault promotes the credential and demotes every sibling of the same
// (organization, provider) pair in one transaction.
func (s *CredentialService) SetDefault(credentialID string) error {
	if err := s.credRepo.SetDefault(credentialID); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return fault.NotFound("credential not found")
		}
		return fault.Wrap(fault.KindTransient, "set default credential", err)
	}
	return nil
}

func (s *CredentialService) Deactivate(credentialID string) error {
	if err := s.credRepo.UpdateStatus(credentialID, domain.CredentialInactive); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return fault.NotFound("credential not found")
		}
		return fault.Wrap(fault.KindTransient, "deactivate credential", err)
	}
	return nil
}

func (s *CredentialService) List(organizationID, providerID string) ([]domain.OrganizationCloudCredential, error) {
	creds, err := s.credRepo.ListByOrgProvider(organizationID, providerID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "list credentials", err)
	}
	return creds, nil
}

// ListPaged is the admin-facing listing; encrypted payloads stay opaque.
func (s *CredentialService) ListPaged(query repository.CredentialListQuery) (repository.PageResult[domain.OrganizationCloudCredential], error) {
	page, err := s.credRepo.ListByOrgPaged(query)
	if err != nil {
		return repository.PageResult[domain.OrganizationCloudCredential]{}, fault.Wrap(fault.KindTransient, "list credentials", err)
	}
	return page, nil
}

func (s *CredentialService) Delete(credentialID string) error {
	if err := s.credRepo.Delete(credentialID); err != nil {
		if errors.Is(err, repository.ErrCredentialNotFound) {
			return fault.NotFound("credential not found")
		}
		return fault.Wrap(fault.KindTransient, "delete credential", err)
	}
	return nil
}
