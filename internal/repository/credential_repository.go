package repository

import (
	"context"
	"errors"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/observability"

	"gorm.io/gorm"
)

var ErrCredentialNotFound = errors.New("cloud credential not found")

type CredentialListQuery struct {
	PageRequest
	OrganizationID  string
	CloudProviderID string
	Status          domain.CredentialStatus
}

type CredentialRepository interface {
	Create(c *domain.OrganizationCloudCredential) error
	FindByID(id string) (*domain.OrganizationCloudCredential, error)
	ListByOrgProvider(organizationID, providerID string) ([]domain.OrganizationCloudCredential, error)
	ListByOrgPaged(query CredentialListQuery) (PageResult[domain.OrganizationCloudCredential], error)
	FindDefault(organizationID, providerID string) (*domain.OrganizationCloudCredential, error)
	FindAnyActive(organizationID, providerID string) (*domain.OrganizationCloudCredential, error)
	// SetDefault clears every other default for the credential's
	// (organization, provider) pair and sets the target, as one transaction.
	SetDefault(id string) error
	UpdateStatus(id string, status domain.CredentialStatus) error
	Delete(id string) error
}

type GormCredentialRepository struct{ db *gorm.DB }

func NewCredentialRepository(db *gorm.DB) CredentialRepository {
	return &GormCredentialRepository{db: db}
}

func (r *GormCredentialRepository) Create(c *domain.OrganizationCloudCredential) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if c.IsDefault {
			// An incoming default displaces any existing one atomically.
			if err := tx.Model(&domain.OrganizationCloudCredential{}).
				Where("organization_id = ? AND cloud_provider_id = ? AND is_default = ?",
					c.OrganizationID, c.CloudProviderID, true).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(c).Error
	})
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "create", "success")
	return nil
}

func (r *GormCredentialRepository) FindByID(id string) (*domain.OrganizationCloudCredential, error) {
	var c domain.OrganizationCloudCredential
	err := r.db.Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_by_id", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_by_id", "success")
	return &c, nil
}

func (r *GormCredentialRepository) ListByOrgProvider(organizationID, providerID string) ([]domain.OrganizationCloudCredential, error) {
	var creds []domain.OrganizationCloudCredential
	err := r.db.Where("organization_id = ? AND cloud_provider_id = ?", organizationID, providerID).
		Order("created_at").
		Find(&creds).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "list_by_org_provider", "error")
		return creds, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "list_by_org_provider", "success")
	return creds, nil
}

func (r *GormCredentialRepository) ListByOrgPaged(query CredentialListQuery) (PageResult[domain.OrganizationCloudCredential], error) {
	req := normalizePageRequest(query.PageRequest)
	result := PageResult[domain.OrganizationCloudCredential]{
		Page:     req.Page,
		PageSize: req.PageSize,
	}

	base := r.db.Model(&domain.OrganizationCloudCredential{}).
		Where("organization_id = ?", query.OrganizationID)
	if query.CloudProviderID != "" {
		base = base.Where("cloud_provider_id = ?", query.CloudProviderID)
	}
	if query.Status != "" {
		base = base.Where("status = ?", query.Status)
	}

	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "list_paged", "error")
		return PageResult[domain.OrganizationCloudCredential]{}, err
	}

	offset := (req.Page - 1) * req.PageSize
	if err := base.Order("created_at").Offset(offset).Limit(req.PageSize).Find(&result.Items).Error; err != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "list_paged", "error")
		return PageResult[domain.OrganizationCloudCredential]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "list_paged", "success")
	return result, nil
}

func (r *GormCredentialRepository) FindDefault(organizationID, providerID string) (*domain.OrganizationCloudCredential, error) {
	var c domain.OrganizationCloudCredential
	err := r.db.Where("organization_id = ? AND cloud_provider_id = ? AND is_default = ? AND status = ?",
		organizationID, providerID, true, domain.CredentialActive).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_default", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_default", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_default", "success")
	return &c, nil
}

func (r *GormCredentialRepository) FindAnyActive(organizationID, providerID string) (*domain.OrganizationCloudCredential, error) {
	var c domain.OrganizationCloudCredential
	err := r.db.Where("organization_id = ? AND cloud_provider_id = ? AND status = ?",
		organizationID, providerID, domain.CredentialActive).
		Order("is_default DESC, created_at").
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_any_active", "not_found")
			return nil, ErrCredentialNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_any_active", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "find_any_active", "success")
	return &c, nil
}

func (r *GormCredentialRepository) SetDefault(id string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var c domain.OrganizationCloudCredential
		err := tx.Where("id = ?", id).First(&c).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCredentialNotFound
			}
			return err
		}
		if err := tx.Model(&domain.OrganizationCloudCredential{}).
			Where("organization_id = ? AND cloud_provider_id = ? AND id <> ? AND is_default = ?",
				c.OrganizationID, c.CloudProviderID, id, true).
			Update("is_default", false).Error; err != nil {
			return err
		}
		return tx.Model(&domain.OrganizationCloudCredential{}).
			Where("id = ?", id).
			Update("is_default", true).Error
	})
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "set_default", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "set_default", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "set_default", "success")
	return nil
}

func (r *GormCredentialRepository) UpdateStatus(id string, status domain.CredentialStatus) error {
	res := r.db.Model(&domain.OrganizationCloudCredential{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "update_status", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "update_status", "not_found")
		return ErrCredentialNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "update_status", "success")
	return nil
}

func (r *GormCredentialRepository) Delete(id string) error {
	res := r.db.Delete(&domain.OrganizationCloudCredential{}, "id = ?", id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "delete", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "delete", "not_found")
		return ErrCredentialNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "cloud_credential", "delete", "success")
	return nil
}
