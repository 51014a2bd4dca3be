package repository

import (
	"context"
	"errors"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/observability"
	"gorm.io/gorm"
)

var (
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrDuplicatePermission = errors.New("permission name already exists")
)

type PermissionRepository interface {
	List() ([]domain.Permission, error)
	FindByID(id string) (*domain.Permission, error)
	FindByName(name string) (*domain.Permission, error)
	Create(permission *domain.Permission) error
	DeleteByID(id string) error
}

type GormPermissionRepository struct{ db *gorm.DB }

func NewPermissionRepository(db *gorm.DB) PermissionRepository {
	return &GormPermissionRepository{db: db}
}

func (r *GormPermissionRepository) List() ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.Order("name").Find(&perms).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "permission", "list", "error")
		return perms, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "list", "success")
	return perms, nil
}

func (r *GormPermissionRepository) FindByID(id string) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.db.Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "not_found")
			return nil, ErrPermissionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_id", "success")
	return &p, nil
}

func (r *GormPermissionRepository) FindByName(name string) (*domain.Permission, error) {
	var p domain.Permission
	if err := r.db.Where("name = ?", name).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "not_found")
			return nil, ErrPermissionNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "find_by_name", "success")
	return &p, nil
}

func (r *GormPermissionRepository) Create(permission *domain.Permission) error {
	err := r.db.Create(permission).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "permission", "create", "conflict")
			return ErrDuplicatePermission
		}
		observability.RecordRepositoryOperation(context.Background(), "permission", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "create", "success")
	return nil
}

func (r *GormPermissionRepository) DeleteByID(id string) error {
	res := r.db.Delete(&domain.Permission{}, "id = ?", id)
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "not_found")
		return ErrPermissionNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "delete_by_id", "success")
	return nil
}
