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
	ErrRoleNotFound      = errors.New("role not found")
	ErrDuplicateRole     = errors.New("role name already exists in organization")
	ErrUnknownPermission = errors.New("permission id does not exist")
)

type RoleRepository interface {
	FindByID(id string) (*domain.Role, error)
	FindByName(organizationID *string, name string) (*domain.Role, error)
	List(organizationID *string) ([]domain.Role, error)
	Create(role *domain.Role, permissionIDs []string) error
	Update(role *domain.Role) error
	// DeleteByID removes the role and detaches every role-permission and
	// user-role binding in one transaction.
	DeleteByID(id string) error
	// SetPermissions replaces the role's entire permission set atomically;
	// concurrent readers never observe a partial set.
	SetPermissions(roleID string, permissionIDs []string) error
	Grant(userID, roleID string, organizationID *string) error
	RevokeGrant(userID, roleID string, organizationID *string) error
	GrantsForUser(userID string) ([]domain.UserRole, error)
	// PermissionsForUser walks user -> user_roles -> role_permissions ->
	// permissions within the given organization scope.
	PermissionsForUser(userID string, organizationID *string) ([]domain.Permission, error)
	// SystemPermissionsForUser returns permissions reachable through roles
	// granted with a nil organization whose permission is system-wide.
	SystemPermissionsForUser(userID string) ([]domain.Permission, error)
}

type GormRoleRepository struct{ db *gorm.DB }

func NewRoleRepository(db *gorm.DB) RoleRepository { return &GormRoleRepository{db: db} }

func (r *GormRoleRepository) FindByID(id string) (*domain.Role, error) {
	var role domain.Role
	err := r.db.Preload("Permissions").Where("id = ?", id).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "role", "find_by_id", "not_found")
			return nil, ErrRoleNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "role", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "find_by_id", "success")
	return &role, nil
}

func (r *GormRoleRepository) FindByName(organizationID *string, name string) (*domain.Role, error) {
	var role domain.Role
	q := r.db.Preload("Permissions").Where("name = ?", name)
	if organizationID == nil {
		q = q.Where("organization_id IS NULL")
	} else {
		q = q.Where("organization_id = ?", *organizationID)
	}
	err := q.First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "not_found")
			return nil, ErrRoleNotFound
		}
		observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "find_by_name", "success")
	return &role, nil
}

// List returns org-scoped roles plus the system roles every tenant sees.
func (r *GormRoleRepository) List(organizationID *string) ([]domain.Role, error) {
	var roles []domain.Role
	q := r.db.Preload("Permissions")
	if organizationID == nil {
		q = q.Where("organization_id IS NULL")
	} else {
		q = q.Where("organization_id = ? OR organization_id IS NULL", *organizationID)
	}
	err := q.Order("name").Find(&roles).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "role", "list", "error")
		return roles, err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "list", "success")
	return roles, nil
}

func (r *GormRoleRepository) Create(role *domain.Role, permissionIDs []string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(role).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateRole
			}
			return err
		}
		return replaceRolePermissions(tx, role, permissionIDs)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateRole) {
			observability.RecordRepositoryOperation(context.Background(), "role", "create", "conflict")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "role", "create", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "create", "success")
	return nil
}

func (r *GormRoleRepository) Update(role *domain.Role) error {
	res := r.db.Model(&domain.Role{}).Where("id = ?", role.ID).Updates(map[string]any{
		"name":        role.Name,
		"description": role.Description,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			observability.RecordRepositoryOperation(context.Background(), "role", "update", "conflict")
			return ErrDuplicateRole
		}
		observability.RecordRepositoryOperation(context.Background(), "role", "update", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "role", "update", "not_found")
		return ErrRoleNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "update", "success")
	return nil
}

func (r *GormRoleRepository) DeleteByID(id string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var role domain.Role
		if err := tx.Where("id = ?", id).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoleNotFound
			}
			return err
		}
		if err := tx.Model(&role).Association("Permissions").Clear(); err != nil {
			return err
		}
		if err := tx.Where("role_id = ?", id).Delete(&domain.UserRole{}).Error; err != nil {
			return err
		}
		return tx.Delete(&domain.Role{}, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			observability.RecordRepositoryOperation(context.Background(), "role", "delete_by_id", "not_found")
		} else {
			observability.RecordRepositoryOperation(context.Background(), "role", "delete_by_id", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "delete_by_id", "success")
	return nil
}

func (r *GormRoleRepository) SetPermissions(roleID string, permissionIDs []string) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var role domain.Role
		if err := tx.Where("id = ?", roleID).First(&role).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRoleNotFound
			}
			return err
		}
		return replaceRolePermissions(tx, &role, permissionIDs)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoleNotFound):
			observability.RecordRepositoryOperation(context.Background(), "role", "set_permissions", "not_found")
		case errors.Is(err, ErrUnknownPermission):
			observability.RecordRepositoryOperation(context.Background(), "role", "set_permissions", "conflict")
		default:
			observability.RecordRepositoryOperation(context.Background(), "role", "set_permissions", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "role", "set_permissions", "success")
	return nil
}

func replaceRolePermissions(tx *gorm.DB, role *domain.Role, permissionIDs []string) error {
	var perms []domain.Permission
	if len(permissionIDs) > 0 {
		if err := tx.Where("id IN ?", permissionIDs).Find(&perms).Error; err != nil {
			return err
		}
		if len(perms) != len(dedupeStrings(permissionIDs)) {
			return ErrUnknownPermission
		}
	}
	return tx.Model(role).Association("Permissions").Replace(perms)
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func (r *GormRoleRepository) Grant(userID, roleID string, organizationID *string) error {
	grant := domain.UserRole{
		ID:             newID(),
		UserID:         userID,
		RoleID:         roleID,
		OrganizationID: organizationID,
		GrantedAt:      time.Now().UTC(),
	}
	err := r.db.Create(&grant).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user_role", "grant", "error")
		return err
	}
	observability.RecordRepositoryOperation(context.Background(), "user_role", "grant", "success")
	return nil
}

func (r *GormRoleRepository) RevokeGrant(userID, roleID string, organizationID *string) error {
	q := r.db.Where("user_id = ? AND role_id = ?", userID, roleID)
	if organizationID == nil {
		q = q.Where("organization_id IS NULL")
	} else {
		q = q.Where("organization_id = ?", *organizationID)
	}
	res := q.Delete(&domain.UserRole{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(context.Background(), "user_role", "revoke_grant", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(context.Background(), "user_role", "revoke_grant", "not_found")
		return ErrRoleNotFound
	}
	observability.RecordRepositoryOperation(context.Background(), "user_role", "revoke_grant", "success")
	return nil
}

func (r *GormRoleRepository) GrantsForUser(userID string) ([]domain.UserRole, error) {
	var grants []domain.UserRole
	err := r.db.Where("user_id = ?", userID).Find(&grants).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "user_role", "grants_for_user", "error")
		return grants, err
	}
	observability.RecordRepositoryOperation(context.Background(), "user_role", "grants_for_user", "success")
	return grants, nil
}

func (r *GormRoleRepository) PermissionsForUser(userID string, organizationID *string) ([]domain.Permission, error) {
	var perms []domain.Permission
	q := r.db.Table("permissions").
		Distinct("permissions.*").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN user_roles ON user_roles.role_id = role_permissions.role_id").
		Where("user_roles.user_id = ?", userID)
	if organizationID == nil {
		q = q.Where("user_roles.organization_id IS NULL")
	} else {
		q = q.Where("user_roles.organization_id = ?", *organizationID)
	}
	err := q.Find(&perms).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "permission", "for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "for_user", "success")
	return perms, nil
}

func (r *GormRoleRepository) SystemPermissionsForUser(userID string) ([]domain.Permission, error) {
	var perms []domain.Permission
	err := r.db.Table("permissions").
		Distinct("permissions.*").
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Joins("JOIN user_roles ON user_roles.role_id = role_permissions.role_id").
		Where("user_roles.user_id = ? AND user_roles.organization_id IS NULL AND permissions.system_wide = ?", userID, true).
		Find(&perms).Error
	if err != nil {
		observability.RecordRepositoryOperation(context.Background(), "permission", "system_for_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(context.Background(), "permission", "system_for_user", "success")
	return perms, nil
}
