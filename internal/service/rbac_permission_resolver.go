package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/transferwave/identity-core/internal/domain"
	"github.com/transferwave/identity-core/internal/fault"
	"github.com/transferwave/identity-core/internal/observability"
	"github.com/transferwave/identity-core/internal/repository"
)

const systemScope = "system"

// PermissionResolver evaluates the role/permission graph for a user inside an
// organization scope. Resolution is the union of permissions reachable through
// org-scoped grants and system-wide permissions reachable through grants with
// no organization. Resolved name sets are cached per (user, scope).
type PermissionResolver struct {
	roleRepo   repository.RoleRepository
	permRepo   repository.PermissionRepository
	cacheStore PermissionCacheStore
	cacheTTL   time.Duration
}

func NewPermissionResolver(roleRepo repository.RoleRepository, permRepo repository.PermissionRepository, cacheStore PermissionCacheStore, cacheTTL time.Duration) *PermissionResolver {
	if cacheStore == nil {
		cacheStore = NewNoopPermissionCacheStore()
	}
	return &PermissionResolver{
		roleRepo:   roleRepo,
		permRepo:   permRepo,
		cacheStore: cacheStore,
		cacheTTL:   cacheTTL,
	}
}

func scopeKey(organizationID *string) string {
	if organizationID == nil {
		return systemScope
	}
	return "org:" + *organizationID
}

// resolvePermissions returns the full permission objects for the user in the
// given scope. Unknown users resolve to an empty set, never an error.
func (r *PermissionResolver) resolvePermissions(userID string, organizationID *string) ([]domain.Permission, error) {
	var out []domain.Permission
	seen := make(map[string]struct{})
	if organizationID != nil {
		scoped, err := r.roleRepo.PermissionsForUser(userID, organizationID)
		if err != nil {
			return nil, fault.Wrap(fault.KindTransient, "resolve org permissions", err)
		}
		for _, p := range scoped {
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			out = append(out, p)
		}
	}
	system, err := r.roleRepo.SystemPermissionsForUser(userID)
	if err != nil {
		return nil, fault.Wrap(fault.KindTransient, "resolve system permissions", err)
	}
	for _, p := range system {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

func (r *PermissionResolver) resolveNames(ctx context.Context, userID string, organizationID *string) ([]string, error) {
	scope := scopeKey(organizationID)
	if r.cacheTTL > 0 {
		if cached, ok, err := r.cacheStore.Get(ctx, userID, scope); err == nil && ok {
			observability.RecordPermissionCheck("cache_hit")
			return cached, nil
		}
	}
	perms, err := r.resolvePermissions(userID, organizationID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	if r.cacheTTL > 0 {
		_ = r.cacheStore.Set(ctx, userID, scope, names, r.cacheTTL)
	}
	observability.RecordPermissionCheck("cache_miss")
	return names, nil
}

func (r *PermissionResolver) Check(ctx context.Context, userID, permissionName string, organizationID *string) (bool, error) {
	names, err := r.resolveNames(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == permissionName {
			return true, nil
		}
	}
	return false, nil
}

func (r *PermissionResolver) HasAny(ctx context.Context, userID string, permissionNames []string, organizationID *string) (bool, error) {
	if len(permissionNames) == 0 {
		return false, nil
	}
	names, err := r.resolveNames(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(names))
	for _, n := range names {
		held[n] = struct{}{}
	}
	for _, want := range permissionNames {
		if _, ok := held[want]; ok {
			return true, nil
		}
	}
	return false, nil
}

// HasAll compares the distinct matched count against the distinct requested
// count, so duplicated names in the request cannot widen access.
func (r *PermissionResolver) HasAll(ctx context.Context, userID string, permissionNames []string, organizationID *string) (bool, error) {
	distinct := dedupeStringSet(permissionNames)
	if len(distinct) == 0 {
		return true, nil
	}
	names, err := r.resolveNames(ctx, userID, organizationID)
	if err != nil {
		return false, err
	}
	held := make(map[string]struct{}, len(names))
	for _, n := range names {
		held[n] = struct{}{}
	}
	matched := 0
	for want := range distinct {
		if _, ok := held[want]; ok {
			matched++
		}
	}
	return matched == len(distinct), nil
}

func (r *PermissionResolver) ListUserPermissions(ctx context.Context, userID string, organizationID *string) (*domain.UserPermissions, error) {
	perms, err := r.resolvePermissions(userID, organizationID)
	if err != nil {
		return nil, err
	}
	result := &domain.UserPermissions{
		Permissions: make([]string, 0, len(perms)),
		ByResource:  make(map[string][]string),
	}
	for _, p := range perms {
		result.Permissions = append(result.Permissions, p.Name)
		result.ByResource[p.ResourceType] = append(result.ByResource[p.ResourceType], p.Action)
	}
	return result, nil
}

func (r *PermissionResolver) CreateRole(ctx context.Context, role *domain.Role, permissionIDs []string) error {
	if err := r.roleRepo.Create(role, permissionIDs); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateRole):
			return fault.Conflict("role name already exists in organization")
		case errors.Is(err, repository.ErrUnknownPermission):
			return fault.Conflict("permission id does not exist")
		}
		return fault.Wrap(fault.KindTransient, "create role", err)
	}
	observability.RecordRoleMutation("create")
	return nil
}

func (r *PermissionResolver) UpdateRole(ctx context.Context, role *domain.Role) error {
	if err := r.roleRepo.Update(role); err != nil {
		switch {
		case errors.Is(err, repository.ErrRoleNotFound):
			return fault.NotFound("role not found")
		case errors.Is(err, repository.ErrDuplicateRole):
			return fault.Conflict("role name already exists in organization")
		}
		return fault.Wrap(fault.KindTransient, "update role", err)
	}
	observability.RecordRoleMutation("update")
	return r.invalidateAll(ctx)
}

// DeleteRole cascades detachment of role-permission and user-role bindings
// inside one transaction, then invalidates every cached resolution.
func (r *PermissionResolver) DeleteRole(ctx context.Context, roleID string) error {
	if err := r.roleRepo.DeleteByID(roleID); err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return fault.NotFound("role not found")
		}
		return fault.Wrap(fault.KindTransient, "delete role", err)
	}
	observability.RecordRoleMutation("delete")
	return r.invalidateAll(ctx)
}

// SetRolePermissions replaces the role's whole permission set atomically;
// concurrent readers see the old set or the new set, never a partial one.
func (r *PermissionResolver) SetRolePermissions(ctx context.Context, roleID string, permissionIDs []string) error {
	if err := r.roleRepo.SetPermissions(roleID, permissionIDs); err != nil {
		switch {
		case errors.Is(err, repository.ErrRoleNotFound):
			return fault.NotFound("role not found")
		case errors.Is(err, repository.ErrUnknownPermission):
			return fault.Conflict("permission id does not exist")
		}
		return fault.Wrap(fault.KindTransient, "set role permissions", err)
	}
	observability.RecordRoleMutation("set_permissions")
	return r.invalidateAll(ctx)
}

func (r *PermissionResolver) GrantRole(ctx context.Context, userID, roleID string, organizationID *string) error {
	if _, err := r.roleRepo.FindByID(roleID); err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return fault.NotFound("role not found")
		}
		return fault.Wrap(fault.KindTransient, "load role", err)
	}
	if err := r.roleRepo.Grant(userID, roleID, organizationID); err != nil {
		return fault.Wrap(fault.KindTransient, "grant role", err)
	}
	observability.RecordRoleMutation("grant")
	return r.invalidateUser(ctx, userID)
}

func (r *PermissionResolver) RevokeRole(ctx context.Context, userID, roleID string, organizationID *string) error {
	if err := r.roleRepo.RevokeGrant(userID, roleID, organizationID); err != nil {
		if errors.Is(err, repository.ErrRoleNotFound) {
			return fault.NotFound("role grant not found")
		}
		return fault.Wrap(fault.KindTransient, "revoke role grant", err)
	}
	observability.RecordRoleMutation("revoke_grant")
	return r.invalidateUser(ctx, userID)
}

func (r *PermissionResolver) invalidateUser(ctx context.Context, userID string) error {
	if err := r.cacheStore.InvalidateUser(ctx, userID); err != nil {
		return fault.Wrap(fault.KindTransient, "invalidate permission cache", err)
	}
	return nil
}

func (r *PermissionResolver) invalidateAll(ctx context.Context) error {
	if err := r.cacheStore.InvalidateAll(ctx); err != nil {
		return fault.Wrap(fault.KindTransient, "invalidate permission cache", err)
	}
	return nil
}

func dedupeStringSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range in {
		out[v] = struct{}{}
	}
	return out
}

// buildPermissionCacheKey bakes both epochs into the key so bumping either
// epoch orphans every older entry. Stores prepend their own prefix.
func buildPermissionCacheKey(globalEpoch, userEpoch uint64, userID, scope string) string {
	if scope == "" {
		scope = systemScope
	}
	return fmt.Sprintf("g%d:u%d:user:%s:scope:%s", globalEpoch, userEpoch, userID, scope)
}
