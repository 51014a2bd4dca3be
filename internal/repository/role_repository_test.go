package repository

import (
	"errors"
	"testing"

	"github.com/transferwave/identity-core/internal/domain"
)

func seedPermission(t *testing.T, repo PermissionRepository, name, resource, action string, systemWide bool) *domain.Permission {
	t.Helper()
	p := &domain.Permission{
		ID:           newID(),
		Name:         name,
		ResourceType: resource,
		Action:       action,
		SystemWide:   systemWide,
	}
	if err := repo.Create(p); err != nil {
		t.Fatalf("seed permission %s: %v", name, err)
	}
	return p
}

func TestRoleRepositoryCreateWithPermissions(t *testing.T) {
	db := openTestDB(t)
	roles := NewRoleRepository(db)
	perms := NewPermissionRepository(db)

	view := seedPermission(t, perms, "view:servers", "server", "view", false)
	del := seedPermission(t, perms, "delete:servers", "server", "delete", false)

	role := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "operator"}
	if err := roles.Create(role, []string{view.ID, del.ID}); err != nil {
		t.Fatalf("create role: %v", err)
	}

	got, err := roles.FindByID(role.ID)
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	if len(got.Permissions) != 2 {
		t.Fatalf("role has %d permissions, want 2", len(got.Permissions))
	}
}

func TestRoleRepositoryDuplicateNameSameOrg(t *testing.T) {
	db := openTestDB(t)
	roles := NewRoleRepository(db)

	first := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "admin"}
	if err := roles.Create(first, nil); err != nil {
		t.Fatalf("create first: %v", err)
	}

	dup := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "admin"}
	if err := roles.Create(dup, nil); !errors.Is(err, ErrDuplicateRole) {
		t.Fatalf("duplicate role: got %v, want ErrDuplicateRole", err)
	}

	// Same name in a different org is fine.
	other := &domain.Role{ID: newID(), OrganizationID: strPtr("org-2"), Name: "admin"}
	if err := roles.Create(other, nil); err != nil {
		t.Fatalf("same name other org: %v", err)
	}
}

func TestRoleRepositorySetPermissionsReplacesAtomically(t *testing.T) {
	db := openTestDB(t)
	roles := NewRoleRepository(db)
	perms := NewPermissionRepository(db)

	a := seedPermission(t, perms, "view:servers", "server", "view", false)
	b := seedPermission(t, perms, "edit:servers", "server", "edit", false)
	c := seedPermission(t, perms, "delete:servers", "server", "delete", false)

	role := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "operator"}
	if err := roles.Create(role, []string{a.ID, b.ID}); err != nil {
		t.Fatalf("create role: %v", err)
	}

	if err := roles.SetPermissions(role.ID, []string{c.ID}); err != nil {
		t.Fatalf("set permissions: %v", err)
	}
	got, err := roles.FindByID(role.ID)
	if err != nil {
		t.Fatalf("find role: %v", err)
	}
	if len(got.Permissions) != 1 || got.Permissions[0].ID != c.ID {
		t.Fatalf("unexpected permission set: %+v", got.Permissions)
	}

	if err := roles.SetPermissions(role.ID, []string{"nonexistent"}); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("unknown permission id: got %v, want ErrUnknownPermission", err)
	}
	// The failed replace must not have clobbered the set.
	got, err = roles.FindByID(role.ID)
	if err != nil {
		t.Fatalf("re-find role: %v", err)
	}
	if len(got.Permissions) != 1 {
		t.Fatalf("failed replace mutated permissions: %+v", got.Permissions)
	}
}

func TestRoleRepositoryDeleteCascadesBindings(t *testing.T) {
	db := openTestDB(t)
	roles := NewRoleRepository(db)
	perms := NewPermissionRepository(db)

	p := seedPermission(t, perms, "view:servers", "server", "view", false)
	role := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "viewer"}
	if err := roles.Create(role, []string{p.ID}); err != nil {
		t.Fatalf("create role: %v", err)
	}
	if err := roles.Grant("u1", role.ID, strPtr("org-1")); err != nil {
		t.Fatalf("grant: %v", err)
	}

	if err := roles.DeleteByID(role.ID); err != nil {
		t.Fatalf("delete role: %v", err)
	}

	if _, err := roles.FindByID(role.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("deleted role still found: %v", err)
	}
	grants, err := roles.GrantsForUser("u1")
	if err != nil {
		t.Fatalf("grants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("user-role bindings survived delete: %+v", grants)
	}
	var joinCount int64
	if err := db.Table("role_permissions").Where("role_id = ?", role.ID).Count(&joinCount).Error; err != nil {
		t.Fatalf("count join rows: %v", err)
	}
	if joinCount != 0 {
		t.Fatalf("role-permission bindings survived delete: %d rows", joinCount)
	}

	if err := roles.DeleteByID(role.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("double delete: got %v, want ErrRoleNotFound", err)
	}
}

func TestRoleRepositoryPermissionsForUserScoping(t *testing.T) {
	db := openTestDB(t)
	roles := NewRoleRepository(db)
	perms := NewPermissionRepository(db)

	orgPerm := seedPermission(t, perms, "view:servers", "server", "view", false)
	sysPerm := seedPermission(t, perms, "admin:platform", "platform", "admin", true)
	localOnly := seedPermission(t, perms, "billing:read", "billing", "read", false)

	orgRole := &domain.Role{ID: newID(), OrganizationID: strPtr("org-1"), Name: "viewer"}
	if err := roles.Create(orgRole, []string{orgPerm.ID}); err != nil {
		t.Fatalf("create org role: %v", err)
	}
	sysRole := &domain.Role{ID: newID(), Name: "platform-admin"}
	if err := roles.Create(sysRole, []string{sysPerm.ID, localOnly.ID}); err != nil {
		t.Fatalf("create system role: %v", err)
	}

	if err := roles.Grant("u1", orgRole.ID, strPtr("org-1")); err != nil {
		t.Fatalf("grant org role: %v", err)
	}
	if err := roles.Grant("u1", sysRole.ID, nil); err != nil {
		t.Fatalf("grant system role: %v", err)
	}

	scoped, err := roles.PermissionsForUser("u1", strPtr("org-1"))
	if err != nil {
		t.Fatalf("permissions for user: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Name != "view:servers" {
		t.Fatalf("unexpected scoped permissions: %+v", scoped)
	}

	system, err := roles.SystemPermissionsForUser("u1")
	if err != nil {
		t.Fatalf("system permissions: %v", err)
	}
	// billing:read is bound to the system role but not system-wide, so it
	// must not leak into other tenants.
	if len(system) != 1 || system[0].Name != "admin:platform" {
		t.Fatalf("unexpected system permissions: %+v", system)
	}

	none, err := roles.PermissionsForUser("unknown-user", strPtr("org-1"))
	if err != nil {
		t.Fatalf("permissions for unknown user: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unknown user has permissions: %+v", none)
	}
}
