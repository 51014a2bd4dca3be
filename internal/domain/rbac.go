package domain

import "time"

// Role is either org-scoped or, when OrganizationID is nil, a system role
// visible to every tenant.
type Role struct {
	ID             string       `gorm:"primaryKey;size:36" json:"id"`
	OrganizationID *string      `gorm:"size:36;index:idx_role_org_name,unique" json:"organization_id,omitempty"`
	Name           string       `gorm:"size:128;index:idx_role_org_name,unique;not null" json:"name"`
	Description    string       `gorm:"size:512" json:"description"`
	Permissions    []Permission `gorm:"many2many:role_permissions;constraint:OnDelete:CASCADE" json:"permissions,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (r *Role) IsSystem() bool { return r.OrganizationID == nil }

// Permission names one allowed action on one resource type, e.g.
// ("view:servers", "server", "view"). SystemWide permissions are reachable
// through system-role grants in any organization.
type Permission struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:128;uniqueIndex;not null" json:"name"`
	ResourceType string    `gorm:"size:64;not null" json:"resource_type"`
	Action       string    `gorm:"size:64;not null" json:"action"`
	SystemWide   bool      `gorm:"not null;default:false" json:"system_wide"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserRole binds a user to a role, optionally scoped to one organization.
// A nil OrganizationID grant carries system-role semantics.
type UserRole struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	UserID         string    `gorm:"size:36;index:idx_user_role,unique;not null" json:"user_id"`
	RoleID         string    `gorm:"size:36;index:idx_user_role,unique;not null" json:"role_id"`
	OrganizationID *string   `gorm:"size:36;index:idx_user_role,unique" json:"organization_id,omitempty"`
	GrantedAt      time.Time `json:"granted_at"`
}

// UserPermissions is the resolved view of everything a user may do inside
// one organization.
type UserPermissions struct {
	Permissions []string            `json:"permissions"`
	ByResource  map[string][]string `json:"by_resource"`
}

// Has reports membership in the flat permission list.
func (p *UserPermissions) Has(name string) bool {
	for _, candidate := range p.Permissions {
		if candidate == name {
			return true
		}
	}
	return false
}
