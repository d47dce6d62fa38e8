package auth

import "strings"

// RoleHierarchy maps each role to the roles it inherits. It is built
// once and never mutated, so it is safe to share.
type RoleHierarchy struct {
	inherits map[string]map[string]struct{}
}

// NewRoleHierarchy builds a hierarchy from role -> inherited roles.
// Names are compared case insensitively.
func NewRoleHierarchy(table map[Role][]Role) RoleHierarchy {
	h := RoleHierarchy{inherits: make(map[string]map[string]struct{}, len(table))}
	for role, parents := range table {
		set := make(map[string]struct{}, len(parents))
		for _, p := range parents {
			set[roleKey(string(p))] = struct{}{}
		}
		h.inherits[roleKey(string(role))] = set
	}
	return h
}

var defaultHierarchy = NewRoleHierarchy(map[Role][]Role{
	RoleMember:     {},
	RoleOwner:      {RoleMember},
	RoleAdmin:      {RoleOwner, RoleMember},
	RoleSuperAdmin: {RoleAdmin, RoleOwner, RoleMember},
})

// DefaultRoleHierarchy returns the built in Member < Owner < Admin < SuperAdmin table.
func DefaultRoleHierarchy() RoleHierarchy {
	return defaultHierarchy
}

// Authorize reports whether userRole satisfies requiredRole: the names
// match or requiredRole is in the set userRole inherits. Unknown roles
// on either side are denied.
func (h RoleHierarchy) Authorize(userRole, requiredRole string) bool {
	required := roleKey(requiredRole)
	if _, known := h.inherits[required]; !known {
		return false
	}

	user := roleKey(userRole)
	inherited, known := h.inherits[user]
	if !known {
		return false
	}

	if user == required {
		return true
	}

	_, ok := inherited[required]
	return ok
}

// IsKnown reports whether role is part of the hierarchy.
func (h RoleHierarchy) IsKnown(role string) bool {
	_, ok := h.inherits[roleKey(role)]
	return ok
}

// Authorize checks userRole against requiredRole using the default hierarchy.
func Authorize(userRole, requiredRole string) bool {
	return defaultHierarchy.Authorize(userRole, requiredRole)
}

func roleKey(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
