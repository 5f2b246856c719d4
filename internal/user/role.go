package user

import (
	"fmt"
	"slices"
)

// Role is the fixed set of account roles.
type Role string

const (
	RoleAdmin            Role = "admin"
	RoleCompany          Role = "company"
	RoleBranchManager    Role = "branch_manager"
	RoleAssistantManager Role = "assistant_manager"
	RoleEmployee         Role = "employee"
	RoleJobSeeker        Role = "job_seeker"
)

// RolePolicy is the static routing entry for a role.
type RolePolicy struct {
	// RedirectPath is where a freshly logged-in user lands.
	RedirectPath string
	// ContactRoles are the roles this role may open conversations with.
	ContactRoles []Role
}

var policies = map[Role]RolePolicy{
	RoleAdmin: {
		RedirectPath: "/admin/dashboard",
		ContactRoles: []Role{RoleCompany},
	},
	RoleCompany: {
		RedirectPath: "/company/dashboard",
		ContactRoles: []Role{RoleAdmin, RoleBranchManager},
	},
	RoleBranchManager: {
		RedirectPath: "/branch/dashboard",
		ContactRoles: []Role{RoleCompany, RoleAssistantManager, RoleEmployee},
	},
	RoleAssistantManager: {
		RedirectPath: "/branch/dashboard",
		ContactRoles: []Role{RoleBranchManager, RoleEmployee},
	},
	RoleEmployee: {
		RedirectPath: "/employee/dashboard",
		ContactRoles: []Role{RoleBranchManager, RoleAssistantManager},
	},
	RoleJobSeeker: {
		RedirectPath: "/jobs",
		ContactRoles: nil,
	},
}

// ParseRole validates s against the known roles.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := policies[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) Valid() bool {
	_, ok := policies[r]
	return ok
}

// Policy returns the routing entry for r. Unknown roles get the zero policy.
func (r Role) Policy() RolePolicy {
	return policies[r]
}

func (r Role) RedirectPath() string {
	if p, ok := policies[r]; ok {
		return p.RedirectPath
	}
	return "/"
}

// CanMessage reports whether r may address a conversation to other.
func (r Role) CanMessage(other Role) bool {
	return slices.Contains(policies[r].ContactRoles, other)
}

func (r Role) String() string { return string(r) }
