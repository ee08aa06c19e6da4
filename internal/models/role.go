package models

import (
	"strings"
	"time"
)

// RoleName is the stable key of a role catalog entry.
type RoleName string

const (
	RoleSuperAdmin    RoleName = "super_admin"
	RoleAdministrator RoleName = "administrator"
	RoleInstructor    RoleName = "instructor"
	RoleGameMaster    RoleName = "game_master"
	RoleMember        RoleName = "member"
)

var roleHierarchy = map[RoleName]int{
	RoleSuperAdmin:    5,
	RoleAdministrator: 4,
	RoleInstructor:    3,
	RoleGameMaster:    2,
	RoleMember:        1,
}

// legacyRoleAliases maps role strings written by the old enum-based schema.
var legacyRoleAliases = map[string]RoleName{
	"admin":      RoleAdministrator,
	"superadmin": RoleSuperAdmin,
	"gm":         RoleGameMaster,
	"gamemaster": RoleGameMaster,
}

// Level returns the hierarchy level of the role, or 0 when the name is not canonical.
func (r RoleName) Level() int {
	return roleHierarchy[r]
}

// Valid reports whether the role is one of the canonical catalog roles.
func (r RoleName) Valid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// NormalizeRoleName folds case, whitespace and hyphens and resolves legacy aliases.
func NormalizeRoleName(raw string) RoleName {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if alias, ok := legacyRoleAliases[s]; ok {
		return alias
	}
	return RoleName(s)
}

// HighestRole returns the held role with the greatest level. An empty
// slice, or one holding only unknown names, yields ("", 0).
func HighestRole(roles []RoleName) (RoleName, int) {
	var best RoleName
	level := 0
	for _, r := range roles {
		if l := r.Level(); l > level {
			best, level = r, l
		}
	}
	return best, level
}

// Role is a role catalog entry.
type Role struct {
	ID          string    `db:"id" json:"id"`
	RoleName    RoleName  `db:"role_name" json:"roleName"`
	DisplayName string    `db:"display_name" json:"displayName"`
	Color       string    `db:"color" json:"color"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Level is the hierarchy level of the entry's role name.
func (r Role) Level() int {
	return r.RoleName.Level()
}

// DefaultRoles is the canonical catalog seeded on first start and by the role migration.
func DefaultRoles() []Role {
	desc := func(s string) *string { return &s }
	return []Role{
		{RoleName: RoleSuperAdmin, DisplayName: "Super Admin", Color: "#b91c1c", Description: desc("Full control including role administration")},
		{RoleName: RoleAdministrator, DisplayName: "Administrator", Color: "#c2410c", Description: desc("Manages roster, schools and assignments")},
		{RoleName: RoleInstructor, DisplayName: "Instructor", Color: "#1d4ed8", Description: desc("Awards qualifications for assigned schools")},
		{RoleName: RoleGameMaster, DisplayName: "Game Master", Color: "#15803d", Description: desc("Schedules operations and training events")},
		{RoleName: RoleMember, DisplayName: "Member", Color: "#4b5563", Description: desc("Read access to the roster and calendar")},
	}
}
