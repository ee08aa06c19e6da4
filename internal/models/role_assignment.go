package models

import "time"

// RoleAssignment grants one catalog role to one identity.
type RoleAssignment struct {
	ID          string    `db:"id" json:"id"`
	PersonnelID string    `db:"personnel_id" json:"personnelId"`
	RoleID      string    `db:"role_id" json:"roleId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// LegacyRoleRow is a raw user_roles row as the migration sees it, including
// the columns left behind by the string-enum and dual-identity schemas.
type LegacyRoleRow struct {
	ID          string  `db:"id"`
	PersonnelID *string `db:"personnel_id"`
	UserID      *string `db:"user_id"`
	RoleID      *string `db:"role_id"`
	Role        *string `db:"role"`
}

// HasIdentity reports whether the row points at any identity space.
func (r LegacyRoleRow) HasIdentity() bool {
	return nonEmpty(r.PersonnelID) || nonEmpty(r.UserID)
}

// HasPersonnel reports whether the row is keyed by the unified identity.
func (r LegacyRoleRow) HasPersonnel() bool {
	return nonEmpty(r.PersonnelID)
}

// HasRoleString reports whether the legacy enum column is populated.
func (r LegacyRoleRow) HasRoleString() bool {
	return nonEmpty(r.Role)
}

// HasRoleID reports whether the row references the catalog.
func (r LegacyRoleRow) HasRoleID() bool {
	return nonEmpty(r.RoleID)
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
