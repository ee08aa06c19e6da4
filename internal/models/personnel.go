package models

import "time"

// PersonnelStatus is the roster membership state, distinct from login enablement.
type PersonnelStatus string

const (
	PersonnelStatusActive     PersonnelStatus = "active"
	PersonnelStatusInactive   PersonnelStatus = "inactive"
	PersonnelStatusLeave      PersonnelStatus = "leave"
	PersonnelStatusDischarged PersonnelStatus = "discharged"
)

// Valid reports whether s is a known roster status.
func (s PersonnelStatus) Valid() bool {
	switch s {
	case PersonnelStatusActive, PersonnelStatusInactive, PersonnelStatusLeave, PersonnelStatusDischarged:
		return true
	}
	return false
}

// Personnel is the unified identity record. The login fields form one
// optional group: either all nil (roster only) or hash, salt and
// IsActive all set.
type Personnel struct {
	ID            string          `db:"id" json:"id"`
	CallSign      string          `db:"call_sign" json:"callSign"`
	FirstName     *string         `db:"first_name" json:"firstName,omitempty"`
	LastName      *string         `db:"last_name" json:"lastName,omitempty"`
	Email         *string         `db:"email" json:"email,omitempty"`
	Phone         *string         `db:"phone" json:"phone,omitempty"`
	RankID        *string         `db:"rank_id" json:"rankId,omitempty"`
	Status        PersonnelStatus `db:"status" json:"status"`
	JoinDate      time.Time       `db:"join_date" json:"joinDate"`
	DischargeDate *time.Time      `db:"discharge_date" json:"dischargeDate,omitempty"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`

	PasswordHash          *string    `db:"password_hash" json:"-"`
	PasswordSalt          *string    `db:"password_salt" json:"-"`
	IsActive              *bool      `db:"is_active" json:"isActive,omitempty"`
	RequirePasswordChange *bool      `db:"require_password_change" json:"requirePasswordChange,omitempty"`
	LastPasswordChange    *time.Time `db:"last_password_change" json:"lastPasswordChange,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// HasSystemAccess reports whether the login group is present.
func (p *Personnel) HasSystemAccess() bool {
	return p != nil && p.PasswordHash != nil && *p.PasswordHash != ""
}

// LoginDisabled reports an explicit isActive=false. A nil flag is not a denial.
func (p *Personnel) LoginDisabled() bool {
	return p != nil && p.IsActive != nil && !*p.IsActive
}

// CanSignIn combines both login checks.
func (p *Personnel) CanSignIn() bool {
	return p.HasSystemAccess() && !p.LoginDisabled()
}

// DisplayName renders "CallSign (First Last)" for exports and audit output.
func (p *Personnel) DisplayName() string {
	name := ""
	if p.FirstName != nil {
		name = *p.FirstName
	}
	if p.LastName != nil {
		if name != "" {
			name += " "
		}
		name += *p.LastName
	}
	if name == "" {
		return p.CallSign
	}
	return p.CallSign + " (" + name + ")"
}

// PersonnelFilter captures filtering criteria for listing the roster.
type PersonnelFilter struct {
	Status    *PersonnelStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// RosterEntry is a list projection enriched with rank data.
type RosterEntry struct {
	Personnel
	RankName         *string `db:"rank_name" json:"rankName,omitempty"`
	RankAbbreviation *string `db:"rank_abbreviation" json:"rankAbbreviation,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
