package models

import (
	"fmt"
	"time"
)

// LegacySystemUser is a row of the retired system_users login table.
type LegacySystemUser struct {
	ID                    string     `db:"id"`
	Email                 *string    `db:"email"`
	CallSign              *string    `db:"call_sign"`
	Name                  *string    `db:"name"`
	PasswordHash          *string    `db:"password_hash"`
	PasswordSalt          *string    `db:"password_salt"`
	IsActive              *bool      `db:"is_active"`
	RequirePasswordChange *bool      `db:"require_password_change"`
	LastPasswordChange    *time.Time `db:"last_password_change"`
	CreatedAt             time.Time  `db:"created_at"`
}

// Credentials is the login-field group carried over from a legacy user.
type Credentials struct {
	PasswordHash          string
	PasswordSalt          string
	IsActive              bool
	RequirePasswordChange bool
	LastPasswordChange    *time.Time
}

// Credentials extracts the login group, defaulting flags the legacy table left null.
func (u LegacySystemUser) Credentials() Credentials {
	c := Credentials{IsActive: true, LastPasswordChange: u.LastPasswordChange}
	if u.PasswordHash != nil {
		c.PasswordHash = *u.PasswordHash
	}
	if u.PasswordSalt != nil {
		c.PasswordSalt = *u.PasswordSalt
	}
	if u.IsActive != nil {
		c.IsActive = *u.IsActive
	}
	if u.RequirePasswordChange != nil {
		c.RequirePasswordChange = *u.RequirePasswordChange
	}
	return c
}

// MigrationResult is the operator-facing outcome of a migration shim.
type MigrationResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Log     []string       `json:"log"`
	Stats   map[string]int `json:"stats"`
}

// NewMigrationResult initialises a result with zeroed counters.
func NewMigrationResult(counters ...string) *MigrationResult {
	stats := make(map[string]int, len(counters))
	for _, c := range counters {
		stats[c] = 0
	}
	return &MigrationResult{Log: []string{}, Stats: stats}
}

// Logf appends one progress line.
func (r *MigrationResult) Logf(format string, args ...interface{}) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

// Merge folds another result into r. Stats are copied under prefix so
// counters with the same name from different shims stay apart.
func (r *MigrationResult) Merge(prefix string, other *MigrationResult) {
	if other == nil {
		return
	}
	r.Log = append(r.Log, other.Log...)
	for k, v := range other.Stats {
		r.Stats[prefix+k] += v
	}
	r.Success = r.Success && other.Success
}
