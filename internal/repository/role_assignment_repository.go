package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

// RoleAssignmentRepository manages the user_roles ledger.
type RoleAssignmentRepository struct {
	db *sqlx.DB
}

// NewRoleAssignmentRepository creates a new instance of RoleAssignmentRepository.
func NewRoleAssignmentRepository(db *sqlx.DB) *RoleAssignmentRepository {
	return &RoleAssignmentRepository{db: db}
}

// ListByPersonnel returns the catalog-backed assignments of an identity. Rows
// still in a legacy shape (no role_id) are not returned.
func (r *RoleAssignmentRepository) ListByPersonnel(ctx context.Context, personnelID string) ([]models.RoleAssignment, error) {
	const query = `SELECT id, personnel_id, role_id, created_at FROM user_roles WHERE personnel_id = $1 AND role_id IS NOT NULL ORDER BY created_at`
	var assignments []models.RoleAssignment
	if err := r.db.SelectContext(ctx, &assignments, query, personnelID); err != nil {
		return nil, fmt.Errorf("list role assignments: %w", err)
	}
	return assignments, nil
}

// Exists reports whether the identity holds the given catalog role.
func (r *RoleAssignmentRepository) Exists(ctx context.Context, personnelID, roleID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM user_roles WHERE personnel_id = $1 AND role_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, personnelID, roleID); err != nil {
		return false, fmt.Errorf("check role assignment: %w", err)
	}
	return exists, nil
}

// Replace deletes every assignment row of the identity, legacy rows
// included, then inserts one row per role id, in one transaction.
func (r *RoleAssignmentRepository) Replace(ctx context.Context, personnelID string, roleIDs []string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin role replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_roles WHERE personnel_id = $1`, personnelID); err != nil {
		return fmt.Errorf("delete role assignments: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO user_roles (id, personnel_id, role_id, created_at) VALUES ($1, $2, $3, $4)`
	for _, roleID := range roleIDs {
		if _, err = tx.ExecContext(ctx, insertQuery, uuid.NewString(), personnelID, roleID, now); err != nil {
			return fmt.Errorf("insert role assignment: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit role replace: %w", err)
	}
	return nil
}
