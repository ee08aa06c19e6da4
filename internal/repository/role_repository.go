package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

// RoleRepository reads and seeds the role catalog.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns every catalog entry ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, role_name, display_name, color, description, created_at FROM roles ORDER BY role_name`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// SeedDefaults inserts any canonical role missing by name and returns how many were inserted.
func (r *RoleRepository) SeedDefaults(ctx context.Context, roles []models.Role) (int, error) {
	const query = `INSERT INTO roles (id, role_name, display_name, color, description, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (role_name) DO NOTHING`
	inserted := 0
	now := time.Now().UTC()
	for _, role := range roles {
		res, err := r.db.ExecContext(ctx, query, uuid.NewString(), role.RoleName, role.DisplayName, role.Color, role.Description, now)
		if err != nil {
			return inserted, fmt.Errorf("seed role %s: %w", role.RoleName, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}
