package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

// SchoolAssignmentRepository manages instructor to school scoping rows.
type SchoolAssignmentRepository struct {
	db *sqlx.DB
}

// NewSchoolAssignmentRepository creates a new instance of SchoolAssignmentRepository.
func NewSchoolAssignmentRepository(db *sqlx.DB) *SchoolAssignmentRepository {
	return &SchoolAssignmentRepository{db: db}
}

// Exists reports whether the instructor is scoped to the school.
func (r *SchoolAssignmentRepository) Exists(ctx context.Context, personnelID, schoolID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM instructor_schools WHERE personnel_id = $1 AND school_id = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, personnelID, schoolID); err != nil {
		return false, fmt.Errorf("check school assignment: %w", err)
	}
	return exists, nil
}

// Create inserts a school assignment.
func (r *SchoolAssignmentRepository) Create(ctx context.Context, a *models.SchoolAssignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO instructor_schools (id, personnel_id, school_id, created_at) VALUES (:id, :personnel_id, :school_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("create school assignment: %w", err)
	}
	return nil
}

// Delete removes a school assignment, returning sql.ErrNoRows when none existed.
func (r *SchoolAssignmentRepository) Delete(ctx context.Context, personnelID, schoolID string) error {
	const query = `DELETE FROM instructor_schools WHERE personnel_id = $1 AND school_id = $2`
	res, err := r.db.ExecContext(ctx, query, personnelID, schoolID)
	if err != nil {
		return fmt.Errorf("delete school assignment: %w", err)
	}
	return requireAffected(res)
}

// ListByPersonnel returns the schools an instructor is scoped to.
func (r *SchoolAssignmentRepository) ListByPersonnel(ctx context.Context, personnelID string) ([]models.SchoolAssignmentDetail, error) {
	const query = `SELECT a.id, a.personnel_id, a.school_id, a.created_at, s.name AS school_name, s.abbreviation AS school_abbreviation
FROM instructor_schools a
JOIN schools s ON s.id = a.school_id
WHERE a.personnel_id = $1
ORDER BY s.name`
	var out []models.SchoolAssignmentDetail
	if err := r.db.SelectContext(ctx, &out, query, personnelID); err != nil {
		return nil, fmt.Errorf("list school assignments: %w", err)
	}
	return out, nil
}
