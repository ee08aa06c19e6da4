package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

// SchoolRepository provides access to training schools and their qualifications.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository creates a new instance of SchoolRepository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// List returns all schools ordered by name.
func (r *SchoolRepository) List(ctx context.Context) ([]models.School, error) {
	const query = `SELECT id, name, abbreviation, description, created_at, updated_at FROM schools ORDER BY name`
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query); err != nil {
		return nil, fmt.Errorf("list schools: %w", err)
	}
	return schools, nil
}

// FindByID returns a school by identifier.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	const query = `SELECT id, name, abbreviation, description, created_at, updated_at FROM schools WHERE id = $1`
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find school: %w", err)
	}
	return &school, nil
}

// Update writes the editable school fields.
func (r *SchoolRepository) Update(ctx context.Context, school *models.School) error {
	school.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schools SET name = :name, abbreviation = :abbreviation, description = :description, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, school)
	if err != nil {
		return fmt.Errorf("update school: %w", err)
	}
	return requireAffected(res)
}

// ListQualifications returns qualifications, optionally restricted to one school.
func (r *SchoolRepository) ListQualifications(ctx context.Context, schoolID string) ([]models.Qualification, error) {
	query := `SELECT id, school_id, name, abbreviation, description, created_at FROM qualifications`
	var args []interface{}
	if schoolID != "" {
		query += ` WHERE school_id = $1`
		args = append(args, schoolID)
	}
	query += ` ORDER BY name`
	var quals []models.Qualification
	if err := r.db.SelectContext(ctx, &quals, query, args...); err != nil {
		return nil, fmt.Errorf("list qualifications: %w", err)
	}
	return quals, nil
}

// FindQualification returns a qualification by identifier.
func (r *SchoolRepository) FindQualification(ctx context.Context, id string) (*models.Qualification, error) {
	const query = `SELECT id, school_id, name, abbreviation, description, created_at FROM qualifications WHERE id = $1`
	var q models.Qualification
	if err := r.db.GetContext(ctx, &q, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find qualification: %w", err)
	}
	return &q, nil
}

// ListAwards returns the qualifications held by a member.
func (r *SchoolRepository) ListAwards(ctx context.Context, personnelID string) ([]models.PersonnelQualificationDetail, error) {
	const query = `SELECT pq.id, pq.personnel_id, pq.qualification_id, pq.awarded_at, pq.awarded_by, pq.notes,
q.name AS qualification_name, q.abbreviation, q.school_id, s.name AS school_name
FROM personnel_qualifications pq
JOIN qualifications q ON q.id = pq.qualification_id
JOIN schools s ON s.id = q.school_id
WHERE pq.personnel_id = $1
ORDER BY pq.awarded_at DESC`
	var awards []models.PersonnelQualificationDetail
	if err := r.db.SelectContext(ctx, &awards, query, personnelID); err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	return awards, nil
}

// Award records a qualification; awarding one already held is a no-op
// reported through the returned bool.
func (r *SchoolRepository) Award(ctx context.Context, award *models.PersonnelQualification) (bool, error) {
	if award.ID == "" {
		award.ID = uuid.NewString()
	}
	if award.AwardedAt.IsZero() {
		award.AwardedAt = time.Now().UTC()
	}
	const query = `INSERT INTO personnel_qualifications (id, personnel_id, qualification_id, awarded_at, awarded_by, notes) VALUES (:id, :personnel_id, :qualification_id, :awarded_at, :awarded_by, :notes) ON CONFLICT (personnel_id, qualification_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, award)
	if err != nil {
		return false, fmt.Errorf("award qualification: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RevokeAward deletes a held qualification.
func (r *SchoolRepository) RevokeAward(ctx context.Context, personnelID, qualificationID string) error {
	const query = `DELETE FROM personnel_qualifications WHERE personnel_id = $1 AND qualification_id = $2`
	res, err := r.db.ExecContext(ctx, query, personnelID, qualificationID)
	if err != nil {
		return fmt.Errorf("revoke award: %w", err)
	}
	return requireAffected(res)
}
