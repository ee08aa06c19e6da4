package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/database"
)

// LegacyReference is a column that may still hold a system_users id.
// When Column differs from LegacyColumn the row is moved into the personnel
// column and the legacy column is cleared; UniqueWith names the partner
// column of the join table's uniqueness key.
type LegacyReference struct {
	Table        string
	LegacyColumn string
	Column       string
	UniqueWith   string
}

func (r LegacyReference) String() string {
	return r.Table + "." + r.LegacyColumn
}

// LegacyReferences lists every place a legacy identity id can appear.
var LegacyReferences = []LegacyReference{
	{Table: "user_roles", LegacyColumn: "user_id", Column: "personnel_id", UniqueWith: "role_id"},
	{Table: "instructor_schools", LegacyColumn: "user_id", Column: "personnel_id", UniqueWith: "school_id"},
	{Table: "event_instructors", LegacyColumn: "user_id", Column: "personnel_id", UniqueWith: "event_id"},
	{Table: "events", LegacyColumn: "created_by", Column: "created_by"},
	{Table: "personnel_qualifications", LegacyColumn: "awarded_by", Column: "awarded_by"},
	{Table: "rank_history", LegacyColumn: "promoted_by", Column: "promoted_by"},
}

// MergeTx is the transactional surface used by the identity merge.
type MergeTx interface {
	FindPersonnelMatch(ctx context.Context, callSign, email string) (*models.Personnel, error)
	CallSignExists(ctx context.Context, callSign string) (bool, error)
	LowestRankID(ctx context.Context) (*string, error)
	CreatePersonnel(ctx context.Context, p *models.Personnel, creds models.Credentials) error
	AttachCredentials(ctx context.Context, personnelID string, creds models.Credentials) error
	RemapReference(ctx context.Context, ref LegacyReference, oldID, newID string) (int64, error)
	CountReferences(ctx context.Context, ref LegacyReference, oldIDs []string) (int, error)
	DeleteLegacyUsers(ctx context.Context, ids []string) (int64, error)
}

// MigrationRepository reads and rewrites rows left behind by the legacy schemas.
type MigrationRepository struct {
	db *sqlx.DB
}

// NewMigrationRepository creates a new instance of MigrationRepository.
func NewMigrationRepository(db *sqlx.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

// TableExists reports whether table is present in the search path.
func (r *MigrationRepository) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT to_regclass($1) IS NOT NULL`, table); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return exists, nil
}

// ListRoleRows returns every user_roles row in its raw shape.
func (r *MigrationRepository) ListRoleRows(ctx context.Context) ([]models.LegacyRoleRow, error) {
	const query = `SELECT id, personnel_id, user_id, role_id, role FROM user_roles ORDER BY created_at, id`
	var rows []models.LegacyRoleRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list role rows: %w", err)
	}
	return rows, nil
}

// DeleteRoleRow removes one user_roles row.
func (r *MigrationRepository) DeleteRoleRow(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete role row: %w", err)
	}
	return nil
}

// ReplaceRoleRow swaps a legacy string row for a catalog-backed row. A row
// with a personnel id is rewritten as (personnel_id, role_id) with user_id
// cleared; a row keyed only by user_id keeps that column until the identity
// merge remaps it. It reports false when an equivalent row already existed,
// in which case the legacy row is only deleted.
func (r *MigrationRepository) ReplaceRoleRow(ctx context.Context, row models.LegacyRoleRow, roleID string) (inserted bool, err error) {
	err = database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE id = $1`, row.ID); err != nil {
			return fmt.Errorf("delete legacy role row: %w", err)
		}

		var personnelID, userID *string
		existsQuery := `SELECT EXISTS(SELECT 1 FROM user_roles WHERE role_id = $1 AND personnel_id = $2)`
		existsArg := row.PersonnelID
		if row.HasPersonnel() {
			personnelID = row.PersonnelID
		} else {
			userID = row.UserID
			existsQuery = `SELECT EXISTS(SELECT 1 FROM user_roles WHERE role_id = $1 AND user_id = $2 AND personnel_id IS NULL)`
			existsArg = row.UserID
		}

		var exists bool
		if err := tx.GetContext(ctx, &exists, existsQuery, roleID, existsArg); err != nil {
			return fmt.Errorf("check equivalent role row: %w", err)
		}
		if exists {
			return nil
		}

		// ON CONFLICT covers a unique violation against the (personnel_id, role_id) index
		// without aborting the transaction.
		const insertQuery = `INSERT INTO user_roles (id, personnel_id, user_id, role_id, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`
		result, err := tx.ExecContext(ctx, insertQuery, uuid.NewString(), personnelID, userID, roleID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert migrated role row: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert migrated role row: %w", err)
		}
		inserted = affected == 1
		return nil
	})
	return inserted, err
}

// ListLegacyUsers returns the rows of system_users. Callers check TableExists first.
func (r *MigrationRepository) ListLegacyUsers(ctx context.Context) ([]models.LegacySystemUser, error) {
	const query = `SELECT id, email, call_sign, name, password_hash, password_salt, is_active, require_password_change, last_password_change, created_at FROM system_users ORDER BY created_at, id`
	var users []models.LegacySystemUser
	if err := r.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("list legacy users: %w", err)
	}
	return users, nil
}

// TryLock takes the advisory lock that keeps operator runs from overlapping.
func (r *MigrationRepository) TryLock(ctx context.Context) (release func(), acquired bool, err error) {
	return database.TryAdvisoryLock(ctx, r.db, database.LockLegacyMigration)
}

// WithMergeTx runs fn in a single transaction; any error rolls back every write.
func (r *MigrationRepository) WithMergeTx(ctx context.Context, fn func(MergeTx) error) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(&mergeTx{tx: tx})
	})
}

type mergeTx struct {
	tx *sqlx.Tx
}

func (m *mergeTx) FindPersonnelMatch(ctx context.Context, callSign, email string) (*models.Personnel, error) {
	if callSign == "" && email == "" {
		return nil, sql.ErrNoRows
	}
	query := `SELECT ` + personnelColumns + ` FROM personnel
WHERE ($1::text <> '' AND LOWER(call_sign) = LOWER($1::text)) OR ($2::text <> '' AND LOWER(email) = LOWER($2::text))
ORDER BY ($1::text <> '' AND LOWER(call_sign) = LOWER($1::text)) DESC, created_at
LIMIT 1`
	var p models.Personnel
	if err := m.tx.GetContext(ctx, &p, query, callSign, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("match personnel: %w", err)
	}
	return &p, nil
}

func (m *mergeTx) CallSignExists(ctx context.Context, callSign string) (bool, error) {
	var exists bool
	if err := m.tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM personnel WHERE LOWER(call_sign) = LOWER($1))`, callSign); err != nil {
		return false, fmt.Errorf("check call sign: %w", err)
	}
	return exists, nil
}

func (m *mergeTx) LowestRankID(ctx context.Context) (*string, error) {
	var id string
	if err := m.tx.GetContext(ctx, &id, `SELECT id::text FROM ranks ORDER BY sort_order LIMIT 1`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("lowest rank: %w", err)
	}
	return &id, nil
}

func (m *mergeTx) CreatePersonnel(ctx context.Context, p *models.Personnel, creds models.Credentials) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if p.JoinDate.IsZero() {
		p.JoinDate = now
	}
	if p.Status == "" {
		p.Status = models.PersonnelStatusActive
	}
	if creds.PasswordHash != "" {
		p.PasswordHash = &creds.PasswordHash
		p.PasswordSalt = &creds.PasswordSalt
		p.IsActive = &creds.IsActive
		p.RequirePasswordChange = &creds.RequirePasswordChange
		p.LastPasswordChange = creds.LastPasswordChange
	}

	query := `INSERT INTO personnel (` + personnelColumns + `) VALUES (:id, :call_sign, :first_name, :last_name, :email, :phone, :rank_id, :status, :join_date, :discharge_date, :notes, :password_hash, :password_salt, :is_active, :require_password_change, :last_password_change, :created_at, :updated_at)`
	if _, err := m.tx.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create personnel from legacy user: %w", err)
	}
	return nil
}

func (m *mergeTx) AttachCredentials(ctx context.Context, personnelID string, creds models.Credentials) error {
	const query = `UPDATE personnel SET password_hash = $2, password_salt = $3, is_active = $4, require_password_change = $5, last_password_change = $6, updated_at = $7 WHERE id = $1`
	res, err := m.tx.ExecContext(ctx, query, personnelID, creds.PasswordHash, creds.PasswordSalt, creds.IsActive, creds.RequirePasswordChange, creds.LastPasswordChange, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("attach credentials: %w", err)
	}
	return requireAffected(res)
}

// RemapReference rewrites oldID to newID. For join tables, rows that would
// collide with an existing row in the personnel space are dropped first.
func (m *mergeTx) RemapReference(ctx context.Context, ref LegacyReference, oldID, newID string) (int64, error) {
	if ref.Column == ref.LegacyColumn {
		query := fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE %s = $1`, ref.Table, ref.Column, ref.LegacyColumn)
		res, err := m.tx.ExecContext(ctx, query, oldID, newID)
		if err != nil {
			return 0, fmt.Errorf("remap %s: %w", ref, err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}

	dedupe := fmt.Sprintf(`DELETE FROM %[1]s a WHERE a.%[2]s = $1 AND EXISTS (
SELECT 1 FROM %[1]s b WHERE b.%[4]s = a.%[4]s AND b.id <> a.id
AND (b.%[3]s = $2 OR (b.%[2]s = $1 AND b.id < a.id)))`, ref.Table, ref.LegacyColumn, ref.Column, ref.UniqueWith)
	if _, err := m.tx.ExecContext(ctx, dedupe, oldID, newID); err != nil {
		return 0, fmt.Errorf("dedupe %s: %w", ref, err)
	}

	update := fmt.Sprintf(`UPDATE %s SET %s = $2, %s = NULL WHERE %s = $1`, ref.Table, ref.Column, ref.LegacyColumn, ref.LegacyColumn)
	res, err := m.tx.ExecContext(ctx, update, oldID, newID)
	if err != nil {
		return 0, fmt.Errorf("remap %s: %w", ref, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (m *mergeTx) CountReferences(ctx context.Context, ref LegacyReference, oldIDs []string) (int, error) {
	if len(oldIDs) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s = ANY($1)`, ref.Table, ref.LegacyColumn)
	var count int
	if err := m.tx.GetContext(ctx, &count, query, pq.Array(oldIDs)); err != nil {
		return 0, fmt.Errorf("verify %s: %w", ref, err)
	}
	return count, nil
}

func (m *mergeTx) DeleteLegacyUsers(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := m.tx.ExecContext(ctx, `DELETE FROM system_users WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete legacy users: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
