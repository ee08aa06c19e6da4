package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

const personnelColumns = `id, call_sign, first_name, last_name, email, phone, rank_id, status, join_date, discharge_date, notes, password_hash, password_salt, is_active, require_password_change, last_password_change, created_at, updated_at`

// PersonnelRepository provides database access for identity records and their sessions.
type PersonnelRepository struct {
	db *sqlx.DB
}

// NewPersonnelRepository creates a new instance of PersonnelRepository.
func NewPersonnelRepository(db *sqlx.DB) *PersonnelRepository {
	return &PersonnelRepository{db: db}
}

// FindByID returns a personnel record by identifier.
func (r *PersonnelRepository) FindByID(ctx context.Context, id string) (*models.Personnel, error) {
	query := `SELECT ` + personnelColumns + ` FROM personnel WHERE id = $1 LIMIT 1`
	var p models.Personnel
	if err := r.db.GetContext(ctx, &p, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find personnel by id: %w", err)
	}
	return &p, nil
}

// FindByLogin resolves a login identifier, matching call sign first and then email, case-insensitively.
func (r *PersonnelRepository) FindByLogin(ctx context.Context, identifier string) (*models.Personnel, error) {
	query := `SELECT ` + personnelColumns + ` FROM personnel WHERE LOWER(call_sign) = LOWER($1) OR LOWER(email) = LOWER($1) ORDER BY (LOWER(call_sign) = LOWER($1)) DESC LIMIT 1`
	var p models.Personnel
	if err := r.db.GetContext(ctx, &p, query, strings.TrimSpace(identifier)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find personnel by login: %w", err)
	}
	return &p, nil
}

// CallSignExists reports whether a call sign is taken, ignoring case.
func (r *PersonnelRepository) CallSignExists(ctx context.Context, callSign string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM personnel WHERE LOWER(call_sign) = LOWER($1))`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, callSign); err != nil {
		return false, fmt.Errorf("check call sign: %w", err)
	}
	return exists, nil
}

// List returns roster entries based on filters with total count.
func (r *PersonnelRepository) List(ctx context.Context, filter models.PersonnelFilter) ([]models.RosterEntry, int, error) {
	baseQuery := `FROM personnel p LEFT JOIN ranks rk ON rk.id = p.rank_id WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("p.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(p.call_sign) LIKE $%d OR LOWER(COALESCE(p.first_name, '') || ' ' || COALESCE(p.last_name, '')) LIKE $%d OR LOWER(COALESCE(p.email, '')) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"call_sign":  "p.call_sign",
		"join_date":  "p.join_date",
		"created_at": "p.created_at",
		"rank":       "rk.sort_order",
	}
	sortBy, ok := allowedSorts[filter.SortBy]
	if !ok {
		sortBy = "p.call_sign"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	columns := "p." + strings.ReplaceAll(personnelColumns, ", ", ", p.") + ", rk.name AS rank_name, rk.abbreviation AS rank_abbreviation"
	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", columns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var entries []models.RosterEntry
	if err := r.db.SelectContext(ctx, &entries, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list personnel: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count personnel: %w", err)
	}

	return entries, total, nil
}

// Create inserts a roster record without login fields.
func (r *PersonnelRepository) Create(ctx context.Context, p *models.Personnel) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.JoinDate.IsZero() {
		p.JoinDate = now
	}
	if p.Status == "" {
		p.Status = models.PersonnelStatusActive
	}
	p.UpdatedAt = now

	const query = `INSERT INTO personnel (id, call_sign, first_name, last_name, email, phone, rank_id, status, join_date, notes, created_at, updated_at) VALUES (:id, :call_sign, :first_name, :last_name, :email, :phone, :rank_id, :status, :join_date, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("create personnel: %w", err)
	}
	return nil
}

// Archive discharges a member. Login, when present, is disabled but its
// credentials are kept.
func (r *PersonnelRepository) Archive(ctx context.Context, id string, dischargedAt time.Time) error {
	const query = `UPDATE personnel SET status = 'discharged', discharge_date = $2, is_active = CASE WHEN password_hash IS NULL THEN NULL ELSE FALSE END, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, dischargedAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive personnel: %w", err)
	}
	return requireAffected(res)
}

// SetCredentials writes the full login group.
func (r *PersonnelRepository) SetCredentials(ctx context.Context, id string, creds models.Credentials) error {
	const query = `UPDATE personnel SET password_hash = $2, password_salt = $3, is_active = $4, require_password_change = $5, last_password_change = $6, updated_at = $7 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, creds.PasswordHash, creds.PasswordSalt, creds.IsActive, creds.RequirePasswordChange, creds.LastPasswordChange, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set credentials: %w", err)
	}
	return requireAffected(res)
}

// ClearCredentials removes the login group. The roster record stays.
func (r *PersonnelRepository) ClearCredentials(ctx context.Context, id string) error {
	const query = `UPDATE personnel SET password_hash = NULL, password_salt = NULL, is_active = NULL, require_password_change = NULL, last_password_change = NULL, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return requireAffected(res)
}

// UpdatePassword replaces hash and salt and clears the forced-change flag.
func (r *PersonnelRepository) UpdatePassword(ctx context.Context, id, passwordHash, salt string, changedAt time.Time) error {
	const query = `UPDATE personnel SET password_hash = $2, password_salt = $3, require_password_change = FALSE, last_password_change = $4, updated_at = $4 WHERE id = $1 AND password_hash IS NOT NULL`
	res, err := r.db.ExecContext(ctx, query, id, passwordHash, salt, changedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireAffected(res)
}

// Promote sets a new rank and appends the rank history entry in one transaction.
func (r *PersonnelRepository) Promote(ctx context.Context, entry *models.RankHistory) (err error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PromotedAt.IsZero() {
		entry.PromotedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin promote tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE personnel SET rank_id = $2, updated_at = $3 WHERE id = $1`, entry.PersonnelID, entry.RankID, entry.PromotedAt)
	if err != nil {
		return fmt.Errorf("update personnel rank: %w", err)
	}
	if err = requireAffected(res); err != nil {
		return err
	}
	const historyQuery = `INSERT INTO rank_history (id, personnel_id, rank_id, promoted_at, promoted_by, notes) VALUES (:id, :personnel_id, :rank_id, :promoted_at, :promoted_by, :notes)`
	if _, err = tx.NamedExecContext(ctx, historyQuery, entry); err != nil {
		return fmt.Errorf("insert rank history: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit promote tx: %w", err)
	}
	return nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *PersonnelRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, personnel_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent) VALUES (:id, :personnel_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by token string.
func (r *PersonnelRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const query = `SELECT id, personnel_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked.
func (r *PersonnelRepository) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllRefreshTokens revokes every live token of an identity and returns how many were revoked.
func (r *PersonnelRepository) RevokeAllRefreshTokens(ctx context.Context, personnelID string) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE personnel_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, personnelID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("revoke personnel refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeRefreshTokens deletes tokens that expired or were revoked before the cutoff.
func (r *PersonnelRepository) PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1 OR (revoked AND revoked_at < $1)`
	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge refresh tokens: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
