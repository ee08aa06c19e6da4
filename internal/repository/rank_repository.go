package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/anzac2cdo/roster-api/internal/models"
)

// RankRepository reads rank reference data.
type RankRepository struct {
	db *sqlx.DB
}

// NewRankRepository creates a new instance of RankRepository.
func NewRankRepository(db *sqlx.DB) *RankRepository {
	return &RankRepository{db: db}
}

// List returns ranks from lowest to highest.
func (r *RankRepository) List(ctx context.Context) ([]models.Rank, error) {
	const query = `SELECT id, name, abbreviation, sort_order, created_at FROM ranks ORDER BY sort_order`
	var ranks []models.Rank
	if err := r.db.SelectContext(ctx, &ranks, query); err != nil {
		return nil, fmt.Errorf("list ranks: %w", err)
	}
	return ranks, nil
}

// FindByID returns a rank by identifier.
func (r *RankRepository) FindByID(ctx context.Context, id string) (*models.Rank, error) {
	const query = `SELECT id, name, abbreviation, sort_order, created_at FROM ranks WHERE id::text = $1`
	var rank models.Rank
	if err := r.db.GetContext(ctx, &rank, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find rank: %w", err)
	}
	return &rank, nil
}
