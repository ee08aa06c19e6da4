package models

import "time"

// Rank is ordered by SortOrder; 1 is the lowest rank.
type Rank struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Abbreviation string    `db:"abbreviation" json:"abbreviation"`
	SortOrder    int       `db:"sort_order" json:"sortOrder"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// RankHistory records a promotion or demotion.
type RankHistory struct {
	ID          string    `db:"id" json:"id"`
	PersonnelID string    `db:"personnel_id" json:"personnelId"`
	RankID      string    `db:"rank_id" json:"rankId"`
	PromotedAt  time.Time `db:"promoted_at" json:"promotedAt"`
	PromotedBy  *string   `db:"promoted_by" json:"promotedBy,omitempty"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
}
