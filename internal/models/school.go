package models

import "time"

// School is a training school that owns qualifications.
type School struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Abbreviation string    `db:"abbreviation" json:"abbreviation"`
	Description  *string   `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// SchoolAssignment scopes an instructor to a school.
type SchoolAssignment struct {
	ID          string    `db:"id" json:"id"`
	PersonnelID string    `db:"personnel_id" json:"personnelId"`
	SchoolID    string    `db:"school_id" json:"schoolId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// SchoolAssignmentDetail enriches an assignment with school naming.
type SchoolAssignmentDetail struct {
	SchoolAssignment
	SchoolName         string `db:"school_name" json:"schoolName"`
	SchoolAbbreviation string `db:"school_abbreviation" json:"schoolAbbreviation"`
}

// Qualification is awarded by exactly one school.
type Qualification struct {
	ID           string    `db:"id" json:"id"`
	SchoolID     string    `db:"school_id" json:"schoolId"`
	Name         string    `db:"name" json:"name"`
	Abbreviation string    `db:"abbreviation" json:"abbreviation"`
	Description  *string   `db:"description" json:"description,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// PersonnelQualification records an award.
type PersonnelQualification struct {
	ID              string    `db:"id" json:"id"`
	PersonnelID     string    `db:"personnel_id" json:"personnelId"`
	QualificationID string    `db:"qualification_id" json:"qualificationId"`
	AwardedAt       time.Time `db:"awarded_at" json:"awardedAt"`
	AwardedBy       *string   `db:"awarded_by" json:"awardedBy,omitempty"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
}

// PersonnelQualificationDetail joins the qualification and school names.
type PersonnelQualificationDetail struct {
	PersonnelQualification
	QualificationName string `db:"qualification_name" json:"qualificationName"`
	Abbreviation      string `db:"abbreviation" json:"abbreviation"`
	SchoolID          string `db:"school_id" json:"schoolId"`
	SchoolName        string `db:"school_name" json:"schoolName"`
}
