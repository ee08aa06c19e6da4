package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type schoolStore interface {
	List(ctx context.Context) ([]models.School, error)
	FindByID(ctx context.Context, id string) (*models.School, error)
	Update(ctx context.Context, school *models.School) error
	ListQualifications(ctx context.Context, schoolID string) ([]models.Qualification, error)
	FindQualification(ctx context.Context, id string) (*models.Qualification, error)
	ListAwards(ctx context.Context, personnelID string) ([]models.PersonnelQualificationDetail, error)
	Award(ctx context.Context, award *models.PersonnelQualification) (bool, error)
	RevokeAward(ctx context.Context, personnelID, qualificationID string) error
}

type capabilityChecker interface {
	CanAwardQualification(ctx context.Context, identityRef, qualificationID string) (bool, error)
	CanManageSchool(ctx context.Context, identityRef, schoolID string) (bool, error)
}

// UpdateSchoolRequest edits a school's descriptive fields.
type UpdateSchoolRequest struct {
	Name         string  `json:"name" validate:"required,max=128"`
	Abbreviation string  `json:"abbreviation" validate:"required,max=16"`
	Description  *string `json:"description"`
}

// AwardQualificationRequest awards a qualification to a member.
type AwardQualificationRequest struct {
	QualificationID string  `json:"qualificationId" validate:"required"`
	Notes           *string `json:"notes"`
}

// SchoolService serves schools and the qualifications they award.
type SchoolService struct {
	repo         schoolStore
	personnel    identityReader
	authz        roleAuthorizer
	capabilities capabilityChecker
	audit        auditWriter
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewSchoolService constructs the school service.
func NewSchoolService(repo schoolStore, personnel identityReader, authz roleAuthorizer, capabilities capabilityChecker, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *SchoolService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolService{repo: repo, personnel: personnel, authz: authz, capabilities: capabilities, audit: audit, validator: validate, logger: logger}
}

// ListSchools returns every school.
func (s *SchoolService) ListSchools(ctx context.Context, requesterRef string) ([]models.School, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	schools, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schools")
	}
	if schools == nil {
		schools = []models.School{}
	}
	return schools, nil
}

// UpdateSchool edits a school the requester may manage.
func (s *SchoolService) UpdateSchool(ctx context.Context, requesterRef, schoolID string, req UpdateSchoolRequest) (*models.School, error) {
	requester, err := s.authz.RequireAuth(ctx, requesterRef)
	if err != nil {
		return nil, err
	}
	allowed, err := s.capabilities.CanManageSchool(ctx, requester.ID, schoolID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not permitted to manage this school")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid school payload")
	}

	school, err := s.repo.FindByID(ctx, schoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSchoolNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	before := *school
	school.Name = req.Name
	school.Abbreviation = req.Abbreviation
	school.Description = req.Description
	if err := s.repo.Update(ctx, school); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSchoolNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update school")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionSchoolUpdate,
		Resource:   "school",
		ResourceID: school.ID,
		Old:        before,
		New:        school,
	})
	return school, nil
}

// ListQualifications returns qualifications, optionally for one school.
func (s *SchoolService) ListQualifications(ctx context.Context, requesterRef, schoolID string) ([]models.Qualification, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	quals, err := s.repo.ListQualifications(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list qualifications")
	}
	if quals == nil {
		quals = []models.Qualification{}
	}
	return quals, nil
}

// ListPersonnelQualifications returns the awards held by a member.
func (s *SchoolService) ListPersonnelQualifications(ctx context.Context, requesterRef, personnelID string) ([]models.PersonnelQualificationDetail, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	awards, err := s.repo.ListAwards(ctx, personnelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list awards")
	}
	if awards == nil {
		awards = []models.PersonnelQualificationDetail{}
	}
	return awards, nil
}

// AwardQualification awards a qualification when the requester may award it.
func (s *SchoolService) AwardQualification(ctx context.Context, requesterRef, personnelID string, req AwardQualificationRequest) (*models.PersonnelQualification, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid award payload")
	}
	requester, err := s.requireAwarder(ctx, requesterRef, req.QualificationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.FindQualification(ctx, req.QualificationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrQualificationNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load qualification")
	}
	if _, err := s.personnel.FindByID(ctx, personnelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load personnel")
	}

	awardedBy := requester.ID
	award := &models.PersonnelQualification{
		PersonnelID:     personnelID,
		QualificationID: req.QualificationID,
		AwardedBy:       &awardedBy,
		Notes:           req.Notes,
	}
	inserted, err := s.repo.Award(ctx, award)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to award qualification")
	}
	if !inserted {
		return nil, appErrors.Clone(appErrors.ErrConflict, "qualification already awarded")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionQualificationAdd,
		Resource:   "personnel_qualification",
		ResourceID: personnelID,
		New:        award,
	})
	return award, nil
}

// RevokeQualification removes an award when the requester may award it.
func (s *SchoolService) RevokeQualification(ctx context.Context, requesterRef, personnelID, qualificationID string) error {
	requester, err := s.requireAwarder(ctx, requesterRef, qualificationID)
	if err != nil {
		return err
	}
	if err := s.repo.RevokeAward(ctx, personnelID, qualificationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "qualification is not held")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke qualification")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionQualificationDrop,
		Resource:   "personnel_qualification",
		ResourceID: personnelID,
		Old:        map[string]string{"qualificationId": qualificationID},
	})
	return nil
}

func (s *SchoolService) requireAwarder(ctx context.Context, requesterRef, qualificationID string) (*models.Personnel, error) {
	requester, err := s.authz.RequireAuth(ctx, requesterRef)
	if err != nil {
		return nil, err
	}
	allowed, err := s.capabilities.CanAwardQualification(ctx, requester.ID, qualificationID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not permitted to award this qualification")
	}
	return requester, nil
}
