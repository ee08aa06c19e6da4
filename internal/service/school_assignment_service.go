package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

const pgUniqueViolation = "23505"

type schoolAssignmentStore interface {
	Exists(ctx context.Context, personnelID, schoolID string) (bool, error)
	Create(ctx context.Context, a *models.SchoolAssignment) error
	Delete(ctx context.Context, personnelID, schoolID string) error
	ListByPersonnel(ctx context.Context, personnelID string) ([]models.SchoolAssignmentDetail, error)
}

type schoolReader interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

type roleLookup interface {
	GetRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error)
}

type roleHolders interface {
	Exists(ctx context.Context, personnelID, roleID string) (bool, error)
}

// SchoolAssignmentService scopes instructors to the schools they teach for.
type SchoolAssignmentService struct {
	authz   roleAuthorizer
	catalog roleLookup
	holders roleHolders
	schools schoolReader
	store   schoolAssignmentStore
	audit   auditWriter
	logger  *zap.Logger
}

// NewSchoolAssignmentService constructs the service.
func NewSchoolAssignmentService(authz roleAuthorizer, catalog roleLookup, holders roleHolders, schools schoolReader, store schoolAssignmentStore, audit auditWriter, logger *zap.Logger) *SchoolAssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchoolAssignmentService{authz: authz, catalog: catalog, holders: holders, schools: schools, store: store, audit: audit, logger: logger}
}

// AssignInstructorToSchool scopes an instructor to a school.
func (s *SchoolAssignmentService) AssignInstructorToSchool(ctx context.Context, requesterRef, personnelID, schoolID string) (*models.SchoolAssignment, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return nil, err
	}

	if _, err := s.schools.FindByID(ctx, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrSchoolNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}

	instructor, err := s.catalog.GetRoleByName(ctx, models.RoleInstructor)
	if err != nil {
		return nil, err
	}
	holds, err := s.holders.Exists(ctx, personnelID, instructor.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check instructor role")
	}
	if !holds {
		return nil, appErrors.Clone(appErrors.ErrNotAnInstructor, "")
	}

	exists, err := s.store.Exists(ctx, personnelID, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check school assignment")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "")
	}

	assignment := &models.SchoolAssignment{PersonnelID: personnelID, SchoolID: schoolID}
	if err := s.store.Create(ctx, assignment); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return nil, appErrors.Clone(appErrors.ErrAlreadyAssigned, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign instructor")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionSchoolAssign,
		Resource:   "instructor_schools",
		ResourceID: assignment.ID,
		New:        assignment,
	})
	return assignment, nil
}

// RemoveInstructorFromSchool removes an instructor's school scope.
func (s *SchoolAssignmentService) RemoveInstructorFromSchool(ctx context.Context, requesterRef, personnelID, schoolID string) error {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, personnelID, schoolID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrAssignmentNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove school assignment")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionSchoolUnassign,
		Resource:   "instructor_schools",
		ResourceID: personnelID,
		Old:        map[string]string{"personnelId": personnelID, "schoolId": schoolID},
	})
	return nil
}

// ListInstructorSchools lists the schools of personnelID. Instructors may
// list their own; anyone else needs administrator.
func (s *SchoolAssignmentService) ListInstructorSchools(ctx context.Context, requesterRef, personnelID string) ([]models.SchoolAssignmentDetail, error) {
	requester, err := s.authz.RequireAuth(ctx, requesterRef)
	if err != nil {
		return nil, err
	}
	if requester.ID != personnelID {
		ok, err := s.authz.HasRole(ctx, requester.ID, models.RoleAdministrator)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, appErrors.InsufficientRole(string(models.RoleAdministrator))
		}
	}

	assignments, err := s.store.ListByPersonnel(ctx, personnelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list school assignments")
	}
	if assignments == nil {
		assignments = []models.SchoolAssignmentDetail{}
	}
	return assignments, nil
}
