package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

const maxIdentityRefLength = 128

type identityReader interface {
	FindByID(ctx context.Context, id string) (*models.Personnel, error)
}

type roleAssignmentReader interface {
	ListByPersonnel(ctx context.Context, personnelID string) ([]models.RoleAssignment, error)
}

type roleByIDLookup interface {
	GetRoleByID(ctx context.Context, id string) (*models.Role, error)
}

type schoolScopeReader interface {
	Exists(ctx context.Context, personnelID, schoolID string) (bool, error)
}

type qualificationReader interface {
	FindQualification(ctx context.Context, id string) (*models.Qualification, error)
}

// AuthorizationService answers every "may this identity do that" question.
type AuthorizationService struct {
	personnel   identityReader
	assignments roleAssignmentReader
	catalog     roleByIDLookup
	scopes      schoolScopeReader
	quals       qualificationReader
	metrics     *MetricsService
	logger      *zap.Logger
}

// NewAuthorizationService constructs the authorization engine.
func NewAuthorizationService(personnel identityReader, assignments roleAssignmentReader, catalog roleByIDLookup, scopes schoolScopeReader, quals qualificationReader, metrics *MetricsService, logger *zap.Logger) *AuthorizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthorizationService{
		personnel:   personnel,
		assignments: assignments,
		catalog:     catalog,
		scopes:      scopes,
		quals:       quals,
		metrics:     metrics,
		logger:      logger,
	}
}

// RequireAuth resolves identityRef to an identity that may use the system.
func (s *AuthorizationService) RequireAuth(ctx context.Context, identityRef string) (*models.Personnel, error) {
	p, err := s.requireAuth(ctx, identityRef)
	s.record("require_auth", err == nil, err)
	return p, err
}

// RequireRole is RequireAuth plus a minimum role level.
func (s *AuthorizationService) RequireRole(ctx context.Context, identityRef string, minimum models.RoleName) (*models.Personnel, error) {
	p, err := s.requireRole(ctx, identityRef, minimum)
	s.record("require_role", err == nil, err)
	return p, err
}

// ResolveRoles returns the canonical role names held by an identity, highest
// first. Assignments pointing at catalog ids that no longer exist are skipped.
func (s *AuthorizationService) ResolveRoles(ctx context.Context, personnelID string) ([]models.RoleName, error) {
	assignments, err := s.assignments.ListByPersonnel(ctx, personnelID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role assignments")
	}

	seen := make(map[models.RoleName]struct{}, len(assignments))
	roles := make([]models.RoleName, 0, len(assignments))
	for _, a := range assignments {
		role, err := s.catalog.GetRoleByID(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, appErrors.ErrRoleNotFound) {
				s.logger.Debug("skipping dangling role assignment",
					zap.String("personnel_id", personnelID),
					zap.String("role_id", a.RoleID))
				continue
			}
			return nil, err
		}
		if _, dup := seen[role.RoleName]; dup {
			continue
		}
		seen[role.RoleName] = struct{}{}
		roles = append(roles, role.RoleName)
	}

	sort.SliceStable(roles, func(i, j int) bool { return roles[i].Level() > roles[j].Level() })
	return roles, nil
}

// HasRole reports whether the identity's highest role meets minimum. It does
// not check system access.
func (s *AuthorizationService) HasRole(ctx context.Context, personnelID string, minimum models.RoleName) (bool, error) {
	roles, err := s.ResolveRoles(ctx, personnelID)
	if err != nil {
		return false, err
	}
	_, level := models.HighestRole(roles)
	return meetsMinimum(level, minimum), nil
}

// CanAwardQualification decides whether identityRef may award or revoke
// qualificationID. Instructors are limited to qualifications of their schools.
func (s *AuthorizationService) CanAwardQualification(ctx context.Context, identityRef, qualificationID string) (bool, error) {
	allowed, err := s.capability(ctx, identityRef, func(p *models.Personnel) (bool, error) {
		q, err := s.quals.FindQualification(ctx, qualificationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load qualification")
		}
		return s.scoped(ctx, p.ID, q.SchoolID)
	})
	s.record("can_award_qualification", allowed, err)
	return allowed, err
}

// CanManageSchool decides whether identityRef may manage schoolID.
func (s *AuthorizationService) CanManageSchool(ctx context.Context, identityRef, schoolID string) (bool, error) {
	allowed, err := s.capability(ctx, identityRef, func(p *models.Personnel) (bool, error) {
		return s.scoped(ctx, p.ID, schoolID)
	})
	s.record("can_manage_school", allowed, err)
	return allowed, err
}

func (s *AuthorizationService) requireAuth(ctx context.Context, identityRef string) (*models.Personnel, error) {
	ref := strings.TrimSpace(identityRef)
	if ref == "" {
		return nil, appErrors.Clone(appErrors.ErrNotAuthenticated, "")
	}
	if !wellFormedRef(ref) {
		return nil, appErrors.Clone(appErrors.ErrIdentityNotFound, "")
	}

	p, err := s.personnel.FindByID(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrIdentityNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}
	if !p.HasSystemAccess() {
		return nil, appErrors.Clone(appErrors.ErrNoSystemAccess, "")
	}
	if p.LoginDisabled() {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "")
	}
	return p, nil
}

func (s *AuthorizationService) requireRole(ctx context.Context, identityRef string, minimum models.RoleName) (*models.Personnel, error) {
	p, err := s.requireAuth(ctx, identityRef)
	if err != nil {
		return nil, err
	}
	roles, err := s.ResolveRoles(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	_, level := models.HighestRole(roles)
	if !meetsMinimum(level, minimum) {
		s.logger.Debug("role check denied",
			zap.String("personnel_id", p.ID),
			zap.String("required", string(minimum)),
			zap.Int("level", level))
		return nil, appErrors.InsufficientRole(string(minimum))
	}
	return p, nil
}

// capability runs the shared decision tree; scopedCheck decides for instructors.
func (s *AuthorizationService) capability(ctx context.Context, identityRef string, scopedCheck func(*models.Personnel) (bool, error)) (bool, error) {
	ref := strings.TrimSpace(identityRef)
	if ref == "" {
		return false, appErrors.Clone(appErrors.ErrNotAuthenticated, "")
	}
	if !wellFormedRef(ref) {
		return false, nil
	}

	p, err := s.personnel.FindByID(ctx, ref)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load identity")
	}
	if !p.CanSignIn() {
		return false, nil
	}

	roles, err := s.ResolveRoles(ctx, p.ID)
	if err != nil {
		return false, err
	}
	highest, _ := models.HighestRole(roles)
	switch highest {
	case models.RoleSuperAdmin, models.RoleAdministrator:
		return true, nil
	case models.RoleInstructor:
		return scopedCheck(p)
	default:
		return false, nil
	}
}

func (s *AuthorizationService) scoped(ctx context.Context, personnelID, schoolID string) (bool, error) {
	ok, err := s.scopes.Exists(ctx, personnelID, schoolID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check school assignment")
	}
	return ok, nil
}

func (s *AuthorizationService) record(check string, allowed bool, err error) {
	outcome := "deny"
	switch {
	case err != nil:
		if code := appErrors.CodeOf(err); code != "" {
			outcome = strings.ToLower(code)
		} else {
			outcome = "error"
		}
	case allowed:
		outcome = "allow"
	}
	s.metrics.RecordAuthzDecision(check, outcome)
}

func meetsMinimum(level int, minimum models.RoleName) bool {
	return level > 0 && level >= minimum.Level()
}

// wellFormedRef rejects refs no identity id could ever match.
func wellFormedRef(ref string) bool {
	if len(ref) > maxIdentityRefLength {
		return false
	}
	return strings.IndexFunc(ref, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}
