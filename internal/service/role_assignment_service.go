package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/cache"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type roleLedger interface {
	Replace(ctx context.Context, personnelID string, roleIDs []string) error
}

type roleByNameLookup interface {
	GetRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error)
}

type roleAuthorizer interface {
	RequireAuth(ctx context.Context, identityRef string) (*models.Personnel, error)
	RequireRole(ctx context.Context, identityRef string, minimum models.RoleName) (*models.Personnel, error)
	ResolveRoles(ctx context.Context, personnelID string) ([]models.RoleName, error)
	HasRole(ctx context.Context, personnelID string, minimum models.RoleName) (bool, error)
}

type rosterCacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// RoleAssignmentService edits the roles held by an identity.
type RoleAssignmentService struct {
	authz     roleAuthorizer
	personnel identityReader
	catalog   roleByNameLookup
	ledger    roleLedger
	audit     auditWriter
	cache     rosterCacheInvalidator
	logger    *zap.Logger
}

// NewRoleAssignmentService constructs the service.
func NewRoleAssignmentService(authz roleAuthorizer, personnel identityReader, catalog roleByNameLookup, ledger roleLedger, audit auditWriter, cache rosterCacheInvalidator, logger *zap.Logger) *RoleAssignmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleAssignmentService{authz: authz, personnel: personnel, catalog: catalog, ledger: ledger, audit: audit, cache: cache, logger: logger}
}

// UpdateUserRoles replaces the full role set of targetID with names and
// returns the effective role names. Names the catalog does not know are
// dropped.
func (s *RoleAssignmentService) UpdateUserRoles(ctx context.Context, requesterRef, targetID string, names []string) ([]models.RoleName, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return nil, err
	}
	target, err := s.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	seen := make(map[models.RoleName]struct{}, len(names))
	effective := make([]models.RoleName, 0, len(names))
	roleIDs := make([]string, 0, len(names))
	for _, raw := range names {
		name := models.NormalizeRoleName(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		role, err := s.catalog.GetRoleByName(ctx, name)
		if err != nil {
			if errors.Is(err, appErrors.ErrRoleNotFound) {
				s.logger.Warn("skipping unknown role in role update",
					zap.String("target_id", target.ID),
					zap.String("role", raw))
				continue
			}
			return nil, err
		}
		effective = append(effective, role.RoleName)
		roleIDs = append(roleIDs, role.ID)
	}

	current, err := s.authz.ResolveRoles(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	if containsRole(effective, models.RoleSuperAdmin) || containsRole(current, models.RoleSuperAdmin) {
		isSuper, err := s.authz.HasRole(ctx, requester.ID, models.RoleSuperAdmin)
		if err != nil {
			return nil, err
		}
		if !isSuper {
			return nil, appErrors.InsufficientRole(string(models.RoleSuperAdmin))
		}
	}

	if err := s.ledger.Replace(ctx, target.ID, roleIDs); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace roles")
	}

	sort.SliceStable(effective, func(i, j int) bool { return effective[i].Level() > effective[j].Level() })

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionRolesReplace,
		Resource:   "personnel_roles",
		ResourceID: target.ID,
		Old:        map[string]interface{}{"roles": current},
		New:        map[string]interface{}{"roles": effective},
	})
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, cache.Key("personnel", "*"))
	}

	s.logger.Info("roles replaced",
		zap.String("actor_id", requester.ID),
		zap.String("target_id", target.ID),
		zap.Int("roles", len(effective)))
	return effective, nil
}

// ListUserRoles returns the catalog entries held by targetID.
func (s *RoleAssignmentService) ListUserRoles(ctx context.Context, requesterRef, targetID string) ([]models.Role, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator); err != nil {
		return nil, err
	}
	target, err := s.loadTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	names, err := s.authz.ResolveRoles(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	roles := make([]models.Role, 0, len(names))
	for _, name := range names {
		role, err := s.catalog.GetRoleByName(ctx, name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *role)
	}
	return roles, nil
}

func (s *RoleAssignmentService) loadTarget(ctx context.Context, targetID string) (*models.Personnel, error) {
	target, err := s.personnel.FindByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load personnel")
	}
	return target, nil
}

func containsRole(roles []models.RoleName, want models.RoleName) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
