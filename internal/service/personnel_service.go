package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/cache"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type personnelStore interface {
	FindByID(ctx context.Context, id string) (*models.Personnel, error)
	CallSignExists(ctx context.Context, callSign string) (bool, error)
	List(ctx context.Context, filter models.PersonnelFilter) ([]models.RosterEntry, int, error)
	Create(ctx context.Context, p *models.Personnel) error
	Archive(ctx context.Context, id string, dischargedAt time.Time) error
	SetCredentials(ctx context.Context, id string, creds models.Credentials) error
	ClearCredentials(ctx context.Context, id string) error
	Promote(ctx context.Context, entry *models.RankHistory) error
}

type rankReader interface {
	FindByID(ctx context.Context, id string) (*models.Rank, error)
}

type sessionTerminator interface {
	ForceSignOut(ctx context.Context, personnelID, reason string) error
}

type rosterCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// CreatePersonnelRequest adds a roster record. Login is granted separately.
type CreatePersonnelRequest struct {
	CallSign  string  `json:"callSign" validate:"required,max=64"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Phone     *string `json:"phone"`
	RankID    *string `json:"rankId"`
	Status    string  `json:"status" validate:"omitempty,oneof=active inactive leave discharged"`
	Notes     *string `json:"notes"`
}

// PromoteRequest moves an identity to another rank.
type PromoteRequest struct {
	RankID string  `json:"rankId" validate:"required"`
	Notes  *string `json:"notes"`
}

// GrantSystemAccessRequest sets the initial password of a roster record.
type GrantSystemAccessRequest struct {
	Password              string `json:"password" validate:"required,min=8"`
	RequirePasswordChange *bool  `json:"requirePasswordChange"`
}

type rosterPage struct {
	Entries []models.RosterEntry `json:"entries"`
	Total   int                  `json:"total"`
}

// PersonnelService manages roster records and their login group.
type PersonnelService struct {
	repo      personnelStore
	ranks     rankReader
	authz     roleAuthorizer
	sessions  sessionTerminator
	cache     rosterCache
	audit     auditWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewPersonnelService constructs the personnel service.
func NewPersonnelService(repo personnelStore, ranks rankReader, authz roleAuthorizer, sessions sessionTerminator, cache rosterCache, audit auditWriter, validate *validator.Validate, logger *zap.Logger) *PersonnelService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersonnelService{repo: repo, ranks: ranks, authz: authz, sessions: sessions, cache: cache, audit: audit, validator: validate, logger: logger}
}

// List returns a page of the roster. Pages are cached until the next roster write.
func (s *PersonnelService) List(ctx context.Context, requesterRef string, filter models.PersonnelFilter) ([]models.RosterEntry, *models.Pagination, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	switch {
	case filter.PageSize <= 0:
		filter.PageSize = 50
	case filter.PageSize > 200:
		filter.PageSize = 200
	}

	key := rosterListKey(filter)
	var page rosterPage
	if s.cache != nil {
		if hit, _ := s.cache.Get(ctx, key, &page); hit {
			return page.Entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: page.Total}, nil
		}
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list personnel")
	}
	if entries == nil {
		entries = []models.RosterEntry{}
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, rosterPage{Entries: entries, Total: total}, 0)
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns one roster record.
func (s *PersonnelService) Get(ctx context.Context, requesterRef, id string) (*models.Personnel, error) {
	if _, err := s.authz.RequireRole(ctx, requesterRef, models.RoleMember); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// Create adds a roster record without login access.
func (s *PersonnelService) Create(ctx context.Context, requesterRef string, req CreatePersonnelRequest) (*models.Personnel, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return nil, err
	}
	req.CallSign = strings.TrimSpace(req.CallSign)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid personnel payload")
	}

	exists, err := s.repo.CallSignExists(ctx, req.CallSign)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check call sign")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "call sign already in use")
	}
	if req.RankID != nil && *req.RankID != "" {
		if err := s.requireRank(ctx, *req.RankID); err != nil {
			return nil, err
		}
	}

	p := &models.Personnel{
		CallSign:  req.CallSign,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		RankID:    req.RankID,
		Status:    models.PersonnelStatus(req.Status),
		Notes:     req.Notes,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create personnel")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionPersonnelCreate,
		Resource:   "personnel",
		ResourceID: p.ID,
		New:        p,
	})
	s.invalidate(ctx)
	return p, nil
}

// Archive discharges a member and ends their sessions.
func (s *PersonnelService) Archive(ctx context.Context, requesterRef, id string) error {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return err
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.guardSuperAdmin(ctx, requester.ID, target.ID); err != nil {
		return err
	}

	if err := s.repo.Archive(ctx, target.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive personnel")
	}
	if target.HasSystemAccess() {
		s.endSessions(ctx, target.ID, "archived")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionPersonnelArchive,
		Resource:   "personnel",
		ResourceID: target.ID,
		Old:        map[string]interface{}{"status": target.Status},
		New:        map[string]interface{}{"status": models.PersonnelStatusDischarged},
	})
	s.invalidate(ctx)
	return nil
}

// Promote records a rank change.
func (s *PersonnelService) Promote(ctx context.Context, requesterRef, id string, req PromoteRequest) (*models.RankHistory, error) {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid promotion payload")
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireRank(ctx, req.RankID); err != nil {
		return nil, err
	}

	promotedBy := requester.ID
	entry := &models.RankHistory{
		PersonnelID: target.ID,
		RankID:      req.RankID,
		PromotedBy:  &promotedBy,
		Notes:       req.Notes,
	}
	if err := s.repo.Promote(ctx, entry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to promote personnel")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionPersonnelPromote,
		Resource:   "personnel",
		ResourceID: target.ID,
		Old:        map[string]interface{}{"rankId": target.RankID},
		New:        map[string]interface{}{"rankId": req.RankID},
	})
	s.invalidate(ctx)
	return entry, nil
}

// GrantSystemAccess adds the login group to a roster record.
func (s *PersonnelService) GrantSystemAccess(ctx context.Context, requesterRef, id string, req GrantSystemAccessRequest) error {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return err
	}
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid system access payload")
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if target.HasSystemAccess() {
		return appErrors.Clone(appErrors.ErrConflict, "personnel already has system access")
	}
	if target.Status == models.PersonnelStatusDischarged {
		return appErrors.Clone(appErrors.ErrValidation, "discharged personnel cannot be granted system access")
	}

	hash, salt, err := HashPassword(req.Password)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	creds := models.Credentials{
		PasswordHash:          hash,
		PasswordSalt:          salt,
		IsActive:              true,
		RequirePasswordChange: req.RequirePasswordChange == nil || *req.RequirePasswordChange,
	}
	if err := s.repo.SetCredentials(ctx, target.ID, creds); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grant system access")
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionAccessGrant,
		Resource:   "personnel",
		ResourceID: target.ID,
		New:        map[string]interface{}{"requirePasswordChange": creds.RequirePasswordChange},
	})
	s.invalidate(ctx)
	return nil
}

// RevokeSystemAccess clears the login group and ends every session of the
// identity. The roster record and its role assignments stay.
func (s *PersonnelService) RevokeSystemAccess(ctx context.Context, requesterRef, id string) error {
	requester, err := s.authz.RequireRole(ctx, requesterRef, models.RoleAdministrator)
	if err != nil {
		return err
	}
	target, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if target.ID == requester.ID {
		return appErrors.Clone(appErrors.ErrForbidden, "cannot revoke your own system access")
	}
	if !target.HasSystemAccess() {
		return appErrors.Clone(appErrors.ErrConflict, "personnel has no system access")
	}
	if err := s.guardSuperAdmin(ctx, requester.ID, target.ID); err != nil {
		return err
	}

	if err := s.repo.ClearCredentials(ctx, target.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke system access")
	}
	s.endSessions(ctx, target.ID, "system access revoked")

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    requester.ID,
		Action:     models.AuditActionAccessRevoke,
		Resource:   "personnel",
		ResourceID: target.ID,
	})
	s.invalidate(ctx)
	return nil
}

func (s *PersonnelService) load(ctx context.Context, id string) (*models.Personnel, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPersonnelNotFound, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load personnel")
	}
	return p, nil
}

func (s *PersonnelService) requireRank(ctx context.Context, rankID string) error {
	if _, err := s.ranks.FindByID(ctx, rankID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "unknown rank")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rank")
	}
	return nil
}

// guardSuperAdmin keeps administrators from locking out a super_admin.
func (s *PersonnelService) guardSuperAdmin(ctx context.Context, requesterID, targetID string) error {
	targetIsSuper, err := s.authz.HasRole(ctx, targetID, models.RoleSuperAdmin)
	if err != nil {
		return err
	}
	if !targetIsSuper {
		return nil
	}
	requesterIsSuper, err := s.authz.HasRole(ctx, requesterID, models.RoleSuperAdmin)
	if err != nil {
		return err
	}
	if !requesterIsSuper {
		return appErrors.InsufficientRole(string(models.RoleSuperAdmin))
	}
	return nil
}

func (s *PersonnelService) endSessions(ctx context.Context, personnelID, reason string) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.ForceSignOut(ctx, personnelID, reason); err != nil {
		s.logger.Warn("failed to end sessions", zap.String("personnel_id", personnelID), zap.Error(err))
	}
}

func (s *PersonnelService) invalidate(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, cache.Key("personnel", "*"))
	}
}

func rosterListKey(f models.PersonnelFilter) string {
	status := "all"
	if f.Status != nil {
		status = string(*f.Status)
	}
	return cache.Key("personnel", "list", fmt.Sprintf("%s|%s|%d|%d|%s|%s",
		status, strings.ToLower(strings.TrimSpace(f.Search)), f.Page, f.PageSize, f.SortBy, f.SortOrder))
}
