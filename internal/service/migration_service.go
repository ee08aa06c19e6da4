package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/repository"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

const legacyUsersTable = "system_users"

// Shim names a legacy migration entry point.
type Shim string

const (
	ShimRoles      Shim = "roles"
	ShimIdentities Shim = "identities"
	ShimAll        Shim = "all"
)

// ParseShim validates an operator supplied shim name.
func ParseShim(raw string) (Shim, error) {
	switch s := Shim(strings.ToLower(strings.TrimSpace(raw))); s {
	case ShimRoles, ShimIdentities, ShimAll:
		return s, nil
	}
	return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown migration %q, expected roles, identities or all", raw))
}

type migrationStore interface {
	TableExists(ctx context.Context, table string) (bool, error)
	ListRoleRows(ctx context.Context) ([]models.LegacyRoleRow, error)
	DeleteRoleRow(ctx context.Context, id string) error
	ReplaceRoleRow(ctx context.Context, row models.LegacyRoleRow, roleID string) (bool, error)
	ListLegacyUsers(ctx context.Context) ([]models.LegacySystemUser, error)
	WithMergeTx(ctx context.Context, fn func(repository.MergeTx) error) error
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

type migrationCatalog interface {
	SeedDefaults(ctx context.Context) (int, error)
	GetRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error)
}

// MigrationService runs the one-time shims that move legacy rows onto the
// unified identity and the role catalog. Runs are idempotent when executed
// one after another but must not overlap; Run serialises operator runs with
// an advisory lock.
type MigrationService struct {
	store   migrationStore
	catalog migrationCatalog
	audit   auditWriter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewMigrationService constructs the service.
func NewMigrationService(store migrationStore, catalog migrationCatalog, audit auditWriter, metrics *MetricsService, logger *zap.Logger) *MigrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MigrationService{store: store, catalog: catalog, audit: audit, metrics: metrics, logger: logger}
}

// Run executes shim under the advisory lock and records metrics and an audit
// entry. actorID may be empty for CLI runs.
func (s *MigrationService) Run(ctx context.Context, shim Shim, actorID string) (*models.MigrationResult, error) {
	release, acquired, err := s.store.TryLock(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to take migration lock")
	}
	if !acquired {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a legacy migration is already running")
	}
	defer release()

	var result *models.MigrationResult
	switch shim {
	case ShimRoles:
		result, err = s.MigrateRoleStrings(ctx)
	case ShimIdentities:
		result, err = s.MergeLegacyIdentities(ctx)
	case ShimAll:
		result, err = s.RunAll(ctx)
	default:
		_, err = ParseShim(string(shim))
		return nil, err
	}

	success := err == nil && result != nil && result.Success
	var stats map[string]int
	if result != nil {
		stats = result.Stats
	}
	s.metrics.RecordMigrationRun(string(shim), success, stats)
	if err != nil {
		s.logger.Error("legacy migration failed", zap.String("shim", string(shim)), zap.Error(err))
		return nil, err
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:  actorID,
		Action:   models.AuditActionMigrationRun,
		Resource: "migration",
		New:      map[string]interface{}{"shim": shim, "success": result.Success, "stats": result.Stats},
	})
	return result, nil
}

// MigrateRoleStrings rewrites user_roles rows still carrying the legacy role
// string into catalog references and removes rows that cannot be attributed.
func (s *MigrationService) MigrateRoleStrings(ctx context.Context) (*models.MigrationResult, error) {
	res := models.NewMigrationResult("migrated", "skipped", "deleted")

	seeded, err := s.catalog.SeedDefaults(ctx)
	if err != nil {
		return nil, err
	}
	res.Logf("role catalog checked, %d canonical roles inserted", seeded)

	rows, err := s.store.ListRoleRows(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read role rows")
	}
	res.Logf("found %d role assignment rows", len(rows))

	legacyIDs, err := s.legacyUserIDs(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read legacy users")
	}

	for _, row := range rows {
		switch {
		case !row.HasIdentity():
			if err := s.deleteRoleRow(ctx, res, row, "has no identity"); err != nil {
				return nil, err
			}

		case !row.HasPersonnel() && !legacyIDs[*row.UserID]:
			if err := s.deleteRoleRow(ctx, res, row, "references no legacy user"); err != nil {
				return nil, err
			}

		case row.HasRoleID() && !row.HasRoleString():
			res.Stats["skipped"]++

		case row.HasRoleID():
			// Catalog reference already written; only the string column is stale.
			if err := s.replaceRoleRow(ctx, res, row, *row.RoleID); err != nil {
				return nil, err
			}

		case row.HasRoleString():
			name := models.NormalizeRoleName(*row.Role)
			role, err := s.catalog.GetRoleByName(ctx, name)
			if err != nil {
				if !errors.Is(err, appErrors.ErrRoleNotFound) {
					return nil, err
				}
				res.Logf("%s: row %s has unresolvable role %q", appErrors.ErrMigrationInconsistency.Code, row.ID, *row.Role)
				s.logger.Warn("unresolvable legacy role",
					zap.String("code", appErrors.ErrMigrationInconsistency.Code),
					zap.String("row_id", row.ID),
					zap.String("role", *row.Role))
				if err := s.deleteRoleRow(ctx, res, row, "was unresolvable"); err != nil {
					return nil, err
				}
				continue
			}
			if err := s.replaceRoleRow(ctx, res, row, role.ID); err != nil {
				return nil, err
			}

		default:
			if err := s.deleteRoleRow(ctx, res, row, "has neither role nor role id"); err != nil {
				return nil, err
			}
		}
	}

	res.Success = true
	res.Message = fmt.Sprintf("Role strings migrated: %d migrated, %d skipped, %d deleted",
		res.Stats["migrated"], res.Stats["skipped"], res.Stats["deleted"])
	s.logger.Info("role string migration finished",
		zap.Int("migrated", res.Stats["migrated"]),
		zap.Int("skipped", res.Stats["skipped"]),
		zap.Int("deleted", res.Stats["deleted"]))
	return res, nil
}

// legacyUserIDs returns the ids still present in system_users. Rows keyed only
// by a user_id outside this set can never be remapped.
func (s *MigrationService) legacyUserIDs(ctx context.Context) (map[string]bool, error) {
	ids := map[string]bool{}
	exists, err := s.store.TableExists(ctx, legacyUsersTable)
	if err != nil || !exists {
		return ids, err
	}
	users, err := s.store.ListLegacyUsers(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		ids[u.ID] = true
	}
	return ids, nil
}

func (s *MigrationService) deleteRoleRow(ctx context.Context, res *models.MigrationResult, row models.LegacyRoleRow, reason string) error {
	if err := s.store.DeleteRoleRow(ctx, row.ID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete role row")
	}
	res.Stats["deleted"]++
	res.Logf("deleted row %s: %s", row.ID, reason)
	return nil
}

func (s *MigrationService) replaceRoleRow(ctx context.Context, res *models.MigrationResult, row models.LegacyRoleRow, roleID string) error {
	inserted, err := s.store.ReplaceRoleRow(ctx, row, roleID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to migrate role row")
	}
	if inserted {
		res.Stats["migrated"]++
		return nil
	}
	res.Stats["deleted"]++
	res.Logf("deleted row %s: equivalent catalog row already present", row.ID)
	return nil
}

// MergeLegacyIdentities folds system_users into personnel in one
// transaction and rewrites every reference to the retired ids.
func (s *MigrationService) MergeLegacyIdentities(ctx context.Context) (*models.MigrationResult, error) {
	res := models.NewMigrationResult("matched", "created", "remapped", "deleted")

	exists, err := s.store.TableExists(ctx, legacyUsersTable)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect schema")
	}
	if !exists {
		res.Success = true
		res.Message = "No migration needed"
		res.Logf("%s table not present", legacyUsersTable)
		return res, nil
	}

	users, err := s.store.ListLegacyUsers(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read legacy users")
	}
	if len(users) == 0 {
		res.Success = true
		res.Message = "No migration needed"
		res.Logf("%s table is empty", legacyUsersTable)
		return res, nil
	}
	res.Logf("found %d legacy users", len(users))

	err = s.store.WithMergeTx(ctx, func(tx repository.MergeTx) error {
		// Counters are rebuilt from scratch so a rolled back attempt reports nothing.
		stats := map[string]int{}
		var lines []string
		logf := func(format string, args ...interface{}) { lines = append(lines, fmt.Sprintf(format, args...)) }

		mapping := make(map[string]string, len(users))
		var lowestRank *string
		rankLoaded := false

		for _, u := range users {
			callSign := trimmed(u.CallSign)
			email := trimmed(u.Email)
			creds := u.Credentials()

			match, err := tx.FindPersonnelMatch(ctx, callSign, email)
			switch {
			case err == nil:
				if !match.HasSystemAccess() && creds.PasswordHash != "" {
					if err := tx.AttachCredentials(ctx, match.ID, creds); err != nil {
						return err
					}
					logf("legacy user %s matched %s, credentials attached", u.ID, match.CallSign)
				} else {
					logf("legacy user %s matched %s", u.ID, match.CallSign)
				}
				mapping[u.ID] = match.ID
				stats["matched"]++

			case errors.Is(err, sql.ErrNoRows):
				if !rankLoaded {
					if lowestRank, err = tx.LowestRankID(ctx); err != nil {
						return err
					}
					rankLoaded = true
				}
				p, err := s.newPersonnelFromLegacy(ctx, tx, u, lowestRank)
				if err != nil {
					return err
				}
				if err := tx.CreatePersonnel(ctx, p, creds); err != nil {
					return err
				}
				mapping[u.ID] = p.ID
				stats["created"]++
				logf("legacy user %s created as %s", u.ID, p.CallSign)

			default:
				return err
			}
		}

		oldIDs := make([]string, 0, len(mapping))
		for oldID := range mapping {
			oldIDs = append(oldIDs, oldID)
		}
		sort.Strings(oldIDs)

		for _, oldID := range oldIDs {
			newID := mapping[oldID]
			for _, ref := range repository.LegacyReferences {
				if ref.Column == ref.LegacyColumn && oldID == newID {
					continue
				}
				n, err := tx.RemapReference(ctx, ref, oldID, newID)
				if err != nil {
					return err
				}
				stats["remapped"] += int(n)
			}
		}
		logf("remapped %d references", stats["remapped"])

		for _, ref := range repository.LegacyReferences {
			check := oldIDs
			if ref.Column == ref.LegacyColumn {
				check = changedIDs(oldIDs, mapping)
			}
			remaining, err := tx.CountReferences(ctx, ref, check)
			if err != nil {
				return err
			}
			if remaining > 0 {
				return appErrors.Clone(appErrors.ErrMigrationInconsistency,
					fmt.Sprintf("%d references to merged identities remain in %s", remaining, ref))
			}
		}

		deleted, err := tx.DeleteLegacyUsers(ctx, oldIDs)
		if err != nil {
			return err
		}
		stats["deleted"] = int(deleted)
		logf("deleted %d legacy users", deleted)

		for k, v := range stats {
			res.Stats[k] = v
		}
		res.Log = append(res.Log, lines...)
		return nil
	})
	if err != nil {
		if appErrors.CodeOf(err) == appErrors.ErrMigrationInconsistency.Code {
			s.logger.Error("identity merge rolled back", zap.Error(err))
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "identity merge failed")
	}

	res.Success = true
	res.Message = fmt.Sprintf("Identities merged: %d matched, %d created, %d references remapped, %d legacy users deleted",
		res.Stats["matched"], res.Stats["created"], res.Stats["remapped"], res.Stats["deleted"])
	s.logger.Info("identity merge finished",
		zap.Int("matched", res.Stats["matched"]),
		zap.Int("created", res.Stats["created"]),
		zap.Int("remapped", res.Stats["remapped"]),
		zap.Int("deleted", res.Stats["deleted"]))
	return res, nil
}

// RunAll merges identities first so the role string pass sees personnel ids.
func (s *MigrationService) RunAll(ctx context.Context) (*models.MigrationResult, error) {
	merge, err := s.MergeLegacyIdentities(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.MigrateRoleStrings(ctx)
	if err != nil {
		return nil, err
	}

	combined := models.NewMigrationResult()
	combined.Success = true
	combined.Merge("identities_", merge)
	combined.Merge("roles_", roles)
	combined.Message = merge.Message + "; " + roles.Message
	return combined, nil
}

func (s *MigrationService) newPersonnelFromLegacy(ctx context.Context, tx repository.MergeTx, u models.LegacySystemUser, rankID *string) (*models.Personnel, error) {
	base := trimmed(u.CallSign)
	email := trimmed(u.Email)
	if base == "" && email != "" {
		base = strings.SplitN(email, "@", 2)[0]
	}
	if base == "" {
		base = "user-" + shortID(u.ID)
	}

	callSign := base
	for i := 2; ; i++ {
		taken, err := tx.CallSignExists(ctx, callSign)
		if err != nil {
			return nil, err
		}
		if !taken {
			break
		}
		callSign = fmt.Sprintf("%s-%d", base, i)
	}

	p := &models.Personnel{
		CallSign: callSign,
		RankID:   rankID,
		Status:   models.PersonnelStatusActive,
		JoinDate: u.CreatedAt,
	}
	if email != "" {
		p.Email = &email
	}
	if parts := strings.Fields(trimmed(u.Name)); len(parts) > 0 {
		first := parts[0]
		p.FirstName = &first
		if len(parts) > 1 {
			last := strings.Join(parts[1:], " ")
			p.LastName = &last
		}
	}
	return p, nil
}

func changedIDs(oldIDs []string, mapping map[string]string) []string {
	out := make([]string, 0, len(oldIDs))
	for _, id := range oldIDs {
		if mapping[id] != id {
			out = append(out, id)
		}
	}
	return out
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
