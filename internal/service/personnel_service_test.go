package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type fakeRanks map[string]models.Rank

func (f fakeRanks) FindByID(ctx context.Context, id string) (*models.Rank, error) {
	r, ok := f[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

type fakeSignOuts struct {
	calls []string
}

func (f *fakeSignOuts) ForceSignOut(ctx context.Context, personnelID, reason string) error {
	f.calls = append(f.calls, personnelID)
	return nil
}

// fakeRosterCache stores JSON like the Redis-backed cache does.
type fakeRosterCache struct {
	entries     map[string][]byte
	hits        int
	invalidated []string
}

func (f *fakeRosterCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	f.hits++
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeRosterCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.entries[key] = raw
	return nil
}

func (f *fakeRosterCache) Invalidate(ctx context.Context, pattern string) error {
	f.invalidated = append(f.invalidated, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	for k := range f.entries {
		if strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

type personnelFixture struct {
	*authzFixture
	sessions *fakeSignOuts
	cache    *fakeRosterCache
	audit    *fakeAudit
	svc      *PersonnelService
}

func newPersonnelFixture(records ...*models.Personnel) *personnelFixture {
	base := append([]*models.Personnel{member("admin", "Boss"), member("super", "Overlord")}, records...)
	f := &personnelFixture{
		authzFixture: newAuthzFixture(base...),
		sessions:     &fakeSignOuts{},
		cache:        &fakeRosterCache{entries: map[string][]byte{}},
		audit:        &fakeAudit{},
	}
	f.roles.grant("admin", models.RoleAdministrator)
	f.roles.grant("super", models.RoleSuperAdmin)
	ranks := fakeRanks{"rank-pte": {ID: "rank-pte", Name: "Private"}, "rank-cpl": {ID: "rank-cpl", Name: "Corporal"}}
	f.svc = NewPersonnelService(f.personnel, ranks, f.authz, f.sessions, f.cache, f.audit, nil, nil)
	return f
}

func TestPersonnelListCachesUntilWrite(t *testing.T) {
	f := newPersonnelFixture(rosterOnly("p1", "Viper"))

	entries, page, err := f.svc.List(context.Background(), "admin", models.PersonnelFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	assert.Equal(t, 200, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 3, page.TotalCount)

	_, _, err = f.svc.List(context.Background(), "admin", models.PersonnelFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	_, err = f.svc.Create(context.Background(), "admin", CreatePersonnelRequest{CallSign: "Hawk"})
	require.NoError(t, err)
	assert.Empty(t, f.cache.entries)

	entries, _, err = f.svc.List(context.Background(), "admin", models.PersonnelFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}

func TestPersonnelListRequiresMember(t *testing.T) {
	f := newPersonnelFixture(member("p1", "Viper"))

	_, _, err := f.svc.List(context.Background(), "p1", models.PersonnelFilter{})
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err))
}

func TestPersonnelCreate(t *testing.T) {
	f := newPersonnelFixture(rosterOnly("p1", "Viper"))

	p, err := f.svc.Create(context.Background(), "admin", CreatePersonnelRequest{CallSign: "  Hawk ", RankID: strPtr("rank-pte")})
	require.NoError(t, err)
	assert.Equal(t, "Hawk", p.CallSign)
	assert.False(t, p.HasSystemAccess())
	assert.Equal(t, []string{models.AuditActionPersonnelCreate}, f.audit.actions())

	_, err = f.svc.Create(context.Background(), "admin", CreatePersonnelRequest{CallSign: "viper"})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.CodeOf(err))

	_, err = f.svc.Create(context.Background(), "admin", CreatePersonnelRequest{CallSign: "Kite", RankID: strPtr("rank-gen")})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.CodeOf(err))

	_, err = f.svc.Create(context.Background(), "admin", CreatePersonnelRequest{CallSign: "Kite", Status: "retired"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.CodeOf(err))
}

func TestPersonnelArchiveEndsSessions(t *testing.T) {
	f := newPersonnelFixture(member("p1", "Viper"), rosterOnly("p2", "Hawk"))

	require.NoError(t, f.svc.Archive(context.Background(), "admin", "p1"))
	assert.Equal(t, models.PersonnelStatusDischarged, f.personnel.records["p1"].Status)
	assert.Equal(t, []string{"p1"}, f.sessions.calls)

	require.NoError(t, f.svc.Archive(context.Background(), "admin", "p2"))
	assert.Equal(t, []string{"p1"}, f.sessions.calls, "roster-only records have no sessions")

	err := f.svc.Archive(context.Background(), "admin", "missing")
	assert.Equal(t, appErrors.ErrPersonnelNotFound.Code, appErrors.CodeOf(err))
}

func TestPersonnelArchiveProtectsSuperAdmin(t *testing.T) {
	f := newPersonnelFixture()

	err := f.svc.Archive(context.Background(), "admin", "super")
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err))
	assert.Equal(t, models.PersonnelStatusActive, f.personnel.records["super"].Status)
}

func TestPersonnelPromote(t *testing.T) {
	f := newPersonnelFixture(rosterOnly("p1", "Viper"))

	entry, err := f.svc.Promote(context.Background(), "admin", "p1", PromoteRequest{RankID: "rank-cpl"})
	require.NoError(t, err)
	require.NotNil(t, entry.PromotedBy)
	assert.Equal(t, "admin", *entry.PromotedBy)
	assert.Equal(t, "rank-cpl", *f.personnel.records["p1"].RankID)
	require.Len(t, f.personnel.history, 1)

	_, err = f.svc.Promote(context.Background(), "admin", "p1", PromoteRequest{RankID: "rank-gen"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.CodeOf(err))
}

func TestGrantSystemAccess(t *testing.T) {
	discharged := rosterOnly("p2", "Hawk")
	discharged.Status = models.PersonnelStatusDischarged
	f := newPersonnelFixture(rosterOnly("p1", "Viper"), discharged)

	require.NoError(t, f.svc.GrantSystemAccess(context.Background(), "admin", "p1", GrantSystemAccessRequest{Password: "password123"}))
	p := f.personnel.records["p1"]
	assert.True(t, p.HasSystemAccess())
	assert.True(t, *p.RequirePasswordChange)
	assert.True(t, checkPassword(p, "password123"))

	err := f.svc.GrantSystemAccess(context.Background(), "admin", "p1", GrantSystemAccessRequest{Password: "password123"})
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.CodeOf(err))

	err = f.svc.GrantSystemAccess(context.Background(), "admin", "p2", GrantSystemAccessRequest{Password: "password123"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.CodeOf(err))

	err = f.svc.GrantSystemAccess(context.Background(), "admin", "p2", GrantSystemAccessRequest{Password: "short"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.CodeOf(err))
}

func TestRevokeSystemAccessKeepsRoles(t *testing.T) {
	f := newPersonnelFixture(member("p1", "Viper"))
	f.roles.grant("p1", models.RoleInstructor)

	require.NoError(t, f.svc.RevokeSystemAccess(context.Background(), "admin", "p1"))
	assert.False(t, f.personnel.records["p1"].HasSystemAccess())
	assert.Equal(t, []string{"p1"}, f.sessions.calls)
	assert.Equal(t, []string{roleID(models.RoleInstructor)}, f.roles.assignments["p1"])
	assert.Equal(t, []string{models.AuditActionAccessRevoke}, f.audit.actions())

	err := f.svc.RevokeSystemAccess(context.Background(), "admin", "p1")
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.CodeOf(err))

	err = f.svc.RevokeSystemAccess(context.Background(), "admin", "admin")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.CodeOf(err))

	err = f.svc.RevokeSystemAccess(context.Background(), "admin", "super")
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err))
}
