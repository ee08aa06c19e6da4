package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anzac2cdo/roster-api/internal/models"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

// fakePersonnel is an in-memory identity table.
type fakePersonnel struct {
	mu      sync.Mutex
	records map[string]*models.Personnel
	tokens  map[string]*models.RefreshToken
	history []models.RankHistory
	findErr error
	revoked int
}

func newFakePersonnel(records ...*models.Personnel) *fakePersonnel {
	f := &fakePersonnel{records: map[string]*models.Personnel{}, tokens: map[string]*models.RefreshToken{}}
	for _, p := range records {
		f.records[p.ID] = p
	}
	return f
}

func (f *fakePersonnel) FindByID(ctx context.Context, id string) (*models.Personnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	p, ok := f.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (f *fakePersonnel) FindByLogin(ctx context.Context, identifier string) (*models.Personnel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.records {
		if strings.EqualFold(p.CallSign, identifier) || (p.Email != nil && strings.EqualFold(*p.Email, identifier)) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakePersonnel) CallSignExists(ctx context.Context, callSign string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.records {
		if strings.EqualFold(p.CallSign, callSign) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePersonnel) List(ctx context.Context, filter models.PersonnelFilter) ([]models.RosterEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.RosterEntry
	for _, p := range f.records {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		all = append(all, models.RosterEntry{Personnel: *p})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CallSign < all[j].CallSign })
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(all) {
		return []models.RosterEntry{}, len(all), nil
	}
	end := start + filter.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (f *fakePersonnel) Create(ctx context.Context, p *models.Personnel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.ID == "" {
		p.ID = "p-" + strings.ToLower(p.CallSign)
	}
	if p.Status == "" {
		p.Status = models.PersonnelStatusActive
	}
	cp := *p
	f.records[p.ID] = &cp
	return nil
}

func (f *fakePersonnel) Archive(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.Status = models.PersonnelStatusDischarged
	p.DischargeDate = &at
	if p.PasswordHash != nil {
		p.IsActive = boolPtr(false)
	}
	return nil
}

func (f *fakePersonnel) SetCredentials(ctx context.Context, id string, creds models.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.PasswordHash = strPtr(creds.PasswordHash)
	p.PasswordSalt = strPtr(creds.PasswordSalt)
	p.IsActive = boolPtr(creds.IsActive)
	p.RequirePasswordChange = boolPtr(creds.RequirePasswordChange)
	return nil
}

func (f *fakePersonnel) ClearCredentials(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok {
		return sql.ErrNoRows
	}
	p.PasswordHash, p.PasswordSalt, p.IsActive, p.RequirePasswordChange = nil, nil, nil, nil
	return nil
}

func (f *fakePersonnel) UpdatePassword(ctx context.Context, id, hash, salt string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[id]
	if !ok || p.PasswordHash == nil {
		return sql.ErrNoRows
	}
	p.PasswordHash, p.PasswordSalt = strPtr(hash), strPtr(salt)
	p.RequirePasswordChange = boolPtr(false)
	p.LastPasswordChange = &at
	return nil
}

func (f *fakePersonnel) Promote(ctx context.Context, entry *models.RankHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.records[entry.PersonnelID]
	if !ok {
		return sql.ErrNoRows
	}
	p.RankID = strPtr(entry.RankID)
	f.history = append(f.history, *entry)
	return nil
}

func (f *fakePersonnel) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *token
	f.tokens[token.Token] = &cp
	return nil
}

func (f *fakePersonnel) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (f *fakePersonnel) RevokeRefreshToken(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &at
		}
	}
	return nil
}

func (f *fakePersonnel) RevokeAllRefreshTokens(ctx context.Context, personnelID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.tokens {
		if t.PersonnelID == personnelID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	f.revoked++
	return n, nil
}

func (f *fakePersonnel) PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, t := range f.tokens {
		if t.ExpiresAt.Before(before) {
			delete(f.tokens, k)
			n++
		}
	}
	return n, nil
}

// fakeRoleStore backs both the catalog and the assignment ledger.
type fakeRoleStore struct {
	mu          sync.Mutex
	roles       []models.Role
	assignments map[string][]string
	listCalls   int
	replaceErr  error
}

func newFakeRoleStore() *fakeRoleStore {
	s := &fakeRoleStore{assignments: map[string][]string{}}
	for _, r := range models.DefaultRoles() {
		r.ID = "role-" + string(r.RoleName)
		s.roles = append(s.roles, r)
	}
	return s
}

func roleID(name models.RoleName) string { return "role-" + string(name) }

func (s *fakeRoleStore) grant(personnelID string, names ...models.RoleName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.assignments[personnelID] = append(s.assignments[personnelID], roleID(n))
	}
}

func (s *fakeRoleStore) List(ctx context.Context) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := make([]models.Role, len(s.roles))
	copy(out, s.roles)
	return out, nil
}

func (s *fakeRoleStore) SeedDefaults(ctx context.Context, roles []models.Role) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, r := range roles {
		found := false
		for _, existing := range s.roles {
			if existing.RoleName == r.RoleName {
				found = true
				break
			}
		}
		if !found {
			r.ID = roleID(r.RoleName)
			s.roles = append(s.roles, r)
			inserted++
		}
	}
	return inserted, nil
}

func (s *fakeRoleStore) ListByPersonnel(ctx context.Context, personnelID string) ([]models.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.assignments[personnelID]
	out := make([]models.RoleAssignment, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.RoleAssignment{ID: personnelID + "-" + string(rune('a'+i)), PersonnelID: personnelID, RoleID: id})
	}
	return out, nil
}

func (s *fakeRoleStore) Exists(ctx context.Context, personnelID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.assignments[personnelID] {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeRoleStore) Replace(ctx context.Context, personnelID string, roleIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.assignments[personnelID] = append([]string(nil), roleIDs...)
	return nil
}

// fakeSchools holds schools, qualifications, awards and instructor scopes.
type fakeSchools struct {
	mu      sync.Mutex
	schools map[string]*models.School
	quals   map[string]*models.Qualification
	scopes  map[string]bool
	awards  map[string]models.PersonnelQualification
}

func newFakeSchools() *fakeSchools {
	return &fakeSchools{
		schools: map[string]*models.School{
			"sch-air": {ID: "sch-air", Name: "Air Assault School", Abbreviation: "AAS"},
			"sch-med": {ID: "sch-med", Name: "Medical School", Abbreviation: "MED"},
		},
		quals: map[string]*models.Qualification{
			"q-para":  {ID: "q-para", SchoolID: "sch-air", Name: "Parachutist", Abbreviation: "PARA"},
			"q-medic": {ID: "q-medic", SchoolID: "sch-med", Name: "Combat Medic", Abbreviation: "CMT"},
		},
		scopes: map[string]bool{},
		awards: map[string]models.PersonnelQualification{},
	}
}

func scopeKey(personnelID, schoolID string) string { return personnelID + "|" + schoolID }

func (f *fakeSchools) Exists(ctx context.Context, personnelID, schoolID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scopes[scopeKey(personnelID, schoolID)], nil
}

func (f *fakeSchools) Create(ctx context.Context, a *models.SchoolAssignment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == "" {
		a.ID = "sa-" + a.PersonnelID + "-" + a.SchoolID
	}
	f.scopes[scopeKey(a.PersonnelID, a.SchoolID)] = true
	return nil
}

func (f *fakeSchools) Delete(ctx context.Context, personnelID, schoolID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := scopeKey(personnelID, schoolID)
	if !f.scopes[key] {
		return sql.ErrNoRows
	}
	delete(f.scopes, key)
	return nil
}

func (f *fakeSchools) ListByPersonnel(ctx context.Context, personnelID string) ([]models.SchoolAssignmentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SchoolAssignmentDetail
	for id, s := range f.schools {
		if f.scopes[scopeKey(personnelID, id)] {
			out = append(out, models.SchoolAssignmentDetail{
				SchoolAssignment:   models.SchoolAssignment{PersonnelID: personnelID, SchoolID: id},
				SchoolName:         s.Name,
				SchoolAbbreviation: s.Abbreviation,
			})
		}
	}
	return out, nil
}

func (f *fakeSchools) List(ctx context.Context) ([]models.School, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.School, 0, len(f.schools))
	for _, s := range f.schools {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeSchools) FindByID(ctx context.Context, id string) (*models.School, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.schools[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSchools) Update(ctx context.Context, school *models.School) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.schools[school.ID]; !ok {
		return sql.ErrNoRows
	}
	cp := *school
	f.schools[school.ID] = &cp
	return nil
}

func (f *fakeSchools) ListQualifications(ctx context.Context, schoolID string) ([]models.Qualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Qualification
	for _, q := range f.quals {
		if schoolID == "" || q.SchoolID == schoolID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (f *fakeSchools) FindQualification(ctx context.Context, id string) (*models.Qualification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quals[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *q
	return &cp, nil
}

func (f *fakeSchools) ListAwards(ctx context.Context, personnelID string) ([]models.PersonnelQualificationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PersonnelQualificationDetail
	for _, a := range f.awards {
		if a.PersonnelID == personnelID {
			out = append(out, models.PersonnelQualificationDetail{PersonnelQualification: a})
		}
	}
	return out, nil
}

func (f *fakeSchools) Award(ctx context.Context, award *models.PersonnelQualification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := award.PersonnelID + "|" + award.QualificationID
	if _, ok := f.awards[key]; ok {
		return false, nil
	}
	f.awards[key] = *award
	return true, nil
}

func (f *fakeSchools) RevokeAward(ctx context.Context, personnelID, qualificationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := personnelID + "|" + qualificationID
	if _, ok := f.awards[key]; !ok {
		return sql.ErrNoRows
	}
	delete(f.awards, key)
	return nil
}

// fakeAudit records audit entries.
type fakeAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (f *fakeAudit) Create(ctx context.Context, log *models.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAudit) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.logs))
	for _, l := range f.logs {
		out = append(out, l.Action)
	}
	return out
}

// fakeInvalidator counts roster cache invalidations.
type fakeInvalidator struct {
	patterns []string
}

func (f *fakeInvalidator) Invalidate(ctx context.Context, pattern string) error {
	f.patterns = append(f.patterns, pattern)
	return nil
}

// member builds an identity with an active login group.
func member(id, callSign string) *models.Personnel {
	return &models.Personnel{
		ID:           id,
		CallSign:     callSign,
		Status:       models.PersonnelStatusActive,
		PasswordHash: strPtr("hash"),
		PasswordSalt: strPtr("salt"),
		IsActive:     boolPtr(true),
	}
}

// rosterOnly builds an identity without login.
func rosterOnly(id, callSign string) *models.Personnel {
	return &models.Personnel{ID: id, CallSign: callSign, Status: models.PersonnelStatusActive}
}

type authzFixture struct {
	personnel *fakePersonnel
	roles     *fakeRoleStore
	schools   *fakeSchools
	catalog   *RoleCatalogService
	metrics   *MetricsService
	authz     *AuthorizationService
}

func newAuthzFixture(records ...*models.Personnel) *authzFixture {
	f := &authzFixture{
		personnel: newFakePersonnel(records...),
		roles:     newFakeRoleStore(),
		schools:   newFakeSchools(),
		metrics:   NewMetricsService(),
	}
	f.catalog = NewRoleCatalogService(f.roles, CatalogConfig{TTL: time.Minute}, f.metrics, nil)
	f.authz = NewAuthorizationService(f.personnel, f.roles, f.catalog, f.schools, f.schools, f.metrics, nil)
	return f
}
