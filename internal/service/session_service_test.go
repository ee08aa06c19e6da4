package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
)

type fakeRevocations struct {
	at  map[string]time.Time
	ttl time.Duration
	err error
}

func (f *fakeRevocations) Revoke(ctx context.Context, personnelID string, at time.Time, ttl time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if f.at == nil {
		f.at = map[string]time.Time{}
	}
	f.at[personnelID] = at
	f.ttl = ttl
	return nil
}

func (f *fakeRevocations) RevokedAt(ctx context.Context, personnelID string) (time.Time, error) {
	if f.err != nil {
		return time.Time{}, f.err
	}
	return f.at[personnelID], nil
}

func TestForceSignOutRevokesTokensAndMarksSession(t *testing.T) {
	personnel := newFakePersonnel(member("p1", "Viper"))
	now := time.Now().UTC()
	personnel.tokens["t1"] = &models.RefreshToken{ID: "t1", PersonnelID: "p1", Token: "t1", ExpiresAt: now.Add(time.Hour)}
	personnel.tokens["t2"] = &models.RefreshToken{ID: "t2", PersonnelID: "p2", Token: "t2", ExpiresAt: now.Add(time.Hour)}
	revocations := &fakeRevocations{}
	audit := &fakeAudit{}

	svc := NewSessionService(personnel, revocations, 2*time.Hour, audit, nil)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.ForceSignOut(context.Background(), "p1", "IDENTITY_NOT_FOUND"))
	assert.True(t, personnel.tokens["t1"].Revoked)
	assert.False(t, personnel.tokens["t2"].Revoked)
	assert.Equal(t, now, revocations.at["p1"])
	assert.Equal(t, 2*time.Hour, revocations.ttl)
	assert.Equal(t, []string{models.AuditActionSessionRevoke}, audit.actions())

	revoked, err := svc.IsRevoked(context.Background(), "p1", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, revoked, "token issued before the sign-out")

	revoked, err = svc.IsRevoked(context.Background(), "p1", now)
	require.NoError(t, err)
	assert.True(t, revoked, "token issued in the same instant")

	revoked, err = svc.IsRevoked(context.Background(), "p1", now.Add(5*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, revoked, "token issued after the sign-out")

	revoked, err = svc.IsRevoked(context.Background(), "p2", now.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestForceSignOutFailsWhenMarkerCannotBeWritten(t *testing.T) {
	svc := NewSessionService(newFakePersonnel(), &fakeRevocations{err: errors.New("redis down")}, 0, &fakeAudit{}, nil)

	err := svc.ForceSignOut(context.Background(), "p1", "NO_SYSTEM_ACCESS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestPurgeRefreshTokensUsesRetention(t *testing.T) {
	personnel := newFakePersonnel()
	now := time.Now().UTC()
	personnel.tokens["old"] = &models.RefreshToken{ID: "old", Token: "old", ExpiresAt: now.Add(-48 * time.Hour)}
	personnel.tokens["recent"] = &models.RefreshToken{ID: "recent", Token: "recent", ExpiresAt: now.Add(-time.Hour)}
	svc := NewSessionService(personnel, &fakeRevocations{}, 0, nil, nil)
	svc.now = func() time.Time { return now }

	n, err := svc.PurgeRefreshTokens(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, personnel.tokens, "recent")
}
