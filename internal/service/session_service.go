package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

type sessionTokenStore interface {
	RevokeAllRefreshTokens(ctx context.Context, personnelID string) (int64, error)
	PurgeRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

type revocationStore interface {
	Revoke(ctx context.Context, personnelID string, at time.Time, ttl time.Duration) error
	RevokedAt(ctx context.Context, personnelID string) (time.Time, error)
}

// SessionService ends sessions server side. A forced sign-out revokes the
// refresh tokens and marks every access token issued up to that instant as
// invalid.
type SessionService struct {
	tokens  sessionTokenStore
	revoked revocationStore
	ttl     time.Duration
	audit   auditWriter
	logger  *zap.Logger
	now     func() time.Time
}

// NewSessionService constructs the service. ttl must outlive the access token lifetime.
func NewSessionService(tokens sessionTokenStore, revoked revocationStore, ttl time.Duration, audit auditWriter, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Hour + time.Minute
	}
	return &SessionService{tokens: tokens, revoked: revoked, ttl: ttl, audit: audit, logger: logger, now: time.Now}
}

// ForceSignOut ends every session of personnelID. reason is recorded in the audit trail.
func (s *SessionService) ForceSignOut(ctx context.Context, personnelID, reason string) error {
	at := s.now().UTC()
	revokedTokens, err := s.tokens.RevokeAllRefreshTokens(ctx, personnelID)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	if err := s.revoked.Revoke(ctx, personnelID, at, s.ttl); err != nil {
		return fmt.Errorf("mark session revoked: %w", err)
	}

	recordAudit(ctx, s.audit, s.logger, auditEntry{
		ActorID:    personnelID,
		Action:     models.AuditActionSessionRevoke,
		Resource:   "session",
		ResourceID: personnelID,
		New:        map[string]interface{}{"reason": reason, "refreshTokensRevoked": revokedTokens},
	})
	return nil
}

// IsRevoked reports whether a token issued at issuedAt predates a forced sign-out.
func (s *SessionService) IsRevoked(ctx context.Context, personnelID string, issuedAt time.Time) (bool, error) {
	at, err := s.revoked.RevokedAt(ctx, personnelID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check session state")
	}
	if at.IsZero() {
		return false, nil
	}
	return !issuedAt.After(at), nil
}

// PurgeRefreshTokens drops refresh tokens that expired or were revoked more than retention ago.
func (s *SessionService) PurgeRefreshTokens(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.tokens.PurgeRefreshTokens(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("purged refresh tokens", zap.Int64("count", n))
	}
	return n, nil
}
