package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
)

type auditWriter interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// RequestMeta carries client details copied into audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta attaches client details to ctx.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the client details attached to ctx, if any.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta
}

// auditEntry describes one audit record before serialisation.
type auditEntry struct {
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Old        interface{}
	New        interface{}
}

// recordAudit writes an audit entry. Failures are logged and never returned:
// the audited change has already been committed.
func recordAudit(ctx context.Context, repo auditWriter, logger *zap.Logger, e auditEntry) {
	if repo == nil {
		return
	}
	meta := RequestMetaFrom(ctx)
	log := &models.AuditLog{
		Action:    e.Action,
		Resource:  e.Resource,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}
	if e.ActorID != "" {
		actor := e.ActorID
		log.ActorID = &actor
	}
	if e.ResourceID != "" {
		id := e.ResourceID
		log.ResourceID = &id
	}
	if e.Old != nil {
		log.OldValues, _ = json.Marshal(e.Old)
	}
	if e.New != nil {
		log.NewValues, _ = json.Marshal(e.New)
	}
	if err := repo.Create(ctx, log); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", e.Action), zap.Error(err))
	}
}
