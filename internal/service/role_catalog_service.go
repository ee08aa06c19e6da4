package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

const catalogCacheKey = "catalog"

type roleCatalogRepository interface {
	List(ctx context.Context) ([]models.Role, error)
	SeedDefaults(ctx context.Context, roles []models.Role) (int, error)
}

// CatalogConfig tunes the in-process catalog cache.
type CatalogConfig struct {
	TTL  time.Duration
	Size int
}

type catalogSnapshot struct {
	roles  []models.Role
	byID   map[string]models.Role
	byName map[models.RoleName]models.Role
}

// RoleCatalogService serves the role catalog from a short-lived in-process cache.
type RoleCatalogService struct {
	repo    roleCatalogRepository
	cache   *expirable.LRU[string, *catalogSnapshot]
	group   singleflight.Group
	metrics *MetricsService
	logger  *zap.Logger
}

// NewRoleCatalogService constructs the catalog service.
func NewRoleCatalogService(repo roleCatalogRepository, cfg CatalogConfig, metrics *MetricsService, logger *zap.Logger) *RoleCatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Size <= 0 {
		cfg.Size = 8
	}
	return &RoleCatalogService{
		repo:    repo,
		cache:   expirable.NewLRU[string, *catalogSnapshot](cfg.Size, nil, cfg.TTL),
		metrics: metrics,
		logger:  logger,
	}
}

// ListRoles returns every catalog entry.
func (s *RoleCatalogService) ListRoles(ctx context.Context) ([]models.Role, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Role, len(snap.roles))
	copy(out, snap.roles)
	return out, nil
}

// GetRoleByName returns the entry for a canonical role name.
func (s *RoleCatalogService) GetRoleByName(ctx context.Context, name models.RoleName) (*models.Role, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	role, ok := snap.byName[name]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrRoleNotFound, "role "+string(name)+" not found")
	}
	return &role, nil
}

// GetRoleByID returns the entry with the given id.
func (s *RoleCatalogService) GetRoleByID(ctx context.Context, id string) (*models.Role, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	role, ok := snap.byID[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrRoleNotFound, "")
	}
	return &role, nil
}

// SeedDefaults inserts any canonical role missing from the catalog.
func (s *RoleCatalogService) SeedDefaults(ctx context.Context) (int, error) {
	inserted, err := s.repo.SeedDefaults(ctx, models.DefaultRoles())
	if err != nil {
		return inserted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed role catalog")
	}
	if inserted > 0 {
		s.logger.Info("seeded role catalog", zap.Int("inserted", inserted))
		s.Invalidate()
	}
	return inserted, nil
}

// Invalidate drops the cached catalog.
func (s *RoleCatalogService) Invalidate() {
	s.cache.Remove(catalogCacheKey)
}

func (s *RoleCatalogService) snapshot(ctx context.Context) (*catalogSnapshot, error) {
	start := time.Now()
	if snap, ok := s.cache.Get(catalogCacheKey); ok {
		s.metrics.RecordCacheOperation("catalog", true, time.Since(start))
		return snap, nil
	}
	s.metrics.RecordCacheOperation("catalog", false, time.Since(start))

	v, err, _ := s.group.Do(catalogCacheKey, func() (interface{}, error) {
		roles, err := s.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		snap := &catalogSnapshot{
			roles:  roles,
			byID:   make(map[string]models.Role, len(roles)),
			byName: make(map[models.RoleName]models.Role, len(roles)),
		}
		for _, r := range roles {
			snap.byID[r.ID] = r
			snap.byName[r.RoleName] = r
		}
		s.cache.Add(catalogCacheKey, snap)
		return snap, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load role catalog")
	}
	return v.(*catalogSnapshot), nil
}
