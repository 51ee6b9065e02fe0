package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/entitler/internal/models"
	"github.com/fatflowers/entitler/internal/platform/cache"
	"github.com/fatflowers/entitler/pkg/types"
)

var ErrNotFound = errors.New("entitlement: no snapshot for user")

const cacheTTL = time.Hour

// UserStore is where projected entitlements are published.
type UserStore interface {
	UpdateEntitlement(ctx context.Context, e *types.Entitlement) error
	InvalidateCache(ctx context.Context, userID string) error
	// GetEntitlement returns the last published snapshot or ErrNotFound.
	GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error)
}

// SnapshotStore keeps the user_entitlement row and a cache entry in front of it.
type SnapshotStore struct {
	db    *gorm.DB
	cache cache.Store
	log   *zap.SugaredLogger
}

func NewSnapshotStore(db *gorm.DB, c cache.Store, log *zap.SugaredLogger) *SnapshotStore {
	return &SnapshotStore{db: db, cache: c, log: log}
}

func cacheKey(userID string) string {
	return "entitlement:" + userID
}

func (s *SnapshotStore) UpdateEntitlement(ctx context.Context, e *types.Entitlement) error {
	row := models.NewUserEntitlement(e)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert user entitlement: %w", err)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entitlement: %w", err)
	}
	if err := s.cache.Set(ctx, cacheKey(e.UserID), string(b), cacheTTL); err != nil {
		// The row is written; a stale cache entry would outlive it, so drop it.
		s.log.Warnw("entitlement_cache_set_failed", "user_id", e.UserID, "error", err)
		return s.InvalidateCache(ctx, e.UserID)
	}
	return nil
}

func (s *SnapshotStore) InvalidateCache(ctx context.Context, userID string) error {
	if err := s.cache.Del(ctx, cacheKey(userID)); err != nil {
		return fmt.Errorf("invalidate entitlement cache: %w", err)
	}
	return nil
}

func (s *SnapshotStore) GetEntitlement(ctx context.Context, userID string) (*types.Entitlement, error) {
	if v, ok, err := s.cache.Get(ctx, cacheKey(userID)); err != nil {
		s.log.Warnw("entitlement_cache_get_failed", "user_id", userID, "error", err)
	} else if ok {
		var e types.Entitlement
		if err := json.Unmarshal([]byte(v), &e); err == nil {
			return &e, nil
		}
		s.log.Warnw("entitlement_cache_corrupt", "user_id", userID)
	}

	var row models.UserEntitlement
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user entitlement: %w", err)
	}
	e := row.ToEntitlement()
	if b, err := json.Marshal(e); err == nil {
		_ = s.cache.Set(ctx, cacheKey(userID), string(b), cacheTTL)
	}
	return e, nil
}
