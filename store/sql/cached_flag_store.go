package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-protect/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const flagCacheKeyPrefix = "go-protect::protection_flag::v1"

// CachedFlagStore fronts a flag store with read-through caching. Writes go
// to the base store first and then invalidate the touched keys, so a read
// after a committed write never serves the stale flag.
type CachedFlagStore struct {
	base  core.FlagStore
	cache repositorycache.CacheService
}

func NewCachedFlagStore(base core.FlagStore, cacheService repositorycache.CacheService) (*CachedFlagStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base flag store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: flag cache service is required")
	}
	return &CachedFlagStore{base: base, cache: cacheService}, nil
}

// FlagCacheKey returns the deterministic cache key contract for flag reads:
// go-protect::protection_flag::v1::<identity>::<selector>.
func FlagCacheKey(identity core.Identity, selector core.Selector) string {
	return strings.Join([]string{flagCacheKeyPrefix, identity.String(), selector.String()}, "::")
}

func (s *CachedFlagStore) Apply(ctx context.Context, identity core.Identity, updates []core.FlagUpdate, now time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached flag store is not configured")
	}
	if err := s.base.Apply(ctx, identity, updates, now); err != nil {
		return err
	}
	for _, update := range updates {
		if err := s.cache.Delete(ctx, FlagCacheKey(identity, update.Selector)); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedFlagStore) Get(ctx context.Context, identity core.Identity, selector core.Selector) (bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return false, fmt.Errorf("sqlstore: cached flag store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, FlagCacheKey(identity, selector), func(ctx context.Context) (bool, error) {
		return s.base.Get(ctx, identity, selector)
	})
}

func (s *CachedFlagStore) GetBatch(ctx context.Context, identity core.Identity, selectors []core.Selector) ([]bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached flag store is not configured")
	}
	flags := make([]bool, len(selectors))
	for i, selector := range selectors {
		enabled, err := s.Get(ctx, identity, selector)
		if err != nil {
			return nil, err
		}
		flags[i] = enabled
	}
	return flags, nil
}

var _ core.FlagStore = (*CachedFlagStore)(nil)
