package store

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagen/guidevault/internal/cache"
	"github.com/voyagen/guidevault/internal/logging"
	"github.com/voyagen/guidevault/internal/models"
	"github.com/voyagen/guidevault/internal/sortorder"
)

// Cache TTLs for different entity types.
const (
	ttlCategories  = 2 * time.Minute
	ttlEpgFile     = 5 * time.Minute
	ttlEpgFiles    = 2 * time.Minute
	ttlEpgChannels = 10 * time.Minute
	ttlEpgGroup    = 10 * time.Minute
)

// CachedStore wraps a Store with a Redis caching layer.
// Categories and program guides are served from cache when possible;
// write operations invalidate the relevant cache keys. Playlists are not
// cached because provider credentials never leave the database.
type CachedStore struct {
	Store
	cache *cache.Redis
}

// NewCachedStore creates a CachedStore that wraps inner with Redis caching.
func NewCachedStore(inner Store, c *cache.Redis) *CachedStore {
	return &CachedStore{Store: inner, cache: c}
}

func categoriesKey(playlistID int64) string { return fmt.Sprintf("categories:%d", playlistID) }
func epgFileKey(fileID int64) string { return fmt.Sprintf("epg:file:%d", fileID) }
func epgChannelsKey(fileID int64) string { return fmt.Sprintf("epg:channels:%d", fileID) }
func epgGroupKey(groupID int64) string { return fmt.Sprintf("epg:group:%d", groupID) }

const epgFilesKey = "epg:files"

// cached serves key from Redis or loads and stores it.
func cached[T any](ctx context.Context, c *CachedStore, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	if v, ok, err := cache.Get[T](ctx, c.cache, key); ok {
		return v, nil
	} else if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache get failed")
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	if err := cache.Set(ctx, c.cache, key, v, ttl); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
	return v, nil
}

// --- cached read operations ---

func (c *CachedStore) ListCategories(ctx context.Context, playlistID int64) ([]models.Category, error) {
	return cached(ctx, c, categoriesKey(playlistID), ttlCategories, func() ([]models.Category, error) {
		return c.Store.ListCategories(ctx, playlistID)
	})
}

func (c *CachedStore) GetEpgFile(ctx context.Context, id int64) (*models.EpgFile, error) {
	return cached(ctx, c, epgFileKey(id), ttlEpgFile, func() (*models.EpgFile, error) {
		return c.Store.GetEpgFile(ctx, id)
	})
}

func (c *CachedStore) ListEpgFiles(ctx context.Context) ([]models.EpgFile, error) {
	return cached(ctx, c, epgFilesKey, ttlEpgFiles, func() ([]models.EpgFile, error) {
		return c.Store.ListEpgFiles(ctx)
	})
}

func (c *CachedStore) GetEpgGroup(ctx context.Context, id int64) (*models.EpgGroup, error) {
	return cached(ctx, c, epgGroupKey(id), ttlEpgGroup, func() (*models.EpgGroup, error) {
		return c.Store.GetEpgGroup(ctx, id)
	})
}

func (c *CachedStore) ListEpgChannels(ctx context.Context, fileID int64) ([]models.EpgChannel, error) {
	return cached(ctx, c, epgChannelsKey(fileID), ttlEpgChannels, func() ([]models.EpgChannel, error) {
		return c.Store.ListEpgChannels(ctx, fileID)
	})
}

// --- write operations with cache invalidation ---

func (c *CachedStore) DeletePlaylist(ctx context.Context, id int64) error {
	if err := c.Store.DeletePlaylist(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, categoriesKey(id))
	return nil
}

func (c *CachedStore) SetCategorySelection(ctx context.Context, playlistID int64, categoryIDs []string) error {
	if err := c.Store.SetCategorySelection(ctx, playlistID, categoryIDs); err != nil {
		return err
	}
	c.invalidate(ctx, categoriesKey(playlistID))
	return nil
}

func (c *CachedStore) RenameCategory(ctx context.Context, playlistID int64, categoryID, name string) error {
	if err := c.Store.RenameCategory(ctx, playlistID, categoryID, name); err != nil {
		return err
	}
	c.invalidate(ctx, categoriesKey(playlistID))
	return nil
}

func (c *CachedStore) ApplySortOrder(ctx context.Context, playlistID int64, channels []sortorder.Update, categories []sortorder.CategoryUpdate) error {
	if err := c.Store.ApplySortOrder(ctx, playlistID, channels, categories); err != nil {
		return err
	}
	if len(categories) > 0 {
		c.invalidate(ctx, categoriesKey(playlistID))
	}
	return nil
}

func (c *CachedStore) ApplyPlaylistSync(ctx context.Context, s *PlaylistSync) error {
	if err := c.Store.ApplyPlaylistSync(ctx, s); err != nil {
		return err
	}
	c.invalidate(ctx, categoriesKey(s.PlaylistID))
	return nil
}

func (c *CachedStore) CreateEpgFile(ctx context.Context, f *models.EpgFile) error {
	if err := c.Store.CreateEpgFile(ctx, f); err != nil {
		return err
	}
	c.invalidate(ctx, epgFilesKey)
	return nil
}

func (c *CachedStore) ApplyEpgSync(ctx context.Context, fileID int64, channels []models.EpgChannel, programmeCount int) error {
	if err := c.Store.ApplyEpgSync(ctx, fileID, channels, programmeCount); err != nil {
		return err
	}
	c.invalidate(ctx, epgFileKey(fileID), epgChannelsKey(fileID), epgFilesKey)
	return nil
}

// --- helpers ---

// invalidate deletes exact cache keys, logging any errors.
func (c *CachedStore) invalidate(ctx context.Context, keys ...string) {
	if err := cache.Del(ctx, c.cache, keys...); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Strs("keys", keys).Msg("cache del failed")
	}
}

// Flush drops every cached category and guide entry.
func (c *CachedStore) Flush(ctx context.Context) {
	n, err := cache.Purge(ctx, c.cache, "categories:*", "epg:*")
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("cache purge failed")
		return
	}
	logging.Ctx(ctx).Debug().Int("keys", n).Msg("cache purged")
}
