package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"movie-match/internal/domain"
	"movie-match/internal/metrics"
	"movie-match/internal/repository"
)

const (
	contentTTL     = 24 * time.Hour
	minCachedItems = 20
	maxCachedItems = 50
)

// PrecacheService 为房间准备候选内容列表，优先读缓存，其次内容提供方，最后回退到固定列表。
// 对调用方来说它永远返回一个可用的列表。
type PrecacheService struct {
	store    repository.KeyValueStore
	provider ContentProvider
	retry    *RetryPolicy
	now      func() time.Time
}

// NewPrecacheService 创建 PrecacheService 实例。provider 为 nil 时总是使用回退列表。
func NewPrecacheService(store repository.KeyValueStore, provider ContentProvider, retry *RetryPolicy, opts ...Option) *PrecacheService {
	if store == nil {
		panic("KeyValueStore cannot be nil for PrecacheService")
	}
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	o := buildOptions(opts)
	return &PrecacheService{store: store, provider: provider, retry: retry, now: o.now}
}

// PreCache 返回房间的候选列表，缓存新鲜时不调用内容提供方。
func (s *PrecacheService) PreCache(ctx context.Context, roomID string, genreFilter []int) (*domain.CachedContentSet, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "genres": genreFilter})

	// 1. 读缓存
	if cached := s.loadCached(ctx, roomID); cached != nil {
		metrics.PrecacheRequests.WithLabelValues("hit").Inc()
		logCtx.Debug("Content cache hit")
		return cached, nil
	}

	// 2-4. 构建并持久化
	return s.build(ctx, roomID, genreFilter), nil
}

// RefreshCache 丢弃房间的缓存并重新构建。
func (s *PrecacheService) RefreshCache(ctx context.Context, roomID string, genreFilter []int) (*domain.CachedContentSet, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}
	err := s.retry.Do(ctx, "content.delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, repository.TableContentCache, roomKey(roomID))
	})
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("content_cache_delete").Inc()
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to delete content cache before refresh")
	}
	return s.build(ctx, roomID, genreFilter), nil
}

// GetCached 只读缓存，不存在或已过期时返回 nil。
func (s *PrecacheService) GetCached(ctx context.Context, roomID string) (*domain.CachedContentSet, error) {
	if roomID == "" {
		return nil, validationError("roomId is required")
	}
	return s.loadCached(ctx, roomID), nil
}

// loadCached 读取未过期的缓存，任何读取失败都视为未命中。
func (s *PrecacheService) loadCached(ctx context.Context, roomID string) *domain.CachedContentSet {
	logCtx := logrus.WithField("room_id", roomID)
	item, err := retryValue(ctx, s.retry, "content.get", func(ctx context.Context) (repository.Item, error) {
		return s.store.Get(ctx, repository.TableContentCache, roomKey(roomID))
	})
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Warn("Failed to read content cache, treating as miss")
		}
		return nil
	}
	set, err := itemToContentSet(item)
	if err != nil {
		logCtx.WithError(err).Warn("Corrupt content cache record, treating as miss")
		return nil
	}
	if !set.Fresh(s.now()) {
		return nil
	}
	return set
}

func (s *PrecacheService) build(ctx context.Context, roomID string, genreFilter []int) *domain.CachedContentSet {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "genres": genreFilter})
	now := s.now().UTC()
	ttl := now.Add(contentTTL)

	var items []domain.CachedItem
	if s.provider != nil {
		external, err := s.provider.FetchByFilter(ctx, genreFilter)
		if err != nil {
			logCtx.WithError(err).Warn("Content provider failed, using fallback list")
		} else {
			items = mapExternal(external, now, ttl)
		}
	}

	outcome := "provider"
	switch {
	case len(items) == 0:
		outcome = "fallback"
		items = fallbackItems(now, ttl, nil, len(fallbackCatalog))
	case len(items) < minCachedItems:
		items = append(items, fallbackItems(now, ttl, items, minCachedItems-len(items))...)
	}
	metrics.PrecacheRequests.WithLabelValues(outcome).Inc()

	filters := append([]int{}, genreFilter...)
	set := &domain.CachedContentSet{
		RoomID:       roomID,
		Items:        items,
		GenreFilters: filters,
		CachedAt:     now,
		TTL:          ttl,
	}

	record, err := contentSetToItem(set)
	if err == nil {
		err = s.retry.Do(ctx, "content.put", func(ctx context.Context) error {
			return s.store.Put(ctx, repository.TableContentCache, record)
		})
	}
	if err != nil {
		metrics.BestEffortFailures.WithLabelValues("content_cache_put").Inc()
		logCtx.WithError(err).Warn("Failed to persist content cache, returning list anyway")
	}
	logCtx.WithFields(logrus.Fields{"items": len(items), "source": outcome}).Info("Content list built")
	return set
}

// mapExternal 转换内容提供方的结果，按 ID 去重并截断到上限。
func mapExternal(external []domain.ExternalContent, now, ttl time.Time) []domain.CachedItem {
	items := make([]domain.CachedItem, 0, len(external))
	seen := make(map[string]struct{}, len(external))
	for _, e := range external {
		if len(items) == maxCachedItems {
			break
		}
		if e.ExternalID == "" {
			continue
		}
		if _, dup := seen[e.ExternalID]; dup {
			continue
		}
		seen[e.ExternalID] = struct{}{}

		item := domain.CachedItem{
			ID:       e.ExternalID,
			Title:    e.Title,
			ImageRef: e.ImageRef,
			Summary:  e.Summary,
			Genres:   genreNames(e.GenreIDs),
			CachedAt: now,
			TTL:      ttl,
		}
		if year, ok := releaseYear(e.ReleaseDate); ok {
			item.Year = &year
		}
		if e.RatingAvg > 0 {
			rating := e.RatingAvg
			item.Rating = &rating
		}
		items = append(items, item)
	}
	return items
}

func releaseYear(date string) (int, bool) {
	if len(date) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil || year <= 0 {
		return 0, false
	}
	return year, true
}

// fallbackItems 从固定列表中按顺序取最多 n 个不在 existing 中的条目。
func fallbackItems(now, ttl time.Time, existing []domain.CachedItem, n int) []domain.CachedItem {
	seen := make(map[string]struct{}, len(existing))
	for _, it := range existing {
		seen[it.ID] = struct{}{}
	}
	out := make([]domain.CachedItem, 0, n)
	for _, f := range fallbackCatalog {
		if len(out) == n {
			break
		}
		if _, dup := seen[f.id]; dup {
			continue
		}
		year := f.year
		out = append(out, domain.CachedItem{
			ID:       f.id,
			Title:    f.title,
			Genres:   []string{popularGenre},
			Year:     &year,
			CachedAt: now,
			TTL:      ttl,
		})
	}
	return out
}
