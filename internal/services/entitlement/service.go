// Package entitlement реализует чтение доступа пользователя для клиента.
//
// Результат чтения кэшируется в Redis на cacheTTL. Параллельные чтения одного
// пользователя объединяются в один запрос к базе. Значение попадает в кэш,
// только если за время чтения не было инвалидации, поэтому старое чтение
// не перезаписывает более новое состояние. Любая ошибка чтения из базы
// даёт отказ в доступе.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/entitlement-sync/internal/lib/metrics"
	"github.com/magabrotheeeer/entitlement-sync/internal/lib/sl"
	"github.com/magabrotheeeer/entitlement-sync/internal/models"
	"github.com/magabrotheeeer/entitlement-sync/internal/storage"
)

const (
	// DefaultCacheTTL интервал, в течение которого повторное чтение не идёт в базу.
	DefaultCacheTTL = 30 * time.Second

	fetchTimeout = 5 * time.Second
	keyPrefix    = "entitlement:"
)

// Store источник записей о доступе.
type Store interface {
	GetEntitlement(ctx context.Context, userID string) (*models.Entitlement, error)
}

// Cache кэш с поколениями ключей.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Generation(ctx context.Context, key string) (int64, error)
	SetIfGeneration(ctx context.Context, key string, gen int64, value any, expiration time.Duration) (bool, error)
	Invalidate(ctx context.Context, key string) error
}

type cachedEntry struct {
	Details   *models.Entitlement `json:"details"`
	FetchedAt time.Time           `json:"fetched_at"`
}

// Service читает доступ пользователя.
type Service struct {
	log    *slog.Logger
	store  Store
	cache  Cache
	ttl    time.Duration
	admins map[string]struct{}
	group  singleflight.Group
	now    func() time.Time
}

// NewService создаёт сервис чтения доступа. adminUserIDs всегда получают доступ.
func NewService(log *slog.Logger, store Store, cache Cache, ttl time.Duration, adminUserIDs []string) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	admins := make(map[string]struct{}, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = struct{}{}
		}
	}
	return &Service{
		log:    log,
		store:  store,
		cache:  cache,
		ttl:    ttl,
		admins: admins,
		now:    time.Now,
	}
}

// CacheKey ключ кэша для пользователя.
func CacheKey(userID string) string {
	return keyPrefix + userID
}

// IsAdmin сообщает, является ли пользователь администратором по роли в токене
// или по списку из конфигурации.
func (s *Service) IsAdmin(identity *models.Identity) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	_, ok := s.admins[identity.UserID]
	return ok
}

// Query возвращает состояние доступа пользователя. Никогда не возвращает
// HasActiveAccess=true при ошибке.
//
// Stale=true означает, что ответ взят из кэша.
// Если ctx отменён раньше, чем завершилось чтение, результат чтения
// не возвращается вызывающему.
func (s *Service) Query(ctx context.Context, identity *models.Identity) models.AccessState {
	const op = "entitlement.Query"

	if identity == nil || identity.UserID == "" {
		return models.AccessState{}
	}
	if s.IsAdmin(identity) {
		return models.AccessState{HasActiveAccess: true}
	}

	log := s.log.With(slog.String("op", op), slog.String("user_id", identity.UserID))
	key := CacheKey(identity.UserID)

	var entry cachedEntry
	found, err := s.cache.Get(ctx, key, &entry)
	switch {
	case err != nil:
		metrics.QueryCacheTotal.WithLabelValues("error").Inc()
		log.Warn("entitlement cache unavailable, reading store", sl.Err(err))
	case found:
		metrics.QueryCacheTotal.WithLabelValues("hit").Inc()
		return models.AccessState{
			HasActiveAccess: entry.Details.HasAccess(),
			Details:         entry.Details,
			Stale:           true,
		}
	default:
		metrics.QueryCacheTotal.WithLabelValues("miss").Inc()
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return s.fetch(fetchCtx, log, identity.UserID)
	})

	select {
	case <-ctx.Done():
		return failClosed(fmt.Errorf("%s: %w", op, ctx.Err()))
	case res := <-ch:
		if res.Err != nil {
			metrics.QueryFailuresTotal.Inc()
			log.Error("failed to read entitlement", sl.Err(res.Err))
			return failClosed(fmt.Errorf("%s: %w", op, res.Err))
		}
		fetched := res.Val.(cachedEntry)
		return models.AccessState{
			HasActiveAccess: fetched.Details.HasAccess(),
			Details:         fetched.Details,
		}
	}
}

// fetch читает запись из базы и кэширует её, если поколение ключа не изменилось.
func (s *Service) fetch(ctx context.Context, log *slog.Logger, userID string) (cachedEntry, error) {
	key := CacheKey(userID)

	gen, genErr := s.cache.Generation(ctx, key)
	if genErr != nil {
		log.Warn("failed to read cache generation", sl.Err(genErr))
	}

	details, err := s.store.GetEntitlement(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return cachedEntry{}, err
	}
	entry := cachedEntry{Details: details, FetchedAt: s.now().UTC()}

	if genErr == nil {
		stored, err := s.cache.SetIfGeneration(ctx, key, gen, entry, s.ttl)
		switch {
		case err != nil:
			log.Warn("failed to cache entitlement", sl.Err(err))
		case !stored:
			log.Debug("entitlement invalidated during read, not caching")
		}
	}
	return entry, nil
}

// Invalidate сбрасывает кэш пользователя. Чтения, начатые до вызова,
// не смогут записать свой результат в кэш.
func (s *Service) Invalidate(ctx context.Context, userID string) error {
	const op = "entitlement.Invalidate"
	key := CacheKey(userID)
	s.group.Forget(key)
	if err := s.cache.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func failClosed(err error) models.AccessState {
	return models.AccessState{HasActiveAccess: false, Err: err}
}
