// Package cache реализует кэш записей о доступе поверх Redis.
//
// Каждый ключ сопровождается счётчиком поколений. Invalidate увеличивает счётчик,
// а SetIfGeneration записывает значение только если поколение не изменилось
// с момента начала чтения из базы.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/entitlement-sync/internal/config"
)

// generationTTL время жизни счётчика поколений.
const generationTTL = 24 * time.Hour

var setIfGeneration = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if not current then current = '0' end
if current ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache обёртка над клиентом Redis.
type Cache struct {
	Db *redis.Client
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Cache, error) {
	const op = "cache.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.AddressRedis,
		Password:     cfg.Password,
		DB:           cfg.DB,
		Username:     cfg.User,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.TimeoutRedis,
		WriteTimeout: cfg.TimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Cache{Db: db}, nil
}

// Get читает значение и декодирует его в result. false означает промах.
func (c *Cache) Get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err = json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// Generation возвращает текущее поколение ключа. Отсутствующий счётчик равен нулю.
func (c *Cache) Generation(ctx context.Context, key string) (int64, error) {
	const op = "cache.Generation"
	gen, err := c.Db.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return gen, nil
}

// SetIfGeneration записывает значение, только если поколение ключа всё ещё равно gen.
// Возвращает false, если ключ был инвалидирован во время чтения.
func (c *Cache) SetIfGeneration(ctx context.Context, key string, gen int64, value any, expiration time.Duration) (bool, error) {
	const op = "cache.SetIfGeneration"
	jsonData, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	stored, err := setIfGeneration.Run(ctx, c.Db,
		[]string{key, generationKey(key)},
		strconv.FormatInt(gen, 10), jsonData, expiration.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return stored == 1, nil
}

// Invalidate удаляет значение и увеличивает поколение ключа.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	const op = "cache.Invalidate"
	_, err := c.Db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(key))
		pipe.Expire(ctx, generationKey(key), generationTTL)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (c *Cache) Ping(ctx context.Context) error {
	return c.Db.Ping(ctx).Err()
}

// Close закрывает соединение.
func (c *Cache) Close() error {
	return c.Db.Close()
}

func generationKey(key string) string {
	return key + ":gen"
}
