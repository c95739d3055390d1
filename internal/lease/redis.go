package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript удаляет ключ, только если он принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ConnectRedis создаёт клиент Redis и проверяет подключение.
func ConnectRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ошибка подключения к Redis: %w", err)
	}

	logger.Info("Подключение к Redis установлено", slog.String("addr", addr), slog.Int("db", db))
	return client, nil
}

// RedisLeaser — лизы в Redis, общие для всех экземпляров сервиса.
type RedisLeaser struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisLeaser создаёт RedisLeaser.
func NewRedisLeaser(client *redis.Client, logger *slog.Logger) *RedisLeaser {
	return &RedisLeaser{
		client: client,
		prefix: "docportal:lease:",
		logger: logger.With(slog.String("component", "lease")),
	}
}

// Acquire выполняет SET NX PX с уникальным токеном владельца.
func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка получения лизы %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	l.logger.Debug("Лиза получена", slog.String("key", key))

	var once sync.Once
	return func() {
		once.Do(func() {
			// Освобождение не зависит от отмены контекста запроса
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.logger.Warn("Не удалось освободить лизу",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			}
		})
	}, nil
}

// CheckReady проверяет доступность Redis.
func (l *RedisLeaser) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.client.Ping(ctx).Err(); err != nil {
		return "fail", fmt.Sprintf("Redis недоступен: %v", err)
	}
	return "ok", "подключение активно"
}
