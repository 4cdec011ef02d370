// Package delayqueue хранит приостановленные запуски воркфлоу в отсортированном множестве Redis,
// где score равен времени пробуждения в unix-миллисекундах.
package delayqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/magabrotheeeer/subscription-tracker/internal/config"
)

// DefaultKey ключ множества по умолчанию.
const DefaultKey = "workflow:delayed"

// Queue очередь отложенных запусков.
type Queue struct {
	Db  *redis.Client
	key string
}

// InitServer подключается к Redis и проверяет соединение.
func InitServer(ctx context.Context, cfg config.RedisConnection) (*Queue, error) {
	const op = "delayqueue.InitServer"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddress,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		Username:     cfg.RedisUser,
		MaxRetries:   cfg.RedisMaxRetries,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisTimeoutRedis,
		WriteTimeout: cfg.RedisTimeoutRedis,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return New(db, DefaultKey), nil
}

// New создает очередь поверх готового клиента.
func New(db *redis.Client, key string) *Queue {
	return &Queue{Db: db, key: key}
}

// Schedule кладет запуск в очередь с временем пробуждения at.
// Повторный вызов для того же запуска переносит время.
func (q *Queue) Schedule(ctx context.Context, runID string, at time.Time) error {
	const op = "delayqueue.Schedule"
	err := q.Db.ZAdd(ctx, q.key, redis.Z{Score: float64(at.UnixMilli()), Member: runID}).Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// popDueScript выбирает и удаляет наступившие запуски одной атомарной операцией.
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

// PopDue забирает не более limit запусков, чье время пробуждения не позже now.
// Выборка и удаление выполняются одним скриптом: либо запуски достаются вызывающему целиком,
// либо остаются в очереди. Несколько поллеров не получат один и тот же запуск.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	const op = "delayqueue.PopDue"
	ids, err := popDueScript.Run(ctx, q.Db, []string{q.key}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// Len возвращает число ожидающих запусков. Раннер выставляет его в метрику после каждого опроса.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	const op = "delayqueue.Len"
	n, err := q.Db.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// Close закрывает соединение с Redis.
func (q *Queue) Close() error {
	return q.Db.Close()
}
