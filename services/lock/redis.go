package locksvc

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/bosvoting/core"
)

const keyPrefix = "bosvoting:lock:"

type redisLocker struct {
	rdb *redis.Client
}

var _ Locker = (*redisLocker)(nil)

// NewRedisClient connects to the configured Redis server.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

// NewRedisLocker shares claims between every process using the same Redis server.
func NewRedisLocker(rdb *redis.Client) Locker {
	return &redisLocker{rdb: rdb}
}

func (l *redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claiming %s", key)
	}
	return ok, nil
}

func (l *redisLocker) Release(ctx context.Context, key string) error {
	return errors.Wrapf(l.rdb.Del(ctx, keyPrefix+key).Err(), "releasing %s", key)
}
