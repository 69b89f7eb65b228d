// Package lockx is a minimal redis lease for single-flight work, such as
// keeping one digest cycle running at a time across worker instances.
package lockx

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release only deletes the key while the holder's token is still in place,
// so a lapsed lease taken over by another instance is never clobbered.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`

var (
	ErrNoClient   = errors.New("redis client not initialized")
	ErrInvalidTTL = errors.New("ttl must be > 0")
)

type Lock struct {
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes the lease if nobody holds it. The second return value is
// false when another holder already has the key; that is not an error.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration) (*Lock, bool, error) {
	if client == nil {
		return nil, false, ErrNoClient
	}
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	token := uuid.NewString()
	ok, err := client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{key: key, token: token, ttl: ttl}, true, nil
}

func Release(ctx context.Context, client *redis.Client, lock *Lock) error {
	if client == nil {
		return ErrNoClient
	}
	if lock == nil {
		return errors.New("lock is nil")
	}
	return client.Eval(ctx, releaseScript, []string{lock.key}, lock.token).Err()
}
