package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/roach88/crewflow/internal/model"
)

const (
	redisPending = "PENDING"
	redisDone    = "DONE"
)

// releaseScript deletes a key only while it is still a reservation.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard keeps keys in Redis for deployments running several engine
// processes against separate stores. Reservations are SETNX with the
// lease as TTL, so an abandoned reservation expires on its own.
type RedisGuard struct {
	client    redis.UniversalClient
	namespace string
	lease     time.Duration
}

// NewRedisGuard returns a guard storing keys under "<namespace>:idem:".
func NewRedisGuard(client redis.UniversalClient, namespace string, lease time.Duration) *RedisGuard {
	if lease <= 0 {
		lease = DefaultLease
	}
	if namespace == "" {
		namespace = "crewflow"
	}
	return &RedisGuard{client: client, namespace: namespace, lease: lease}
}

// DialRedis connects to addrs (one address, or several for a cluster) and
// verifies the connection.
func DialRedis(ctx context.Context, addrs []string) (redis.UniversalClient, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis guard: no addresses configured")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func (g *RedisGuard) redisKey(key model.SemanticKey) (string, error) {
	hash, err := key.Hash()
	if err != nil {
		return "", err
	}
	return g.namespace + ":idem:" + hash, nil
}

func (g *RedisGuard) ShouldProceed(ctx context.Context, key model.SemanticKey) (bool, error) {
	k, err := g.redisKey(key)
	if err != nil {
		return false, err
	}
	ok, err := g.client.SetNX(ctx, k, redisPending, g.lease).Result()
	if err != nil {
		return false, fmt.Errorf("redis guard: reserve %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Record(ctx context.Context, key model.SemanticKey) error {
	k, err := g.redisKey(key)
	if err != nil {
		return err
	}
	if err := g.client.Set(ctx, k, redisDone, 0).Err(); err != nil {
		return fmt.Errorf("redis guard: record %s: %w", key, err)
	}
	return nil
}

func (g *RedisGuard) Release(ctx context.Context, key model.SemanticKey) error {
	k, err := g.redisKey(key)
	if err != nil {
		return err
	}
	if err := releaseScript.Run(ctx, g.client, []string{k}, redisPending).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis guard: release %s: %w", key, err)
	}
	return nil
}
