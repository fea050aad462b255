package broker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nooble4/agentcomm/errors"
)

// incrWithExpiryScript increments a counter and refreshes its expiry in a
// single round-trip, so concurrent counter-update workers never race a
// read-modify-write.
// KEYS[1] = counter key
// ARGV[1] = increment amount
// ARGV[2] = ttl in seconds (0 = no expiry change)
var incrWithExpiryScript = redis.NewScript(`
local value = redis.call("INCRBY", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
    redis.call("EXPIRE", KEYS[1], ttl)
end
return value
`)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password for AUTH, empty for none.
	Password string

	// DB selects the logical database.
	DB int

	// PoolSize bounds the shared connection pool (0 = go-redis default).
	PoolSize int

	// DialTimeout for initial connections.
	DialTimeout time.Duration
}

// RedisBroker implements Broker over a Redis server. Connections are
// pooled by go-redis and shared across all exchange patterns.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker creates a broker and verifies the server is reachable.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	b := &RedisBroker{client: client}
	if err := b.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

// connErr wraps a go-redis error as a platform connection error so raw
// broker errors never leak to business code.
func connErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WrapWithCode(err, errors.ErrCodeConnection, "redis "+op+" failed")
}

// Push appends payload to the queue tail (LPUSH pairs with BRPOP for FIFO).
func (b *RedisBroker) Push(ctx context.Context, queue string, payload []byte) error {
	return connErr(b.client.LPush(ctx, queue, payload).Err(), "lpush")
}

// BlockingPop pops the queue head, waiting up to timeout.
func (b *RedisBroker) BlockingPop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, connErr(err, "brpop")
	}
	// BRPOP returns [queue, value]
	if len(res) != 2 {
		return nil, errors.Internal("unexpected brpop reply shape")
	}
	return []byte(res[1]), nil
}

// Set stores value under key.
func (b *RedisBroker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 0
	}
	return connErr(b.client.Set(ctx, key, value, ttl).Err(), "set")
}

// Get returns the value under key, or nil when absent.
func (b *RedisBroker) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, connErr(err, "get")
	}
	return val, nil
}

// GetInt returns the counter under key, or 0 when absent.
func (b *RedisBroker) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := b.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, connErr(err, "get")
	}
	return val, nil
}

// IncrByWithExpiry atomically increments key and refreshes its expiry via
// a Lua script.
func (b *RedisBroker) IncrByWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ttlSeconds := int64(0)
	if ttl > 0 {
		ttlSeconds = int64(ttl / time.Second)
		if ttlSeconds < 1 {
			ttlSeconds = 1
		}
	}
	val, err := incrWithExpiryScript.Run(ctx, b.client, []string{key}, amount, ttlSeconds).Int64()
	if err != nil {
		return 0, connErr(err, "incr script")
	}
	return val, nil
}

// Expire sets or refreshes the expiry of key.
func (b *RedisBroker) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return connErr(b.client.Expire(ctx, key, ttl).Err(), "expire")
}

// Delete removes keys; absent keys are a no-op.
func (b *RedisBroker) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return connErr(b.client.Del(ctx, keys...).Err(), "del")
}

// SAdd adds members to the set under key.
func (b *RedisBroker) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return connErr(b.client.SAdd(ctx, key, args...).Err(), "sadd")
}

// SMembers returns the members of the set under key.
func (b *RedisBroker) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := b.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, connErr(err, "smembers")
	}
	if len(members) == 0 {
		return nil, nil
	}
	return members, nil
}

// SRem removes members from the set under key.
func (b *RedisBroker) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return connErr(b.client.SRem(ctx, key, args...).Err(), "srem")
}

// Publish sends payload to channel subscribers.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return connErr(b.client.Publish(ctx, channel, payload).Err(), "publish")
}

// Subscribe returns a channel of payloads published to channel.
func (b *RedisBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Force the subscription to be established before returning
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, connErr(err, "subscribe")
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	cancel := func() { pubsub.Close() }
	return out, cancel, nil
}

// Ping checks broker reachability.
func (b *RedisBroker) Ping(ctx context.Context) error {
	return connErr(b.client.Ping(ctx).Err(), "ping")
}

// Close releases the connection pool.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
