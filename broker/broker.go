package broker

import (
	"context"
	"errors"
	"time"
)

// Common errors.
var (
	ErrClosed = errors.New("broker closed")
)

// Broker is the port over the key/list store the platform rides on. The
// contract is deliberately small: an ordered list with push/blocking-pop,
// key expiry, an atomic increment-with-expiry, membership sets, and
// pub/sub. Any store offering these suffices; RedisBroker is the
// production implementation, MemoryBroker serves tests and single-process
// runs.
type Broker interface {
	// Push appends payload to the tail of the named queue (FIFO).
	Push(ctx context.Context, queue string, payload []byte) error

	// BlockingPop removes and returns the head of the named queue,
	// waiting up to timeout for one to appear. Returns (nil, nil) when
	// the wait elapses with no message.
	BlockingPop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value under key, or (nil, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetInt returns the counter value under key, or 0 when absent.
	GetInt(ctx context.Context, key string) (int64, error)

	// IncrByWithExpiry atomically increments the counter under key by
	// amount and refreshes its expiry, in a single round-trip. Returns
	// the new value.
	IncrByWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// Expire sets or refreshes the expiry of key. Missing keys are a no-op.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes keys. Deleting an absent key is a no-op, never an error.
	Delete(ctx context.Context, keys ...string) error

	// SAdd adds members to the set under key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set under key (nil when absent).
	SMembers(ctx context.Context, key string) ([]string, error)

	// SRem removes members from the set under key.
	SRem(ctx context.Context, key string, members ...string) error

	// Publish sends payload to all current subscribers of channel.
	// Publishing with no subscribers is not an error.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of payloads published to channel and a
	// cancel function that ends the subscription and closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)

	// Ping checks broker reachability.
	Ping(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}
