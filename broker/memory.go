package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryBroker implements Broker with in-process state. Useful for tests
// and single-process scenarios; semantics track RedisBroker, including
// FIFO list order, lazy key expiry, and delivery of each popped message
// to exactly one waiter.
type MemoryBroker struct {
	mu       sync.Mutex
	lists    map[string][][]byte
	kv       map[string][]byte
	counters map[string]int64
	sets     map[string]map[string]struct{}
	expiry   map[string]time.Time
	waiters  map[string][]chan []byte
	subs     map[string][]*memorySubscriber
	closed   atomic.Bool
}

type memorySubscriber struct {
	ch     chan []byte
	closed atomic.Bool
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		lists:    make(map[string][][]byte),
		kv:       make(map[string][]byte),
		counters: make(map[string]int64),
		sets:     make(map[string]map[string]struct{}),
		expiry:   make(map[string]time.Time),
		waiters:  make(map[string][]chan []byte),
		subs:     make(map[string][]*memorySubscriber),
	}
}

// purgeExpired drops key if its expiry has passed. Caller holds mu.
func (b *MemoryBroker) purgeExpired(key string) {
	deadline, ok := b.expiry[key]
	if !ok || time.Now().Before(deadline) {
		return
	}
	delete(b.lists, key)
	delete(b.kv, key)
	delete(b.counters, key)
	delete(b.sets, key)
	delete(b.expiry, key)
}

// Push appends to the queue tail, or hands the payload directly to the
// oldest blocked popper.
func (b *MemoryBroker) Push(ctx context.Context, queue string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(queue)

	// Oldest waiter first, skipping any that already gave up
	for len(b.waiters[queue]) > 0 {
		w := b.waiters[queue][0]
		b.waiters[queue] = b.waiters[queue][1:]
		select {
		case w <- payload:
			return nil
		default:
		}
	}

	b.lists[queue] = append(b.lists[queue], payload)
	return nil
}

// BlockingPop removes the queue head, waiting up to timeout.
func (b *MemoryBroker) BlockingPop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	b.mu.Lock()
	b.purgeExpired(queue)
	if items := b.lists[queue]; len(items) > 0 {
		head := items[0]
		if len(items) == 1 {
			delete(b.lists, queue)
		} else {
			b.lists[queue] = items[1:]
		}
		b.mu.Unlock()
		return head, nil
	}

	w := make(chan []byte, 1)
	b.waiters[queue] = append(b.waiters[queue], w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case payload := <-w:
		return payload, nil
	case <-timer.C:
	case <-ctx.Done():
		b.removeWaiter(queue, w)
		// A push may have raced the cancellation
		select {
		case payload := <-w:
			return payload, nil
		default:
		}
		return nil, ctx.Err()
	}

	b.removeWaiter(queue, w)
	select {
	case payload := <-w:
		return payload, nil
	default:
	}
	return nil, nil
}

func (b *MemoryBroker) removeWaiter(queue string, w chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ws := b.waiters[queue]
	for i, cand := range ws {
		if cand == w {
			b.waiters[queue] = append(ws[:i], ws[i+1:]...)
			return
		}
	}
}

// Set stores value under key.
func (b *MemoryBroker) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.kv[key] = value
	if ttl > 0 {
		b.expiry[key] = time.Now().Add(ttl)
	} else {
		delete(b.expiry, key)
	}
	return nil
}

// Get returns the value under key, or nil when absent.
func (b *MemoryBroker) Get(ctx context.Context, key string) ([]byte, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	v, ok := b.kv[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// GetInt returns the counter under key, or 0 when absent.
func (b *MemoryBroker) GetInt(ctx context.Context, key string) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	return b.counters[key], nil
}

// IncrByWithExpiry atomically increments key and refreshes its expiry.
func (b *MemoryBroker) IncrByWithExpiry(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	b.counters[key] += amount
	if ttl > 0 {
		b.expiry[key] = time.Now().Add(ttl)
	}
	return b.counters[key], nil
}

// Expire sets or refreshes the expiry of key.
func (b *MemoryBroker) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exists(key) {
		b.expiry[key] = time.Now().Add(ttl)
	}
	return nil
}

// exists reports whether key holds any value. Caller holds mu.
func (b *MemoryBroker) exists(key string) bool {
	if _, ok := b.kv[key]; ok {
		return true
	}
	if _, ok := b.lists[key]; ok {
		return true
	}
	if _, ok := b.counters[key]; ok {
		return true
	}
	if _, ok := b.sets[key]; ok {
		return true
	}
	return false
}

// Delete removes keys; absent keys are a no-op.
func (b *MemoryBroker) Delete(ctx context.Context, keys ...string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		delete(b.lists, key)
		delete(b.kv, key)
		delete(b.counters, key)
		delete(b.sets, key)
		delete(b.expiry, key)
	}
	return nil
}

// SAdd adds members to the set under key.
func (b *MemoryBroker) SAdd(ctx context.Context, key string, members ...string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// SMembers returns the members of the set under key.
func (b *MemoryBroker) SMembers(ctx context.Context, key string) ([]string, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	set, ok := b.sets[key]
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

// SRem removes members from the set under key.
func (b *MemoryBroker) SRem(ctx context.Context, key string, members ...string) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.purgeExpired(key)
	set, ok := b.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(b.sets, key)
	}
	return nil
}

// Publish delivers payload to all current subscribers of channel.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.mu.Lock()
	subs := make([]*memorySubscriber, len(b.subs[channel]))
	copy(subs, b.subs[channel])
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.closed.Load() {
			select {
			case sub.ch <- payload:
			default:
				// Subscriber buffer full, drop
			}
		}
	}
	return nil
}

// Subscribe registers a subscriber for channel.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	if b.closed.Load() {
		return nil, nil, ErrClosed
	}
	sub := &memorySubscriber{ch: make(chan []byte, 64)}

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()

	cancel := func() {
		if !sub.closed.CompareAndSwap(false, true) {
			return
		}
		b.mu.Lock()
		subs := b.subs[channel]
		for i, cand := range subs {
			if cand == sub {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel, nil
}

// Ping always succeeds while the broker is open.
func (b *MemoryBroker) Ping(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close shuts down the broker. Blocked poppers return as their timeouts
// elapse.
func (b *MemoryBroker) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for channel, subs := range b.subs {
		for _, sub := range subs {
			if sub.closed.CompareAndSwap(false, true) {
				close(sub.ch)
			}
		}
		delete(b.subs, channel)
	}
	return nil
}

var _ Broker = (*MemoryBroker)(nil)
