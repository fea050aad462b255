// Package broker defines the port over the message store every other
// component rides on, with a Redis implementation for production and an
// in-memory implementation for tests.
//
// # Required primitives
//
// The platform needs exactly three things from its broker: an ordered
// list with push and blocking pop (queues), key expiry (self-cleaning
// ephemeral state), and an atomic increment-with-expiry (usage counters).
// Membership sets and pub/sub round out the queue lifecycle manager and
// notification channels. Nothing broker-specific beyond these is used,
// so any store offering them can back the Broker interface.
//
// # Delivery semantics
//
// BlockingPop is the sole mutual-exclusion mechanism: each pushed message
// is delivered to exactly one popping consumer, which is what lets many
// worker instances compete on one action queue without coordination.
// Within a single queue, order is FIFO. No ordering is guaranteed across
// queues.
package broker
