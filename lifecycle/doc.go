// Package lifecycle reclaims the ephemeral queues a task leaves behind.
//
// Every response queue created for a task is registered under the
// task's ID. When the task reaches a terminal state, Complete deletes
// the whole group at once. Registrations carry a safety TTL and a
// periodic sweep force-cleans tasks past the staleness threshold, so a
// crashed service cannot leak keys forever.
package lifecycle
