// Package worker runs the dispatch loop every platform service is built
// on: pop the service's action queue, decode, hand off to the service's
// Handler, and reply according to the exchange pattern the sender chose.
//
// # Handler contract
//
// HandleAction must be pure routing at the top: switch on action_type,
// delegate to domain logic, return the result map (pseudo-sync and
// callback actions) or nil (fire-and-forget). Returning an error from a
// pseudo-sync action still resolves the caller's wait, as a failed
// ActionResponse. Panics are recovered at the loop boundary and treated
// like handler errors; nothing a handler does crashes the loop.
//
// # Scaling
//
// Run any number of Runtime instances against the same action queue; the
// broker's blocking pop hands each message to exactly one of them. No
// coordination is needed between instances.
package worker
