// Package messaging implements the client side of the platform's three
// message-exchange patterns over the broker.
//
// # Patterns
//
// Fire-and-forget — push and move on, no delivery confirmation:
//
//	client.SendFireAndForget(ctx, action)
//
// Pseudo-sync — push, then block the calling goroutine on an ephemeral
// response queue until the reply or a timeout. Right for short calls
// (under ~30s):
//
//	resp, err := client.SendRequest(ctx, action, 10*time.Second)
//
// Async-with-callback — stamp a durable callback target and return
// immediately; the receiver reports completion minutes later by pushing a
// new action to the callback queue. The caller runs its own listener:
//
//	client.SendWithCallback(ctx, action, cbQueue, "ingestion.completed")
//
// Pseudo-sync is simplest but holds a waiting goroutine for the duration;
// callbacks decouple duration from connection lifetime at the cost of a
// listener; fire-and-forget needs neither but confirms nothing. All three
// are served by one Client.
//
// # Routing
//
// The target service is the namespace of the action type: an action of
// type "embedding.generate" goes to the embedding service's action queue.
// All queue names come from the queues.Namer; nothing here concatenates
// name strings by hand.
package messaging
