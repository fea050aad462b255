// Package errors provides structured error handling for the messaging
// substrate and quota engine.
//
// # Overview
//
// Errors carry a code (what failed), a category (how to handle it), and
// optional metadata. The category determines retry semantics:
//
//   - transient: infrastructure failures, retry may succeed (connection, timeout)
//   - permanent: retry will not help (malformed message, invalid input)
//   - resource: tier quota or capacity exhaustion, not retried
//   - business: action handler failures, returned to the caller in an ActionResponse
//   - internal: bugs and recovered panics
//
// # Usage
//
// Create errors with constructor functions:
//
//	err := errors.Timeout("no response from embedding service",
//	    errors.WithTaskID(taskID))
//
// Check errors with the helper predicates:
//
//	if errors.Is(err, errors.ErrCodeTimeout) { ... }
//	if errors.IsRetryable(err) { ... }
//
// Wrap preserves codes across layers:
//
//	return errors.Wrap(err, "push to action queue failed")
//
// # Propagation policy
//
// Infrastructure errors (connection, timeout, malformed message) are
// handled inside the messaging client and worker runtime; raw broker
// errors never reach business code. Business errors are converted into
// the ActionResponse error shape so every caller sees one failure
// contract regardless of exchange pattern.
package errors
