package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates infrastructure failures where retry may
	// succeed. Examples: broker unreachable, pseudo-sync wait timed out.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed message, invalid queue name inputs.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates quota or capacity exhaustion.
	// Examples: tier limit exceeded, model not in tier allow-list.
	CategoryResource ErrorCategory = "resource"

	// CategoryBusiness indicates failures raised by a service's action
	// handler. These travel back to the caller inside an ActionResponse.
	CategoryBusiness ErrorCategory = "business"

	// CategoryInternal indicates unexpected errors, bugs, or recovered
	// panics.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	return c == CategoryTransient
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for the platform's failure taxonomy.
const (
	// Transient errors
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR" // Broker unreachable
	ErrCodeTimeout    ErrorCode = "TIMEOUT"          // Pseudo-sync wait exceeded deadline
	ErrCodeCanceled   ErrorCode = "CANCELED"         // Context canceled before completion

	// Permanent errors
	ErrCodeMalformedMessage ErrorCode = "MALFORMED_MESSAGE" // Undeserializable payload
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"     // Malformed or missing required input
	ErrCodeUnknownAction    ErrorCode = "UNKNOWN_ACTION"    // No handler for the action type

	// Resource errors
	ErrCodeTierLimit       ErrorCode = "TIER_LIMIT_EXCEEDED" // Tenant tier quota exhausted
	ErrCodeResourceUnknown ErrorCode = "RESOURCE_UNKNOWN"    // No limit configured for (tier, resource)

	// Business errors
	ErrCodeHandler ErrorCode = "HANDLER_ERROR" // Action handler returned an error

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from a handler panic
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeConnection, ErrCodeTimeout, ErrCodeCanceled:
		return CategoryTransient
	case ErrCodeMalformedMessage, ErrCodeInvalidInput, ErrCodeUnknownAction:
		return CategoryPermanent
	case ErrCodeTierLimit, ErrCodeResourceUnknown:
		return CategoryResource
	case ErrCodeHandler:
		return CategoryBusiness
	default:
		return CategoryInternal
	}
}

// Description returns a human-readable description for the code.
func (c ErrorCode) Description() string {
	switch c {
	case ErrCodeConnection:
		return "message broker unreachable"
	case ErrCodeTimeout:
		return "request timed out waiting for response"
	case ErrCodeCanceled:
		return "operation canceled"
	case ErrCodeMalformedMessage:
		return "message payload could not be deserialized"
	case ErrCodeInvalidInput:
		return "invalid input"
	case ErrCodeUnknownAction:
		return "no handler registered for action type"
	case ErrCodeTierLimit:
		return "tenant tier limit exceeded"
	case ErrCodeResourceUnknown:
		return "no limit configured for resource"
	case ErrCodeHandler:
		return "action handler failed"
	case ErrCodePanic:
		return "recovered from handler panic"
	default:
		return "internal error"
	}
}
