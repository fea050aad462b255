// Package envelope defines the wire envelopes exchanged between platform
// services.
//
// Action is the request envelope: it carries routing (action_type,
// origin_service, callback fields), correlation (task_id, correlation_id,
// trace_id), tenant context, and an opaque payload whose schema is private
// to the action type. ActionResponse is the reply envelope for pseudo-sync
// exchanges, paired to its Action by correlation_id.
package envelope

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nooble4/agentcomm/errors"
)

// Action is the request envelope sent to a service's action queue.
type Action struct {
	// Identity & correlation
	ActionID      string `json:"action_id"`                // Unique per message
	ActionType    string `json:"action_type"`              // Dot-namespaced handler route, e.g. "embedding.generate"
	TaskID        string `json:"task_id,omitempty"`        // Groups all messages of one end-user operation
	CorrelationID string `json:"correlation_id,omitempty"` // Pairs one request with its one response/callback
	TraceID       string `json:"trace_id,omitempty"`       // Propagated unchanged across the whole call graph

	// Routing
	OriginService string `json:"origin_service"` // Sender name, required for reply routing

	// Tenant context
	TenantID   string `json:"tenant_id,omitempty"`
	TenantTier string `json:"tenant_tier,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`

	// Callback target (set for pseudo-sync and async-with-callback patterns)
	CallbackQueueName  string `json:"callback_queue_name,omitempty"`
	CallbackActionType string `json:"callback_action_type,omitempty"`

	// Payload, schema-per-action-type
	Data json.RawMessage `json:"data,omitempty"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// NewAction creates an Action with a fresh action ID and creation time.
// data may be nil for actions without a payload.
func NewAction(actionType string, data map[string]interface{}) (*Action, error) {
	a := &Action{
		ActionID:   uuid.NewString(),
		ActionType: actionType,
		CreatedAt:  time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "marshal action data")
		}
		a.Data = raw
	}
	return a, nil
}

// Validate checks that the action carries the fields every consumer relies on.
func (a *Action) Validate() error {
	if a.ActionID == "" {
		return errors.InvalidInput("action missing action_id")
	}
	if a.ActionType == "" {
		return errors.InvalidInput("action missing action_type")
	}
	return nil
}

// Domain returns the namespace part of the action type ("embedding" for
// "embedding.generate"), or the whole type when there is no dot.
func (a *Action) Domain() string {
	if i := strings.IndexByte(a.ActionType, '.'); i >= 0 {
		return a.ActionType[:i]
	}
	return a.ActionType
}

// EnsureCorrelationID generates a correlation ID if none is set and
// returns it. The request initiator calls this before a pseudo-sync or
// callback exchange.
func (a *Action) EnsureCorrelationID() string {
	if a.CorrelationID == "" {
		a.CorrelationID = uuid.NewString()
	}
	return a.CorrelationID
}

// ExpectsCallback reports whether the sender asked for an asynchronous
// completion message.
func (a *Action) ExpectsCallback() bool {
	return a.CallbackQueueName != "" && a.CallbackActionType != ""
}

// DecodeData unmarshals the payload into v.
func (a *Action) DecodeData(v interface{}) error {
	if len(a.Data) == 0 {
		return errors.InvalidInput("action has no data payload")
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeMalformedMessage, "decode action data")
	}
	return nil
}

// Marshal serializes the action to JSON.
func (a *Action) Marshal() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalAction deserializes an action from JSON.
func UnmarshalAction(data []byte) (*Action, error) {
	var a Action
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeMalformedMessage, "unmarshal action")
	}
	return &a, nil
}

// ErrorDetail is the wire shape of a failure inside an ActionResponse.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionResponse is the reply envelope for pseudo-sync exchanges.
type ActionResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorDetail    `json:"error,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
}

// NewSuccessResponse builds a successful reply for the given action.
func NewSuccessResponse(a *Action, result map[string]interface{}) (*ActionResponse, error) {
	r := &ActionResponse{
		CorrelationID: a.CorrelationID,
		Success:       true,
		TraceID:       a.TraceID,
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "marshal response data")
		}
		r.Data = raw
	}
	return r, nil
}

// NewErrorResponse builds a failed reply for the given action. The error's
// platform code becomes the wire code when available.
func NewErrorResponse(a *Action, err error) *ActionResponse {
	detail := &ErrorDetail{
		Code:    errors.ErrCodeHandler.String(),
		Message: err.Error(),
	}
	if perr := errors.AsPlatformError(err); perr != nil {
		detail.Code = perr.Code().String()
	}
	return &ActionResponse{
		CorrelationID: a.CorrelationID,
		Success:       false,
		Error:         detail,
		TraceID:       a.TraceID,
	}
}

// DecodeData unmarshals the response payload into v.
func (r *ActionResponse) DecodeData(v interface{}) error {
	if len(r.Data) == 0 {
		return errors.InvalidInput("response has no data payload")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeMalformedMessage, "decode response data")
	}
	return nil
}

// Marshal serializes the response to JSON.
func (r *ActionResponse) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalActionResponse deserializes a response from JSON.
func UnmarshalActionResponse(data []byte) (*ActionResponse, error) {
	var r ActionResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeMalformedMessage, "unmarshal action response")
	}
	return &r, nil
}
