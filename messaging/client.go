package messaging

import (
	"context"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/envelope"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/queues"
)

// QueueRegistrar records task-scoped queues so they can be reclaimed when
// the task completes. *lifecycle.Manager satisfies this.
type QueueRegistrar interface {
	Register(ctx context.Context, taskID, queueName string) error
}

// Client implements the three message-exchange patterns over the broker.
// One Client instance safely serves many concurrent outstanding requests;
// each pseudo-sync call gets its own uniquely named response queue.
type Client struct {
	cfg       config.Config
	broker    broker.Broker
	namer     *queues.Namer
	registrar QueueRegistrar
	log       *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRegistrar wires a queue lifecycle registrar; response queues created
// for actions that carry a task_id get registered for later cleanup.
func WithRegistrar(r QueueRegistrar) Option {
	return func(c *Client) {
		c.registrar = r
	}
}

// NewClient creates a messaging client for the given service config.
func NewClient(cfg config.Config, b broker.Broker, log *logging.Logger, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	namer, err := queues.NewNamer(cfg.Prefix, cfg.Environment)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New()
	}
	c := &Client{
		cfg:    cfg,
		broker: b,
		namer:  namer,
		log:    log.WithComponent("messaging.client").WithService(cfg.ServiceName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Namer exposes the client's naming authority so callers build callback
// queue names through it rather than by hand.
func (c *Client) Namer() *queues.Namer {
	return c.namer
}

// push serializes and pushes with bounded retry on connection errors.
func (c *Client) push(ctx context.Context, queue string, payload []byte) error {
	attempts := c.cfg.SendRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := c.cfg.SendBackoff

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "push canceled")
			}
			backoff *= 2
		}
		lastErr = c.broker.Push(ctx, queue, payload)
		if lastErr == nil {
			return nil
		}
		if !errors.IsRetryable(lastErr) {
			break
		}
		c.log.Warn("push retry", map[string]interface{}{
			"queue":   queue,
			"attempt": i + 1,
			"error":   lastErr.Error(),
		})
	}
	return errors.WrapWithCode(lastErr, errors.ErrCodeConnection, "push to "+queue+" failed")
}

// prepare stamps the origin service and resolves the target action queue
// from the action type's namespace.
func (c *Client) prepare(a *envelope.Action) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	a.OriginService = c.cfg.ServiceName
	return c.namer.ActionQueue(a.Domain())
}

// SendFireAndForget pushes the action to its target's action queue with no
// wait and no delivery confirmation. Use for notifications and events
// that need no acknowledgment.
func (c *Client) SendFireAndForget(ctx context.Context, a *envelope.Action) error {
	target, err := c.prepare(a)
	if err != nil {
		return err
	}
	payload, err := a.Marshal()
	if err != nil {
		return err
	}
	return c.push(ctx, target, payload)
}

// SendRequest implements the pseudo-sync pattern: push the action, then
// block (the calling goroutine only) on an ephemeral response queue until
// a reply arrives or timeout elapses. timeout <= 0 uses the configured
// default.
//
// On timeout the response queue is abandoned, not drained; a best-effort
// TTL bounds how long a late reply can linger in the broker.
func (c *Client) SendRequest(ctx context.Context, a *envelope.Action, timeout time.Duration) (*envelope.ActionResponse, error) {
	target, err := c.prepare(a)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.cfg.DefaultRequestTimeout
	}

	corr := a.EnsureCorrelationID()
	respQueue, err := c.namer.ResponseQueue(c.cfg.ServiceName, a.ActionType, corr)
	if err != nil {
		return nil, err
	}
	// The response queue doubles as the reply target. Its shape tells the
	// receiving runtime this is a pseudo-sync request, not a durable
	// callback registration.
	a.CallbackQueueName = respQueue
	a.CallbackActionType = ""

	if c.registrar != nil && a.TaskID != "" {
		if err := c.registrar.Register(ctx, a.TaskID, respQueue); err != nil {
			c.log.Warn("response queue registration failed", map[string]interface{}{
				"task_id": a.TaskID, "queue": respQueue, "error": err.Error(),
			})
		}
	}

	payload, err := a.Marshal()
	if err != nil {
		return nil, err
	}
	if err := c.push(ctx, target, payload); err != nil {
		return nil, err
	}

	raw, err := c.broker.BlockingPop(ctx, respQueue, timeout)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeConnection, "response wait failed")
	}
	if raw == nil {
		// Abandon the queue; bound any late reply's lifetime.
		if c.cfg.ResponseQueueTTL > 0 {
			_ = c.broker.Expire(context.WithoutCancel(ctx), respQueue, c.cfg.ResponseQueueTTL)
		}
		return nil, errors.Timeout("no response within "+timeout.String(),
			errors.WithMetadata("action_type", a.ActionType),
			errors.WithMetadata("correlation_id", corr),
			errors.WithTaskID(a.TaskID))
	}

	resp, err := envelope.UnmarshalActionResponse(raw)
	if err != nil {
		return nil, err
	}
	if resp.CorrelationID != corr {
		// The queue name embeds the correlation ID, so only exactly one
		// request can legitimately receive from it.
		return nil, errors.Internal("response correlation mismatch",
			errors.WithMetadata("expected", corr),
			errors.WithMetadata("received", resp.CorrelationID))
	}
	return resp, nil
}

// SendWithCallback stamps the durable callback target on the action and
// fire-and-forgets it. The receiver reports completion by pushing a new
// Action with action_type = callbackActionType and the same
// correlation_id to callbackQueueName. This is how work that runs for
// minutes reports completion without holding a connection on either side.
func (c *Client) SendWithCallback(ctx context.Context, a *envelope.Action, callbackQueueName, callbackActionType string) error {
	if callbackQueueName == "" || callbackActionType == "" {
		return errors.InvalidInput("callback sends require a callback queue and action type")
	}
	a.EnsureCorrelationID()
	a.CallbackQueueName = callbackQueueName
	a.CallbackActionType = callbackActionType

	if c.registrar != nil && a.TaskID != "" {
		if err := c.registrar.Register(ctx, a.TaskID, callbackQueueName); err != nil {
			c.log.Warn("callback queue registration failed", map[string]interface{}{
				"task_id": a.TaskID, "queue": callbackQueueName, "error": err.Error(),
			})
		}
	}
	return c.SendFireAndForget(ctx, a)
}

// SendResponse pushes a reply envelope to the given response queue. The
// worker runtime uses this to close pseudo-sync exchanges.
func (c *Client) SendResponse(ctx context.Context, queueName string, resp *envelope.ActionResponse) error {
	payload, err := resp.Marshal()
	if err != nil {
		return err
	}
	return c.push(ctx, queueName, payload)
}

// SendCallback constructs the completion Action for an original request
// that carried a durable callback target, and pushes it there. Tenant and
// correlation context propagate from the original.
func (c *Client) SendCallback(ctx context.Context, original *envelope.Action, result map[string]interface{}) error {
	if !original.ExpectsCallback() {
		return errors.InvalidInput("original action carries no callback target")
	}
	cb, err := envelope.NewAction(original.CallbackActionType, result)
	if err != nil {
		return err
	}
	cb.TaskID = original.TaskID
	cb.CorrelationID = original.CorrelationID
	cb.TraceID = original.TraceID
	cb.OriginService = c.cfg.ServiceName
	cb.TenantID = original.TenantID
	cb.TenantTier = original.TenantTier
	cb.SessionID = original.SessionID
	cb.UserID = original.UserID

	payload, err := cb.Marshal()
	if err != nil {
		return err
	}
	return c.push(ctx, original.CallbackQueueName, payload)
}

// PublishNotification publishes an action to a pub/sub notification
// channel. Delivery is to whoever is subscribed right now; nothing is
// queued.
func (c *Client) PublishNotification(ctx context.Context, channel string, a *envelope.Action) error {
	a.OriginService = c.cfg.ServiceName
	payload, err := a.Marshal()
	if err != nil {
		return err
	}
	return c.broker.Publish(ctx, channel, payload)
}
