package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/envelope"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/messaging"
	"github.com/nooble4/agentcomm/queues"
)

// State is the runtime's lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateInitializing
	StateListening
	StateProcessing
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	default:
		return "stopped"
	}
}

// Handler is the single extension point each service implements. It
// routes on action_type to the service's business logic and returns a
// result map for pseudo-sync or callback-expecting actions, or nil for
// fire-and-forget actions.
type Handler interface {
	HandleAction(ctx context.Context, a *envelope.Action) (map[string]interface{}, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, a *envelope.Action) (map[string]interface{}, error)

// HandleAction calls f.
func (f HandlerFunc) HandleAction(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
	return f(ctx, a)
}

// Runtime consumes a service's action queue, dispatches each action to
// the Handler, and replies through the messaging client. Run multiple
// Runtime instances (or processes) against the same queue to scale
// horizontally: the broker's pop delivers each message to exactly one of
// them.
type Runtime struct {
	cfg     config.Config
	broker  broker.Broker
	client  *messaging.Client
	namer   *queues.Namer
	handler Handler
	log     *logging.Logger

	queueContext []string
	state        atomic.Int32
	stopOnce     sync.Once
	stopCh       chan struct{}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithQueueContext narrows the runtime to a context-scoped action queue
// (e.g. a dedicated per-tenant queue).
func WithQueueContext(context ...string) RuntimeOption {
	return func(r *Runtime) {
		r.queueContext = context
	}
}

// NewRuntime creates a worker runtime for the service named in cfg.
func NewRuntime(cfg config.Config, b broker.Broker, handler Handler, log *logging.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if handler == nil {
		return nil, errors.InvalidInput("worker runtime requires a handler")
	}
	if log == nil {
		log = logging.New()
	}
	client, err := messaging.NewClient(cfg, b, log)
	if err != nil {
		return nil, err
	}
	namer, err := queues.NewNamer(cfg.Prefix, cfg.Environment)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		cfg:     cfg,
		broker:  b,
		client:  client,
		namer:   namer,
		handler: handler,
		log:     log.WithComponent("worker.runtime").WithService(cfg.ServiceName),
		stopCh:  make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	return State(r.state.Load())
}

// Client returns the runtime's messaging client, for handlers that need
// to make their own downstream calls.
func (r *Runtime) Client() *messaging.Client {
	return r.client
}

// Stop signals the run loop to exit after the in-flight action, if any.
func (r *Runtime) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run enters the dispatch loop and blocks until Stop is called, ctx is
// canceled, or initialization fails. A malformed message or a failing
// handler never ends the loop.
func (r *Runtime) Run(ctx context.Context) error {
	r.state.Store(int32(StateInitializing))
	defer r.state.Store(int32(StateStopped))

	actionQueue, err := r.namer.ActionQueue(r.cfg.ServiceName, r.queueContext...)
	if err != nil {
		return err
	}
	if err := r.broker.Ping(ctx); err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeConnection, "worker initialization failed")
	}

	if r.cfg.HeartbeatInterval > 0 {
		hbCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go r.heartbeatLoop(hbCtx)
	}

	poll := r.cfg.WorkerPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	r.log.Info("worker started", map[string]interface{}{"queue": actionQueue})
	for {
		select {
		case <-r.stopCh:
			r.log.Info("worker stopped")
			return nil
		case <-ctx.Done():
			r.log.Info("worker context canceled")
			return ctx.Err()
		default:
		}

		r.state.Store(int32(StateListening))
		raw, err := r.broker.BlockingPop(ctx, actionQueue, poll)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("action queue pop failed", map[string]interface{}{"error": err.Error()})
			// Broker hiccup; back off briefly rather than spin
			select {
			case <-time.After(poll):
			case <-r.stopCh:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if raw == nil {
			continue
		}

		r.state.Store(int32(StateProcessing))
		r.dispatch(ctx, raw)
	}
}

// dispatch decodes one message, runs the handler, and emits whatever
// reply the exchange pattern calls for.
func (r *Runtime) dispatch(ctx context.Context, raw []byte) {
	a, err := envelope.UnmarshalAction(raw)
	if err != nil {
		r.log.Error("discarding malformed message", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := a.Validate(); err != nil {
		r.log.Error("discarding invalid action", map[string]interface{}{"error": err.Error()})
		return
	}

	log := r.log.WithTraceID(a.TraceID)
	result, err := r.safeHandle(ctx, a)

	pseudoSync := a.CallbackQueueName != "" && r.namer.IsResponseQueue(a.CallbackQueueName)

	if err != nil {
		log.Error("handler failed", map[string]interface{}{
			"action_id":   a.ActionID,
			"action_type": a.ActionType,
			"error":       err.Error(),
		})
		if pseudoSync {
			// Resolve the caller's wait early instead of letting it time out
			resp := envelope.NewErrorResponse(a, err)
			if sendErr := r.client.SendResponse(ctx, a.CallbackQueueName, resp); sendErr != nil {
				log.Error("error response delivery failed", map[string]interface{}{
					"action_id": a.ActionID, "error": sendErr.Error(),
				})
			}
		}
		// For fire-and-forget and callback actions the failure is
		// terminal: observable only here.
		return
	}

	if pseudoSync && result != nil {
		resp, buildErr := envelope.NewSuccessResponse(a, result)
		if buildErr != nil {
			log.Error("response build failed", map[string]interface{}{
				"action_id": a.ActionID, "error": buildErr.Error(),
			})
			return
		}
		if sendErr := r.client.SendResponse(ctx, a.CallbackQueueName, resp); sendErr != nil {
			log.Error("response delivery failed", map[string]interface{}{
				"action_id": a.ActionID, "error": sendErr.Error(),
			})
		}
		return
	}

	if a.ExpectsCallback() && result != nil {
		if sendErr := r.client.SendCallback(ctx, a, result); sendErr != nil {
			log.Error("callback delivery failed", map[string]interface{}{
				"action_id": a.ActionID, "error": sendErr.Error(),
			})
		}
	}
}

// safeHandle invokes the handler with panic recovery at the loop boundary.
func (r *Runtime) safeHandle(ctx context.Context, a *envelope.Action) (result map[string]interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New(errors.ErrCodePanic, fmt.Sprintf("handler panic: %v", rec),
				errors.WithMetadata("action_type", a.ActionType),
				errors.WithTaskID(a.TaskID))
		}
	}()
	return r.handler.HandleAction(ctx, a)
}

// heartbeatLoop publishes liveness notifications while the runtime runs.
func (r *Runtime) heartbeatLoop(ctx context.Context) {
	channel, err := r.namer.NotificationChannel(r.cfg.ServiceName, "heartbeat")
	if err != nil {
		return
	}
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb, err := envelope.NewAction("worker.heartbeat", map[string]interface{}{
				"service": r.cfg.ServiceName,
				"state":   r.State().String(),
				"at":      time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				continue
			}
			if err := r.client.PublishNotification(ctx, channel, hb); err != nil {
				r.log.Debug("heartbeat publish failed", map[string]interface{}{"error": err.Error()})
			}
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		}
	}
}
