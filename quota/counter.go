package quota

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

// expiryBuffer keeps a counter readable slightly past its window so a
// validation racing the rollover still sees the old bucket.
const expiryBuffer = 5 * time.Minute

// CounterHandler is the metering worker's handler. It applies
// metering.record_usage actions to the per-window usage counters that
// Validator reads.
type CounterHandler struct {
	broker broker.Broker
	prefix string
	env    string
	log    *logging.Logger
	now    func() time.Time
}

// NewCounterHandler builds the handler for the metering service.
func NewCounterHandler(cfg config.Config, b broker.Broker, log *logging.Logger) (*CounterHandler, error) {
	if b == nil {
		return nil, errors.InvalidInput("broker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = queues.DefaultPrefix
	}
	return &CounterHandler{
		broker: b,
		prefix: prefix,
		env:    cfg.Environment,
		log:    log.WithComponent("quota.counter"),
		now:    time.Now,
	}, nil
}

// HandleAction increments the (tenant, resource, window) counter. The
// increment is atomic with the expiry refresh, so concurrent updates
// from many services never lose counts.
func (h *CounterHandler) HandleAction(ctx context.Context, a *envelope.Action) (map[string]interface{}, error) {
	if a.ActionType != ActionTypeUsageUpdate {
		return nil, errors.UnknownAction(a.ActionType)
	}
	var update UsageUpdate
	if err := a.DecodeData(&update); err != nil {
		return nil, err
	}
	if update.TenantID == "" {
		return nil, errors.InvalidInput("usage update missing tenant_id")
	}
	if update.Resource.Kind() != KindCounter {
		return nil, errors.InvalidInput("usage update for non-counter resource " + string(update.Resource))
	}
	if update.Amount <= 0 {
		return nil, errors.InvalidInput("usage update amount must be positive")
	}

	key := UsageKey(h.prefix, h.env, update.TenantID, update.Resource, h.now())
	total, err := h.broker.IncrByWithExpiry(ctx, key, update.Amount, update.Resource.Window()+expiryBuffer)
	if err != nil {
		return nil, err
	}
	h.log.Debug("usage recorded", map[string]interface{}{
		"tenant_id": update.TenantID,
		"resource":  string(update.Resource),
		"total":     total,
	})
	return nil, nil
}
