package quota

import (
	"context"
	"sync/atomic"

	"github.com/nooble4/agentcomm/envelope"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/messaging"
)

// ActionTypeUsageUpdate is the metering action consumed by CounterHandler.
const ActionTypeUsageUpdate = "metering.record_usage"

// UsageUpdate is the payload of a metering.record_usage action.
type UsageUpdate struct {
	TenantID string      `json:"tenant_id"`
	Resource ResourceKey `json:"resource"`
	Amount   int64       `json:"amount"`
}

// Reporter publishes usage updates to the metering service. Reporting
// rides after user-facing work, so it must never fail visibly: delivery
// errors are logged and counted, not returned.
type Reporter struct {
	client  *messaging.Client
	log     *logging.Logger
	dropped atomic.Int64
}

// NewReporter wraps a messaging client for usage reporting.
func NewReporter(client *messaging.Client, log *logging.Logger) *Reporter {
	if log == nil {
		log = logging.New()
	}
	return &Reporter{client: client, log: log.WithComponent("quota.reporter")}
}

// PublishUsageUpdate fire-and-forgets one usage increment. The tenant's
// counter moves when the metering worker processes the action, not when
// this call returns.
func (r *Reporter) PublishUsageUpdate(ctx context.Context, tenantID string, res ResourceKey, amount int64) {
	if res.Kind() != KindCounter {
		r.drop("non-counter resource", tenantID, res)
		return
	}
	if amount <= 0 {
		r.drop("non-positive amount", tenantID, res)
		return
	}
	a, err := envelope.NewAction(ActionTypeUsageUpdate, map[string]interface{}{
		"tenant_id": tenantID,
		"resource":  string(res),
		"amount":    amount,
	})
	if err != nil {
		r.drop(err.Error(), tenantID, res)
		return
	}
	a.TenantID = tenantID
	if err := r.client.SendFireAndForget(ctx, a); err != nil {
		r.drop(err.Error(), tenantID, res)
	}
}

// DroppedUpdates returns how many updates were lost since construction.
// Operators alert on this number growing.
func (r *Reporter) DroppedUpdates() int64 {
	return r.dropped.Load()
}

func (r *Reporter) drop(reason, tenantID string, res ResourceKey) {
	r.dropped.Add(1)
	r.log.Warn("usage update dropped", map[string]interface{}{
		"reason":    reason,
		"tenant_id": tenantID,
		"resource":  string(res),
	})
}
