package lifecycle

import (
	"context"
	"strconv"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/logging"
	"github.com/nooble4/agentcomm/queues"
)

// Manager tracks which ephemeral queues belong to which task so they
// can be reclaimed in bulk. Registration carries a safety TTL, so even
// a task whose terminal event is lost stops leaking keys eventually;
// Sweep shortens that window for tasks past the staleness threshold.
type Manager struct {
	broker    broker.Broker
	log       *logging.Logger
	prefix    string
	env       string
	registry  time.Duration
	staleness time.Duration
	sweep     time.Duration
	now       func() time.Time
}

// NewManager builds a lifecycle manager from the service configuration.
func NewManager(cfg config.Config, b broker.Broker, log *logging.Logger) (*Manager, error) {
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
	return &Manager{
		broker:    b,
		log:       log.WithComponent("lifecycle"),
		prefix:    prefix,
		env:       cfg.Environment,
		registry:  cfg.TaskRegistryTTL,
		staleness: cfg.StalenessThreshold,
		sweep:     cfg.SweepInterval,
		now:       time.Now,
	}, nil
}

func (m *Manager) queuesKey(taskID string) string {
	return m.prefix + ":" + m.env + ":tasks:" + taskID + ":queues"
}

func (m *Manager) createdKey(taskID string) string {
	return m.prefix + ":" + m.env + ":tasks:" + taskID + ":created"
}

func (m *Manager) indexKey() string {
	return m.prefix + ":" + m.env + ":tasks:index"
}

// Register records queueName as belonging to taskID. The first
// registration stamps the task's creation time and adds it to the sweep
// index; every registration refreshes the safety TTL.
func (m *Manager) Register(ctx context.Context, taskID, queueName string) error {
	if taskID == "" || queueName == "" {
		return errors.InvalidInput("task id and queue name are required")
	}

	created, err := m.broker.Get(ctx, m.createdKey(taskID))
	if err != nil {
		return err
	}
	if created == nil {
		stamp := strconv.FormatInt(m.now().UTC().Unix(), 10)
		if err := m.broker.Set(ctx, m.createdKey(taskID), []byte(stamp), m.registry); err != nil {
			return err
		}
		if err := m.broker.SAdd(ctx, m.indexKey(), taskID); err != nil {
			return err
		}
	}

	if err := m.broker.SAdd(ctx, m.queuesKey(taskID), queueName); err != nil {
		return err
	}
	if err := m.broker.Expire(ctx, m.queuesKey(taskID), m.registry); err != nil {
		return err
	}
	return m.broker.Expire(ctx, m.createdKey(taskID), m.registry)
}

// Complete reclaims everything registered for taskID: every member
// queue, the membership set, the creation stamp, and the index entry.
// Completing an unknown or already completed task is a no-op.
func (m *Manager) Complete(ctx context.Context, taskID string) error {
	if taskID == "" {
		return errors.InvalidInput("task id is required")
	}

	members, err := m.broker.SMembers(ctx, m.queuesKey(taskID))
	if err != nil {
		return err
	}
	if len(members) > 0 {
		if err := m.broker.Delete(ctx, members...); err != nil {
			return err
		}
	}
	if err := m.broker.Delete(ctx, m.queuesKey(taskID), m.createdKey(taskID)); err != nil {
		return err
	}
	return m.broker.SRem(ctx, m.indexKey(), taskID)
}

// Sweep force-completes every indexed task older than the staleness
// threshold, and drops index entries whose creation stamp has already
// expired. Returns how many tasks were reclaimed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	taskIDs, err := m.broker.SMembers(ctx, m.indexKey())
	if err != nil {
		return 0, err
	}

	swept := 0
	cutoff := m.now().UTC().Add(-m.staleness).Unix()
	for _, taskID := range taskIDs {
		created, err := m.broker.Get(ctx, m.createdKey(taskID))
		if err != nil {
			return swept, err
		}
		if created != nil {
			stamp, err := strconv.ParseInt(string(created), 10, 64)
			if err == nil && stamp > cutoff {
				continue
			}
		}
		// Stamp expired, unparseable, or past the threshold.
		if err := m.Complete(ctx, taskID); err != nil {
			return swept, err
		}
		swept++
		m.log.Info("stale task reclaimed", map[string]interface{}{"task_id": taskID})
	}
	return swept, nil
}

// Start runs Sweep on the configured interval until ctx is canceled.
// Sweep failures are logged and the ticker keeps going.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.log.Error("sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}
