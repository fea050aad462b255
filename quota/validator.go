package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nooble4/agentcomm/broker"
	"github.com/nooble4/agentcomm/config"
	"github.com/nooble4/agentcomm/errors"
	"github.com/nooble4/agentcomm/queues"
)

// LimitExceededError reports which limit blocked a request and by how much.
type LimitExceededError struct {
	TenantID  string
	Tier      TierName
	Resource  ResourceKey
	Limit     int64
	Current   int64
	Requested int64
	Reason    string
}

const (
	// ReasonCounterExhausted means current + requested would pass the
	// window's counter limit.
	ReasonCounterExhausted = "counter_exhausted"
	// ReasonNotAllowed means the requested value is outside the tier's
	// allow list.
	ReasonNotAllowed = "not_in_allow_list"
	// ReasonFeatureDisabled means the tier does not include the feature.
	ReasonFeatureDisabled = "feature_disabled"
)

func (e *LimitExceededError) Error() string {
	switch e.Reason {
	case ReasonCounterExhausted:
		return fmt.Sprintf("tier %s limit exceeded for %s: %d used, %d requested, limit %d",
			e.Tier, e.Resource, e.Current, e.Requested, e.Limit)
	case ReasonNotAllowed:
		return fmt.Sprintf("tier %s does not allow the requested value for %s", e.Tier, e.Resource)
	default:
		return fmt.Sprintf("tier %s does not include %s", e.Tier, e.Resource)
	}
}

// Platform converts the error into the wire-facing form.
func (e *LimitExceededError) Platform() *errors.Error {
	return errors.New(errors.ErrCodeTierLimit, e.Error(),
		errors.WithMetadata("tier", string(e.Tier)),
		errors.WithMetadata("resource", string(e.Resource)),
	)
}

// Validator answers limit questions from the usage counters. It only
// reads; recording usage is the metering worker's job.
type Validator struct {
	broker broker.Broker
	table  LimitTable
	prefix string
	env    string
}

// NewValidator builds a Validator over the given limits table. A nil
// table means DefaultLimits.
func NewValidator(cfg config.Config, b broker.Broker, table LimitTable) (*Validator, error) {
	if b == nil {
		return nil, errors.InvalidInput("broker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		table = DefaultLimits()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = queues.DefaultPrefix
	}
	return &Validator{broker: b, table: table, prefix: prefix, env: cfg.Environment}, nil
}

// CheckCounter reports whether consuming amount more of a counter
// resource would exceed the tier's limit in the window containing now.
// It returns a *LimitExceededError when it would, nil when it fits.
func (v *Validator) CheckCounter(ctx context.Context, tenantID string, tier TierName, res ResourceKey, amount int64, now time.Time) error {
	if res.Kind() != KindCounter {
		return errors.New(errors.ErrCodeResourceUnknown, string(res)+" is not a counter resource")
	}
	limit, ok := v.table.Lookup(tier, res)
	if !ok {
		return errors.New(errors.ErrCodeResourceUnknown, "no limit configured for "+string(tier)+"/"+string(res))
	}

	current, err := v.broker.GetInt(ctx, UsageKey(v.prefix, v.env, tenantID, res, now))
	if err != nil {
		return err
	}
	if current+amount > limit.Count {
		return &LimitExceededError{
			TenantID:  tenantID,
			Tier:      tier,
			Resource:  res,
			Limit:     limit.Count,
			Current:   current,
			Requested: amount,
			Reason:    ReasonCounterExhausted,
		}
	}
	return nil
}

// CheckAllowed reports whether value is in the tier's allow list for an
// allow-list resource.
func (v *Validator) CheckAllowed(tenantID string, tier TierName, res ResourceKey, value string) error {
	if res.Kind() != KindAllowList {
		return errors.New(errors.ErrCodeResourceUnknown, string(res)+" is not an allow-list resource")
	}
	limit, ok := v.table.Lookup(tier, res)
	if !ok {
		return errors.New(errors.ErrCodeResourceUnknown, "no limit configured for "+string(tier)+"/"+string(res))
	}
	for _, allowed := range limit.List {
		if allowed == value {
			return nil
		}
	}
	return &LimitExceededError{TenantID: tenantID, Tier: tier, Resource: res, Reason: ReasonNotAllowed}
}

// CheckFeature reports whether the tier includes a gated feature.
func (v *Validator) CheckFeature(tenantID string, tier TierName, res ResourceKey) error {
	if res.Kind() != KindFeature {
		return errors.New(errors.ErrCodeResourceUnknown, string(res)+" is not a feature resource")
	}
	limit, ok := v.table.Lookup(tier, res)
	if !ok {
		return errors.New(errors.ErrCodeResourceUnknown, "no limit configured for "+string(tier)+"/"+string(res))
	}
	if !limit.Enabled {
		return &LimitExceededError{TenantID: tenantID, Tier: tier, Resource: res, Reason: ReasonFeatureDisabled}
	}
	return nil
}

// IsLimitExceeded is the single-entry form of the checks above. The
// requested argument is the counter amount (int or int64) for counter
// resources, the candidate value (string) for allow-list resources, and
// ignored for feature resources. The boolean is true when the limit
// blocks the request; an error is returned only for operational
// failures (unknown resource, broker unreachable).
func (v *Validator) IsLimitExceeded(ctx context.Context, tenantID string, tier TierName, res ResourceKey, requested interface{}, now time.Time) (bool, error) {
	var err error
	switch res.Kind() {
	case KindCounter:
		amount, ok := toInt64(requested)
		if !ok {
			return false, errors.InvalidInput("counter check requires an integer requested value")
		}
		err = v.CheckCounter(ctx, tenantID, tier, res, amount, now)
	case KindAllowList:
		value, ok := requested.(string)
		if !ok {
			return false, errors.InvalidInput("allow-list check requires a string requested value")
		}
		err = v.CheckAllowed(tenantID, tier, res, value)
	default:
		err = v.CheckFeature(tenantID, tier, res)
	}
	if err == nil {
		return false, nil
	}
	if _, ok := err.(*LimitExceededError); ok {
		return true, nil
	}
	return false, err
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	default:
		return 0, false
	}
}

// UsageKey is the counter key for (tenant, resource) in the window
// bucket containing now. Buckets are the window start's Unix seconds,
// so all services agree on key placement without coordination.
func UsageKey(prefix, env, tenantID string, res ResourceKey, now time.Time) string {
	bucket := now.UTC().Truncate(res.Window()).Unix()
	return prefix + ":" + env + ":usage:" + tenantID + ":" + string(res) + ":" + strconv.FormatInt(bucket, 10)
}
