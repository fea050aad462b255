// Package quota enforces per-tenant, tier-based resource limits.
//
// Limits come from a static LimitTable keyed by tier and resource.
// Validator answers "would this exceed the limit" by reading windowed
// usage counters from the broker; it never writes. Usage moves through
// the messaging layer instead: services fire Reporter.PublishUsageUpdate
// after completing work, and the metering service's CounterHandler
// applies those updates atomically. Validation therefore sees usage
// with a small lag, which the platform accepts in exchange for keeping
// limit checks off the critical path of writes.
package quota
