// Package config holds the shared configuration every component is
// constructed from. A Config is built explicitly (defaults, then an
// optional TOML file, then environment overrides) and passed into
// constructors; there is no process-wide singleton, so one process can
// run several independently configured instances, which is how the tests
// work.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nooble4/agentcomm/errors"
)

// Environment names recognized by the platform.
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// Config is the shared configuration for the messaging substrate.
type Config struct {
	// Prefix is the global queue name prefix.
	Prefix string

	// Environment is the deployment environment (dev/staging/prod).
	Environment string

	// ServiceName identifies this process on the platform. It becomes
	// origin_service on outgoing actions and selects the action queue a
	// worker listens on.
	ServiceName string

	// BrokerAddr is the host:port of the Redis-compatible broker.
	BrokerAddr string

	// BrokerPassword for AUTH, empty for none.
	BrokerPassword string

	// BrokerDB selects the logical database.
	BrokerDB int

	// DefaultRequestTimeout bounds pseudo-sync waits when the caller
	// passes no explicit timeout.
	DefaultRequestTimeout time.Duration

	// WorkerPollInterval is how long a worker's blocking pop waits before
	// re-checking for a stop signal.
	WorkerPollInterval time.Duration

	// ResponseQueueTTL bounds how long an abandoned response queue may
	// hold a late reply.
	ResponseQueueTTL time.Duration

	// TaskRegistryTTL is the safety expiry on per-task queue membership
	// sets, so an unreachable cleanup path still self-heals.
	TaskRegistryTTL time.Duration

	// StalenessThreshold is the age past which the periodic sweep
	// force-cleans a task's queues.
	StalenessThreshold time.Duration

	// SweepInterval is how often the lifecycle sweeper runs.
	SweepInterval time.Duration

	// HeartbeatInterval is how often a worker publishes liveness
	// notifications. Zero disables the heartbeat.
	HeartbeatInterval time.Duration

	// SendRetries is the number of push attempts before a connection
	// error is surfaced.
	SendRetries int

	// SendBackoff is the base delay between push retries (doubled each
	// attempt).
	SendBackoff time.Duration
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{
		Prefix:                "nooble4",
		Environment:           EnvDev,
		BrokerAddr:            "localhost:6379",
		DefaultRequestTimeout: 30 * time.Second,
		WorkerPollInterval:    time.Second,
		ResponseQueueTTL:      10 * time.Minute,
		TaskRegistryTTL:       time.Hour,
		StalenessThreshold:    24 * time.Hour,
		SweepInterval:         time.Hour,
		SendRetries:           3,
		SendBackoff:           100 * time.Millisecond,
	}
}

// duration lets TOML files write durations in Go syntax ("30s", "1h").
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(parsed)
	return nil
}

// fileConfig mirrors Config for TOML decoding. Pointer fields distinguish
// "absent" from "zero" so file values only override what they set.
type fileConfig struct {
	Prefix                *string   `toml:"prefix"`
	Environment           *string   `toml:"environment"`
	ServiceName           *string   `toml:"service_name"`
	BrokerAddr            *string   `toml:"broker_addr"`
	BrokerPassword        *string   `toml:"broker_password"`
	BrokerDB              *int      `toml:"broker_db"`
	DefaultRequestTimeout *duration `toml:"default_request_timeout"`
	WorkerPollInterval    *duration `toml:"worker_poll_interval"`
	ResponseQueueTTL      *duration `toml:"response_queue_ttl"`
	TaskRegistryTTL       *duration `toml:"task_registry_ttl"`
	StalenessThreshold    *duration `toml:"staleness_threshold"`
	SweepInterval         *duration `toml:"sweep_interval"`
	HeartbeatInterval     *duration `toml:"heartbeat_interval"`
	SendRetries           *int      `toml:"send_retries"`
	SendBackoff           *duration `toml:"send_backoff"`
}

// Load reads a TOML file over the defaults. Durations use Go syntax
// ("30s", "1h").
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "read config file")
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "parse config file")
	}
	if fc.Prefix != nil {
		cfg.Prefix = *fc.Prefix
	}
	if fc.Environment != nil {
		cfg.Environment = *fc.Environment
	}
	if fc.ServiceName != nil {
		cfg.ServiceName = *fc.ServiceName
	}
	if fc.BrokerAddr != nil {
		cfg.BrokerAddr = *fc.BrokerAddr
	}
	if fc.BrokerPassword != nil {
		cfg.BrokerPassword = *fc.BrokerPassword
	}
	if fc.BrokerDB != nil {
		cfg.BrokerDB = *fc.BrokerDB
	}
	if fc.DefaultRequestTimeout != nil {
		cfg.DefaultRequestTimeout = time.Duration(*fc.DefaultRequestTimeout)
	}
	if fc.WorkerPollInterval != nil {
		cfg.WorkerPollInterval = time.Duration(*fc.WorkerPollInterval)
	}
	if fc.ResponseQueueTTL != nil {
		cfg.ResponseQueueTTL = time.Duration(*fc.ResponseQueueTTL)
	}
	if fc.TaskRegistryTTL != nil {
		cfg.TaskRegistryTTL = time.Duration(*fc.TaskRegistryTTL)
	}
	if fc.StalenessThreshold != nil {
		cfg.StalenessThreshold = time.Duration(*fc.StalenessThreshold)
	}
	if fc.SweepInterval != nil {
		cfg.SweepInterval = time.Duration(*fc.SweepInterval)
	}
	if fc.HeartbeatInterval != nil {
		cfg.HeartbeatInterval = time.Duration(*fc.HeartbeatInterval)
	}
	if fc.SendRetries != nil {
		cfg.SendRetries = *fc.SendRetries
	}
	if fc.SendBackoff != nil {
		cfg.SendBackoff = time.Duration(*fc.SendBackoff)
	}
	return cfg, nil
}

// FromEnv applies NOOBLE_* environment variable overrides and returns the
// updated config.
func (c Config) FromEnv() Config {
	if v := os.Getenv("NOOBLE_PREFIX"); v != "" {
		c.Prefix = v
	}
	if v := os.Getenv("NOOBLE_ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("NOOBLE_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("NOOBLE_BROKER_ADDR"); v != "" {
		c.BrokerAddr = v
	}
	if v := os.Getenv("NOOBLE_BROKER_PASSWORD"); v != "" {
		c.BrokerPassword = v
	}
	if v := os.Getenv("NOOBLE_BROKER_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.BrokerDB = db
		}
	}
	if v := os.Getenv("NOOBLE_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DefaultRequestTimeout = d
		}
	}
	return c
}

// Validate checks the fields every component relies on.
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.InvalidInput("config requires a service_name")
	}
	if c.Environment == "" {
		return errors.InvalidInput("config requires an environment")
	}
	if c.DefaultRequestTimeout <= 0 {
		return errors.InvalidInput("default_request_timeout must be positive")
	}
	return nil
}
