// Package queues is the naming authority for every queue and channel in
// the platform. Two independently running services given the same inputs
// always compute the identical name; no caller concatenates these strings
// by hand.
//
// Name shapes:
//
//	{prefix}:{env}:{service}[:{context}]:actions
//	{prefix}:{env}:{service}[:{context}]:responses:{action}:{correlation_id}
//	{prefix}:{env}:{service}[:{context}]:callbacks:{event}[:{suffix}]
//	{prefix}:{env}:{service}[:{context}]:notifications:{event}
package queues

import (
	"strings"

	"github.com/nooble4/agentcomm/errors"
)

// DefaultPrefix is the platform-wide queue name prefix.
const DefaultPrefix = "nooble4"

// Namer computes queue and channel names for one (prefix, environment)
// pair. Construct one per process from the shared config and pass it to
// every component; never rebuild names ad hoc.
type Namer struct {
	prefix      string
	environment string
}

// NewNamer creates a Namer. Empty prefix falls back to DefaultPrefix;
// environment is required.
func NewNamer(prefix, environment string) (*Namer, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if environment == "" {
		return nil, errors.InvalidInput("queue namer requires an environment")
	}
	return &Namer{prefix: prefix, environment: environment}, nil
}

// Prefix returns the configured prefix.
func (n *Namer) Prefix() string { return n.prefix }

// Environment returns the configured environment.
func (n *Namer) Environment() string { return n.environment }

// base assembles "{prefix}:{env}:{service}[:{context}]".
func (n *Namer) base(service string, context []string) (string, error) {
	if service == "" {
		return "", errors.InvalidInput("queue name requires a service")
	}
	parts := []string{n.prefix, n.environment, service}
	for _, c := range context {
		if c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, ":"), nil
}

// ActionQueue returns the queue where workers of service listen for
// incoming requests.
func (n *Namer) ActionQueue(service string, context ...string) (string, error) {
	base, err := n.base(service, context)
	if err != nil {
		return "", err
	}
	return base + ":actions", nil
}

// ResponseQueue returns the ephemeral queue for one pseudo-sync call,
// unique per (action name, correlation ID).
func (n *Namer) ResponseQueue(originService, actionName, correlationID string, context ...string) (string, error) {
	base, err := n.base(originService, context)
	if err != nil {
		return "", err
	}
	if actionName == "" || correlationID == "" {
		return "", errors.InvalidInput("response queue requires an action name and correlation ID")
	}
	return base + ":responses:" + actionName + ":" + correlationID, nil
}

// CallbackQueue returns the long-lived queue where completion messages
// for eventName are delivered to originService. Pass an identifying value
// in context (e.g. a task ID) when multiple concurrent callbacks of the
// same event type must not collide.
func (n *Namer) CallbackQueue(originService, eventName string, context ...string) (string, error) {
	base, err := n.base(originService, nil)
	if err != nil {
		return "", err
	}
	if eventName == "" {
		return "", errors.InvalidInput("callback queue requires an event name")
	}
	name := base + ":callbacks:" + eventName
	for _, c := range context {
		if c != "" {
			name += ":" + c
		}
	}
	return name, nil
}

// NotificationChannel returns the pub/sub channel (not a polled queue)
// for eventName notifications from originService.
func (n *Namer) NotificationChannel(originService, eventName string, context ...string) (string, error) {
	base, err := n.base(originService, context)
	if err != nil {
		return "", err
	}
	if eventName == "" {
		return "", errors.InvalidInput("notification channel requires an event name")
	}
	return base + ":notifications:" + eventName, nil
}

// IsResponseQueue reports whether name follows the ephemeral response
// queue shape produced by ResponseQueue. The worker runtime uses this to
// tell a pseudo-sync reply target apart from a durable callback queue.
func (n *Namer) IsResponseQueue(name string) bool {
	if !strings.HasPrefix(name, n.prefix+":"+n.environment+":") {
		return false
	}
	return strings.Contains(name, ":responses:")
}
