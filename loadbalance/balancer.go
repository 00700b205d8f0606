// Package loadbalance selects one endpoint when discovery returns several.
//
// Two strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  heterogeneous servers (different CPU/memory)
package loadbalance

import (
	"errors"

	"tcplink/registry"
)

// ErrNoEndpoints is returned when Pick is called with an empty list.
var ErrNoEndpoints = errors.New("loadbalance: no endpoints available")

// Balancer selects an endpoint before each dial. Implementations must be
// goroutine-safe.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name, for logging.
	Name() string
}
