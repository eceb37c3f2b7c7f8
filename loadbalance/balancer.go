// Package loadbalance picks which registered server a client connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  heterogeneous instances (different CPU/memory)
//   - ConsistentHash:  the same client key keeps landing on the same instance
package loadbalance

import (
	"fmt"
	"strings"

	"echo-rpc/registry"
)

// Balancer is the interface for load balancing strategies.
// Pick is called once per connection attempt and must be goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Parse returns the balancer named in a config file. key is only used by
// consistent-hash.
func Parse(name, key string) (Balancer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round-robin", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted-random", "weighted":
		return &WeightedRandomBalancer{}, nil
	case "consistent-hash", "hash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
