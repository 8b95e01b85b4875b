// Package loadbalance picks one provider out of a candidate list.
//
// Strategies:
//   - Random:          uniform choice, the default
//   - WeightedRandom:  choice proportional to the provider's weight
//   - RoundRobin:      providers in turn
//   - ConsistentHash:  the same key goes to the same provider
package loadbalance

import (
	"dubbo-client/endpoint"
	"dubbo-client/errors"
)

// Balancer chooses a provider. Pick returns an index into candidates and
// is called on every attempt, so it must be goroutine-safe. key
// identifies the call (service.method) for key-based strategies.
type Balancer interface {
	Pick(candidates []*endpoint.URL, key string) (int, error)
	Name() string
}

// New returns the balancer called name. The empty name selects Random.
func New(name string) (Balancer, error) {
	switch name {
	case "", "random":
		return &RandomBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "round_robin":
		return &RoundRobinBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	}
	return nil, errors.E("loadbalance.New", errors.MisconfiguredClient, errors.Errorf("unknown balancer %q", name))
}

var errNoCandidates = errors.Str("no instances available")
