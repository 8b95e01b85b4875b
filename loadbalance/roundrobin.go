package loadbalance

import (
	"sync/atomic"

	"dubbo-client/endpoint"
)

// RoundRobinBalancer hands out providers in order using an atomic counter.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(candidates []*endpoint.URL, key string) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}
	return int(b.counter.Add(1) % uint64(len(candidates))), nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
