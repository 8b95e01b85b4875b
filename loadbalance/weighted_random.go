package loadbalance

import (
	"math/rand"

	"dubbo-client/endpoint"
)

// DefaultWeight is the weight of a provider that publishes none.
const DefaultWeight = 100

type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(candidates []*endpoint.URL, key string) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}

	total := 0
	for _, u := range candidates {
		total += weight(u)
	}
	// All weights zero: fall back to uniform.
	if total == 0 {
		return rand.Intn(len(candidates)), nil
	}

	r := rand.Intn(total)
	for i, u := range candidates {
		r -= weight(u)
		if r < 0 {
			return i, nil
		}
	}
	return len(candidates) - 1, nil
}

func weight(u *endpoint.URL) int {
	if w := u.Weight(DefaultWeight); w > 0 {
		return w
	}
	return 0
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
