package loadbalance

import (
	"math/rand"

	"dubbo-client/endpoint"
)

// RandomBalancer picks uniformly at random.
type RandomBalancer struct{}

func (b *RandomBalancer) Pick(candidates []*endpoint.URL, key string) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}
	return rand.Intn(len(candidates)), nil
}

func (b *RandomBalancer) Name() string {
	return "Random"
}
