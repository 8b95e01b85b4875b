package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"dubbo-client/endpoint"
)

// ConsistentHashBalancer maps keys to providers using a hash ring.
// The same key maps to the same provider until the candidate set changes.
//
// Each provider is placed on the ring as 100 virtual nodes so that a few
// providers spread evenly.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	              ╱       ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A' (virtual node of A)
//	              ╲       ╱
//	                ╲   ╱
type ConsistentHashBalancer struct {
	replicas int

	mu    sync.Mutex
	set   string         // addresses the ring was built from
	ring  []uint32       // sorted hash values
	nodes map[uint32]int // hash value → candidate index
}

// NewConsistentHashBalancer returns a balancer with 100 virtual nodes per provider.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

// build places every candidate on a fresh ring.
func (b *ConsistentHashBalancer) build(candidates []*endpoint.URL, set string) {
	b.set = set
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]int, len(candidates)*b.replicas)
	for i, u := range candidates {
		for r := 0; r < b.replicas; r++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", u.Address(), r)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = i
		}
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Pick hashes key and returns the first provider clockwise from it.
func (b *ConsistentHashBalancer) Pick(candidates []*endpoint.URL, key string) (int, error) {
	if len(candidates) == 0 {
		return 0, errNoCandidates
	}
	addrs := make([]string, len(candidates))
	for i, u := range candidates {
		addrs[i] = u.Address()
	}
	set := strings.Join(addrs, ",")

	b.mu.Lock()
	defer b.mu.Unlock()
	if set != b.set {
		b.build(candidates, set)
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
