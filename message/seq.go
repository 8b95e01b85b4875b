package message

import (
	"math/rand"
	"sync/atomic"
	"time"
)

// seq is seeded from the clock in the high half and a random value in the
// low half, then incremented per call, so concurrent callers never draw the
// same number and restarts are unlikely to reuse recent ones.
var seq atomic.Uint64

func init() {
	seq.Store(uint64(time.Now().Unix())<<32 | uint64(rand.Uint32()))
}

// NextSeq returns a process-unique request sequence number.
func NextSeq() uint64 {
	return seq.Add(1)
}
