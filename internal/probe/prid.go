package probe

import "sync/atomic"

// PRID is a dense, non-zero probe identifier unique for the life of the
// tracing session. Zero denotes "no probe" (spec §3).
type PRID uint32

const NoPRID PRID = 0

// PRIDAllocator hands out dense, monotonically increasing PRIDs. The
// control plane is single-threaded (spec §5), but the counter is kept
// atomic so discovery-loop goroutines added later never need to
// coordinate through anything but this allocator.
type PRIDAllocator struct {
	next uint32
}

func NewPRIDAllocator() *PRIDAllocator {
	return &PRIDAllocator{}
}

// Alloc returns the next PRID, starting at 1.
func (a *PRIDAllocator) Alloc() PRID {
	return PRID(atomic.AddUint32(&a.next, 1))
}

// HighWater returns the highest PRID allocated so far.
func (a *PRIDAllocator) HighWater() PRID {
	return PRID(atomic.LoadUint32(&a.next))
}
