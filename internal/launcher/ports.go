package launcher

import (
	"fmt"
	"sync"
)

// PortBlock is a contiguous range of ports handed to one subprocess worker
// for whatever local services it needs.
type PortBlock struct {
	Start int
	Count int
}

// End returns the last port in the block.
func (b PortBlock) End() int {
	return b.Start + b.Count - 1
}

// PortAllocator hands out disjoint contiguous port blocks from a configured
// range. Exhaustion is reported as an error, never a panic: the caller wraps
// it in a LaunchError and routes it through the retry path.
type PortAllocator struct {
	mu         sync.Mutex
	rangeStart int
	rangeEnd   int
	perWorker  int
	taken      map[int]bool // block start -> allocated
}

// NewPortAllocator creates an allocator over [rangeStart, rangeEnd].
func NewPortAllocator(rangeStart, rangeEnd, perWorker int) *PortAllocator {
	return &PortAllocator{
		rangeStart: rangeStart,
		rangeEnd:   rangeEnd,
		perWorker:  perWorker,
		taken:      make(map[int]bool),
	}
}

// Acquire returns the first free block, scanning from the bottom of the range.
func (a *PortAllocator) Acquire() (PortBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for start := a.rangeStart; start+a.perWorker-1 <= a.rangeEnd; start += a.perWorker {
		if !a.taken[start] {
			a.taken[start] = true
			return PortBlock{Start: start, Count: a.perWorker}, nil
		}
	}

	return PortBlock{}, fmt.Errorf("port range %d-%d exhausted (%d ports per worker)", a.rangeStart, a.rangeEnd, a.perWorker)
}

// Release returns a block to the pool. Releasing an unallocated block is a
// no-op.
func (a *PortAllocator) Release(block PortBlock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.taken, block.Start)
}

// Allocated returns the number of blocks currently handed out.
func (a *PortAllocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.taken)
}
