package chunked

import (
	"errors"
	"io"
	"sync"
)

// ErrAllocatorStopped is returned by Allocator.Next after Stop was called.
var ErrAllocatorStopped = errors.New("chunked: allocator stopped")

// Allocator hands out chunk indexes of a Layout. Every index in
// [0, NumChunks) is returned exactly once, in increasing order, no matter how
// many goroutines call Next.
type Allocator struct {
	mu      sync.Mutex
	next    int
	total   int
	stopped bool
}

// NewAllocator creates an Allocator over the chunks of l.
func NewAllocator(l Layout) *Allocator {
	return &Allocator{total: l.NumChunks()}
}

// Next claims the next unclaimed chunk. It returns io.EOF once every chunk
// has been claimed and ErrAllocatorStopped after Stop.
func (a *Allocator) Next() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopped {
		return 0, ErrAllocatorStopped
	}
	if a.next == a.total {
		return 0, io.EOF
	}

	idx := a.next
	a.next++
	return idx, nil
}

// Stop prevents any further claims. Safe to call more than once.
func (a *Allocator) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()
}

// Exhausted reports whether every chunk has been claimed.
func (a *Allocator) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next == a.total
}

// Claimed returns the number of chunks handed out so far.
func (a *Allocator) Claimed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// NumChunks returns the total number of chunks.
func (a *Allocator) NumChunks() int {
	return a.total
}
