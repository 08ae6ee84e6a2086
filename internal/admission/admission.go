// Package admission implements the per-CPU batched reservation counter
// that bounds in-flight requests to a context's ring capacity without a
// global atomic on every submission's fast path.
package admission

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// cacheLinePad keeps adjacent cells off the same cache line, so two CPUs
// decrementing neighboring cells don't false-share.
const cacheLinePad = 64 - 8

type cell struct {
	local atomic.Int64
	_     [cacheLinePad]byte
}

// shardHandle is what the sync.Pool hands back. Because sync.Pool keeps a
// private per-P pool before falling back to a shared one, Get/Put on the
// same goroutine usually returns the same handle without contention — the
// closest approximation of "per-CPU" affinity available without runtime
// internals. index is fixed at creation time by a round-robin counter, but
// the pool can still mint more handles than cells under enough concurrent
// first-time Gets, so two handles occasionally share an index; cell.local
// stays an atomic so that overlap is a contention hit, never a data race.
type shardHandle struct {
	index int
}

// Counter is the admission counter for one context. It is sized to the
// context's ring capacity (nr_events - 1 slots) at construction.
type Counter struct {
	global   atomic.Int64
	cells    []cell
	reqBatch int64
	nr       uint32

	shardNext atomic.Int32
	shardPool sync.Pool

	// refillMu guards trackedHead/trackedCompleted. UserRefill is only
	// ever called from the ReserveOne slow path (after a failed
	// reservation), so it is not on the hot submission path and doesn't
	// need the lock-free treatment ReserveOne/Release get.
	refillMu         sync.Mutex
	trackedHead      uint32
	trackedCompleted uint64
}

// New creates a Counter for a ring of capacity nr, with the full
// nr_events-1 budget initially resident in the global atomic.
func New(nr uint32) *Counter {
	ncpu := runtime.NumCPU()
	if ncpu < 1 {
		ncpu = 1
	}
	budget := int64(0)
	if nr > 0 {
		budget = int64(nr - 1)
	}
	reqBatch := budget / int64(ncpu*4)
	if reqBatch < 1 {
		reqBatch = 1
	}

	c := &Counter{
		cells:    make([]cell, ncpu),
		reqBatch: reqBatch,
		nr:       nr,
	}
	c.global.Store(budget)
	c.shardPool.New = func() any {
		idx := int(c.shardNext.Add(1)-1) % len(c.cells)
		return &shardHandle{index: idx}
	}
	return c
}

// ReqBatch returns the computed batch size, exported for tests.
func (c *Counter) ReqBatch() int64 { return c.reqBatch }

// ReserveOne consumes one slot. The fast path decrements the calling
// goroutine's (approximate) local cell; the slow path moves one batch from
// the global atomic via compare-and-swap. It reports false when no slots
// are available anywhere.
func (c *Counter) ReserveOne() bool {
	h := c.shardPool.Get().(*shardHandle)
	defer c.shardPool.Put(h)
	cl := &c.cells[h.index]

	for {
		l := cl.local.Load()
		if l <= 0 {
			break
		}
		if cl.local.CompareAndSwap(l, l-1) {
			return true
		}
	}

	for {
		g := c.global.Load()
		if g < c.reqBatch {
			return false
		}
		if c.global.CompareAndSwap(g, g-c.reqBatch) {
			cl.local.Add(c.reqBatch - 1)
			return true
		}
	}
}

// Release returns n slots to the calling goroutine's local cell, flushing
// one batch to the global atomic if the local cell has grown past twice
// the batch size.
func (c *Counter) Release(n int64) {
	if n <= 0 {
		return
	}
	h := c.shardPool.Get().(*shardHandle)
	defer c.shardPool.Put(h)
	cl := &c.cells[h.index]

	if cl.local.Add(n) > 2*c.reqBatch {
		cl.local.Add(-c.reqBatch)
		c.global.Add(c.reqBatch)
	}
}

// UserRefill reads the ring's untrusted head and returns any newly-reaped
// slots directly to the global atomic, so a subsequent ReserveOne can
// succeed even though no local cell has been touched. head is userspace-
// writable and never trusted on its own: tail and completed are the
// kernel's own trusted counters, and the claimed delta is clamped to
// what they say has actually been completed and not yet reclaimed. A
// hostile head (e.g. a hostile write of 0xFFFFFFFF, see the ring's
// header-safety case) can therefore never inflate the global counter
// past what the ring genuinely freed, preserving the capacity invariant.
// tail and completed are provided by the caller (internal/ring.Ring.
// HeadTail / CompletedEvents) to avoid an import cycle between the two
// packages.
func (c *Counter) UserRefill(head, tail uint32, completed uint64) {
	c.refillMu.Lock()
	defer c.refillMu.Unlock()

	prevHead := c.trackedHead
	prevCompleted := c.trackedCompleted

	availByTail := int64(tail) - int64(prevHead)
	if availByTail < 0 {
		availByTail = 0
	}
	availByCompleted := int64(completed) - int64(prevCompleted)
	if availByCompleted < 0 {
		availByCompleted = 0
	}
	avail := availByTail
	if availByCompleted < avail {
		avail = availByCompleted
	}
	if avail == 0 {
		return
	}

	claimed := int64(head) - int64(prevHead)
	if claimed < 0 {
		// head went backward (or was never advanced): claim nothing,
		// rather than treating it as having drained everything avail.
		claimed = 0
	} else if claimed > avail {
		claimed = avail
	}
	if claimed == 0 {
		return
	}

	c.trackedHead = prevHead + uint32(claimed)
	c.trackedCompleted = prevCompleted + uint64(claimed)
	c.global.Add(claimed)
}

// Available reports the sum of the global atomic and all local cells, for
// tests asserting the capacity invariant.
func (c *Counter) Available() int64 {
	total := c.global.Load()
	for i := range c.cells {
		total += c.cells[i].local.Load()
	}
	return total
}
