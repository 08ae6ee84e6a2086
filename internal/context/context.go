// Package actx implements the Context: the top-level handle owning a
// completion ring, an admission counter, the active-request list, the
// dual (users, requests) reference counts, the dead flag, and the wait
// queue blocked reapers park on. Named actx, not context, to avoid
// colliding with the standard library's context.Context.
package actx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ioplex/aioring/internal/admission"
	"github.com/ioplex/aioring/internal/logging"
	"github.com/ioplex/aioring/internal/reqobj"
	"github.com/ioplex/aioring/internal/ring"
)

// EventNotifier is the optional per-completion signal, modeled as an
// interface so internal/context does not import golang.org/x/sys/unix.
// This module ships no eventfd-backed implementation; the tests use a
// counting fake.
type EventNotifier interface {
	Signal() error
}

// Context is the per-process async-I/O handle. The zero value is not
// usable; construct with New.
type Context struct {
	ID     uint32 // registry-assigned id
	UserID uint64 // handle: base address of the mapped ring

	Ring      *ring.Ring
	Admission *admission.Counter
	Notifier  EventNotifier // nil unless the embedder sets it; Submission Dispatch never does, so a descriptor's EventNotifier flag alone signals nothing
	log       *logging.Logger

	listMu sync.Mutex
	active *reqobj.Request // head of the active-request doubly linked list

	users    atomic.Int64
	requests atomic.Int64
	dead     atomic.Bool
	finalized atomic.Bool

	waitMu   sync.Mutex
	waitCond *sync.Cond

	onDrained func()
}

// New constructs a Context around an already-allocated ring and admission
// counter. Both reference counts start at one strong reference each: one
// for the registry's slot, one for the creator.
func New(id uint32, userID uint64, r *ring.Ring, adm *admission.Counter, log *logging.Logger) *Context {
	if log != nil {
		log = log.Component("context")
	}
	c := &Context{
		ID:        id,
		UserID:    userID,
		Ring:      r,
		Admission: adm,
		log:       log,
	}
	c.waitCond = sync.NewCond(&c.waitMu)
	c.users.Store(1)
	c.requests.Store(1)
	return c
}

// AddUserRef takes one users reference; submitters may submit while the
// users count is above zero.
func (c *Context) AddUserRef() { c.users.Add(1) }

// AddRequestRef takes one requests reference, called by Submission
// Dispatch when a Request Object is allocated.
func (c *Context) AddRequestRef() { c.requests.Add(1) }

// Dead reports whether the context has logically died.
func (c *Context) Dead() bool { return c.dead.Load() }

// Link inserts r into the active-request list if it is not already
// linked, under the context's list lock, matching SetCancel's contract.
func (c *Context) Link(r *reqobj.Request) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if r.Linked() {
		return
	}
	r.SetNext(c.active)
	r.SetPrev(nil)
	if c.active != nil {
		c.active.SetPrev(r)
	}
	c.active = r
	r.SetLinked(true)
}

// Unlink implements reqobj.Owner: removes r from the active list if
// linked. Safe to call even if r was never linked.
func (c *Context) Unlink(r *reqobj.Request) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	if !r.Linked() {
		return
	}
	if prev := r.Prev(); prev != nil {
		prev.SetNext(r.Next())
	} else {
		c.active = r.Next()
	}
	if next := r.Next(); next != nil {
		next.SetPrev(r.Prev())
	}
	r.SetNext(nil)
	r.SetPrev(nil)
	r.SetLinked(false)
}

// RefillAdmission implements user_refill(): it reads the ring's untrusted
// head and trusted tail/completed-event count and feeds them to the
// admission counter, recycling slots userspace has already drained that
// the counter hasn't yet noticed. Called by Submission Dispatch exactly
// when ReserveOne has just failed, so a submitter racing a reaper on
// another goroutine still gets a fair shot at the slot it freed.
func (c *Context) RefillAdmission() {
	head, tail := c.Ring.HeadTail()
	c.Admission.UserRefill(head, tail, c.Ring.CompletedEvents())
}

// Publish implements reqobj.Owner by forwarding to the ring.
func (c *Context) Publish(obj, data uint64, res, res2 int64) {
	c.Ring.Publish(obj, data, res, res2)
}

// SignalEventNotifier implements reqobj.Owner.
func (c *Context) SignalEventNotifier(r *reqobj.Request) {
	if c.Notifier == nil {
		return
	}
	if err := c.Notifier.Signal(); err != nil && c.log != nil {
		c.log.Warn("event notifier signal failed", "ctx", c.ID, "err", err)
	}
}

// WakeWaiters implements reqobj.Owner: wakes every reaper parked in
// GetEvents. The invariant is that the wait queue is woken at least once
// per completion; Broadcast over-wakes rather than under-wakes.
func (c *Context) WakeWaiters() {
	c.waitMu.Lock()
	c.waitCond.Broadcast()
	c.waitMu.Unlock()
}

// Wait blocks the calling goroutine on the context's wait queue until
// woken or signal reports the predicate has been satisfied. Returns false
// if the context died while waiting.
func (c *Context) Wait(predicate func() bool) bool {
	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for !predicate() && !c.dead.Load() {
		c.waitCond.Wait()
	}
	return !c.dead.Load() || predicate()
}

// WaitUntil is Wait bounded by an absolute deadline; a nil deadline waits
// forever. It reports whether the predicate was satisfied (false means
// the deadline elapsed first). sync.Cond has no timed wait primitive, so
// a timer goroutine forces a spurious wake at the deadline.
func (c *Context) WaitUntil(predicate func() bool, deadline *time.Time) bool {
	if deadline == nil {
		return c.Wait(predicate)
	}

	c.waitMu.Lock()
	defer c.waitMu.Unlock()
	for !predicate() && !c.dead.Load() {
		remaining := time.Until(*deadline)
		if remaining <= 0 {
			return predicate()
		}
		timer := time.AfterFunc(remaining, c.WakeWaiters)
		c.waitCond.Wait()
		timer.Stop()
	}
	return predicate() || !c.dead.Load()
}

// DropRequestRef implements reqobj.Owner: drops one requests reference.
// When it reaches zero while the context is already dead, the final free
// runs exactly once.
func (c *Context) DropRequestRef() {
	if c.requests.Add(-1) == 0 && c.dead.Load() {
		c.finalize()
	}
}

func (c *Context) finalize() {
	if !c.finalized.CompareAndSwap(false, true) {
		return
	}
	if c.Ring != nil {
		_ = c.Ring.Close()
	}
	if c.onDrained != nil {
		c.onDrained()
	}
	c.WakeWaiters()
}

// ActiveRequests returns a snapshot of every request currently on the
// active list, for user-drain cancellation and for tests.
func (c *Context) ActiveRequests() []*reqobj.Request {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	var out []*reqobj.Request
	for r := c.active; r != nil; r = r.Next() {
		out = append(out, r)
	}
	return out
}

// BeginTeardown implements the users side of destroy(): it atomically
// marks the context dead (failing if already dead), then drops the
// creator's users reference. If that drops users to zero, every active
// request is cancelled and the baseline requests reference (representing
// the registry's slot) is dropped. onDrained, if non-nil, is invoked
// exactly once, when the requests count finally reaches zero.
func (c *Context) BeginTeardown(onDrained func()) error {
	if !c.dead.CompareAndSwap(false, true) {
		return errAlreadyDead
	}
	c.onDrained = onDrained

	if c.users.Add(-1) == 0 {
		for _, r := range c.ActiveRequests() {
			r.Cancel()
		}
		if c.requests.Add(-1) == 0 {
			c.finalize()
		}
	}
	c.WakeWaiters()
	return nil
}

var errAlreadyDead = &deadError{}

type deadError struct{}

func (*deadError) Error() string { return "actx: context already dead" }

// IsAlreadyDead reports whether err is the sentinel BeginTeardown returns
// for a context that was already torn down.
func IsAlreadyDead(err error) bool {
	_, ok := err.(*deadError)
	return ok
}
