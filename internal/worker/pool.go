// Package worker provides the worker-thread fallback executor: an
// unbounded (within its configured cap) task pool that carries a
// Request's borrowed authority until the operation returns, for opcodes
// with no native async path.
package worker

import (
	"context"

	"github.com/bytedance/gopkg/util/gopool"

	"github.com/ioplex/aioring/internal/logging"
)

// DefaultCap bounds how many worker goroutines gopool keeps warm; it is
// not a limit on queued tasks, which gopool accepts unboundedly the same
// way a kernel's unbound workqueue does.
const DefaultCap = 256

// Pool is the worker-fallback executor for one process. A single Pool is
// normally shared by every Context, mirroring how the collaborating
// filesystem's workqueue is process-wide rather than per-handle.
type Pool struct {
	inner gopool.Pool
	log   *logging.Logger
}

// New creates a Pool with the given name (surfaced in panic logs) and
// worker cap.
func New(name string, cap int32, log *logging.Logger) *Pool {
	if cap <= 0 {
		cap = DefaultCap
	}
	if log != nil {
		log = log.Component("worker")
	}
	p := &Pool{log: log}
	p.inner = gopool.NewPool(name, cap, gopool.NewConfig())
	p.inner.SetPanicHandler(func(_ context.Context, r any) {
		if p.log != nil {
			p.log.Error("worker panic recovered", "pool", name, "recover", r)
		}
	})
	return p
}

// Submit enqueues fn for execution on a pool goroutine. fn is responsible
// for calling the Request's Complete exactly once; Submit itself returns
// as soon as the task is enqueued.
func (p *Pool) Submit(fn func()) {
	p.inner.Go(fn)
}
