//go:build giouring

package nativering

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

// giouringRing wraps a real io_uring instance. One background goroutine
// (completionLoop) owns the CQ and fans completions out over a channel,
// so only that goroutine ever touches the ring's completion side.
type giouringRing struct {
	ring *giouring.Ring

	mu     sync.Mutex // serializes SQE acquisition and Submit
	events chan CompletionEvent
	done   chan struct{}
}

// New sets up a real io_uring with the given submission-queue depth. If
// io_uring_setup fails (old kernel, disabled via seccomp, resource
// limits), the error is returned so the caller can fall back to the
// worker pool for this process entirely.
func New(entries uint32) (Ring, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("nativering: io_uring setup: %w", err)
	}
	r := &giouringRing{
		ring:   ring,
		events: make(chan CompletionEvent, entries),
		done:   make(chan struct{}),
	}
	go r.completionLoop()
	return r, nil
}

func (r *giouringRing) Available() bool { return r.ring != nil }

func (r *giouringRing) SubmitRead(fd int, buf []byte, offset int64, userData uint64) error {
	return r.submit(fd, buf, offset, userData, true)
}

func (r *giouringRing) SubmitWrite(fd int, buf []byte, offset int64, userData uint64) error {
	return r.submit(fd, buf, offset, userData, false)
}

func (r *giouringRing) submit(fd int, buf []byte, offset int64, userData uint64, isRead bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sqe := r.ring.GetSQE()
	if sqe == nil {
		return fmt.Errorf("nativering: submission queue full")
	}
	ptr := uintptr(0)
	if len(buf) > 0 {
		ptr = uintptr(unsafe.Pointer(&buf[0]))
	}
	if isRead {
		sqe.PrepareRead(int32(fd), ptr, uint32(len(buf)), uint64(offset))
	} else {
		sqe.PrepareWrite(int32(fd), ptr, uint32(len(buf)), uint64(offset))
	}
	sqe.UserData = userData

	if _, err := r.ring.Submit(); err != nil {
		return fmt.Errorf("nativering: submit: %w", err)
	}
	return nil
}

func (r *giouringRing) completionLoop() {
	for {
		select {
		case <-r.done:
			return
		default:
		}
		cqe, err := r.ring.WaitCQE()
		if err != nil {
			continue
		}
		ev := CompletionEvent{
			UserData:   cqe.UserData,
			Completion: Completion{Res: int64(cqe.Res)},
		}
		r.ring.SeenCQE(cqe)
		select {
		case r.events <- ev:
		case <-r.done:
			return
		}
	}
}

func (r *giouringRing) Completions() <-chan CompletionEvent { return r.events }

func (r *giouringRing) Close() error {
	close(r.done)
	r.ring.QueueExit()
	return nil
}
