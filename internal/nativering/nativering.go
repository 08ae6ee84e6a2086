// Package nativering is the native async path: when the host kernel's own
// io_uring is available, READ and WRITE opcodes are submitted to it
// directly instead of falling back to internal/worker. READV and WRITEV
// have no native path and always run on internal/worker. Ring is the
// seam; its real implementation lives in ring_giouring.go behind the
// giouring build tag, with a stub in ring_stub.go for ordinary builds.
package nativering

// Completion is the result of one native operation, delivered inside a
// CompletionEvent on Ring.Completions.
type Completion struct {
	Res  int64
	Res2 int64
}

// Ring is the native async submission surface. Available reports whether
// a real ring backs this instance; callers fall back to the worker pool
// when it does not (a normal build without the giouring tag, a kernel too
// old to support io_uring, or a failed ring setup at process start).
type Ring interface {
	Available() bool
	SubmitRead(fd int, buf []byte, offset int64, userData uint64) error
	SubmitWrite(fd int, buf []byte, offset int64, userData uint64) error
	// Completions delivers finished operations keyed by the userData
	// passed to Submit*; the caller drains it from one dedicated goroutine.
	Completions() <-chan CompletionEvent
	Close() error
}

// CompletionEvent pairs a completion with the userData its submission was
// tagged with, so the caller can route it back to the right Request.
type CompletionEvent struct {
	UserData uint64
	Completion
}
