//go:build !(linux && cgo)

package ring

import "sync/atomic"

// storeFence and loadFence fall back to a full atomic-backed fence when cgo
// is unavailable. A dummy atomic operation is sufficient for the Go memory
// model's happens-before guarantees between goroutines in this process;
// it does not help a foreign (non-Go) mapper of the same pages, which is
// the reason internal/ring prefers the cgo-backed fence when it can build.
var fenceWord uint32

func storeFence() { atomic.StoreUint32(&fenceWord, atomic.LoadUint32(&fenceWord)+1) }

func loadFence() { atomic.LoadUint32(&fenceWord) }
