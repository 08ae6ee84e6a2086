package reqobj

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	mu          sync.Mutex
	linked      []*Request
	unlinked    []*Request
	published   []int64
	woke        int
	notified    int
	droppedRefs int
}

func (f *fakeOwner) Link(r *Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linked = append(f.linked, r)
}

func (f *fakeOwner) Unlink(r *Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlinked = append(f.unlinked, r)
}

func (f *fakeOwner) Publish(obj, data uint64, res, res2 int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, res)
}

func (f *fakeOwner) SignalEventNotifier(r *Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified++
}

func (f *fakeOwner) WakeWaiters() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.woke++
}

func (f *fakeOwner) DropRequestRef() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.droppedRefs++
}

func TestUninstalledCancelFails(t *testing.T) {
	r := New(&fakeOwner{}, 1, 2)
	require.False(t, r.Cancel())
}

func TestSetCancelThenCancelInvokesOnce(t *testing.T) {
	r := New(&fakeOwner{}, 1, 2)
	calls := 0
	require.True(t, r.SetCancel(func() { calls++ }))
	require.True(t, r.Cancel())
	require.Equal(t, 1, calls)

	// Second cancel is a no-op: already terminal.
	require.False(t, r.Cancel())
	require.Equal(t, 1, calls)
}

func TestCompleteThenCancelIsNoop(t *testing.T) {
	owner := &fakeOwner{}
	r := New(owner, 1, 2)
	calls := 0
	require.True(t, r.SetCancel(func() { calls++ }))

	r.Complete(0, 0)
	require.False(t, r.Cancel())
	require.Equal(t, 0, calls, "a completed request must never invoke its cancel function")
	require.Len(t, owner.published, 1)
	require.Equal(t, 1, owner.woke)
	require.Equal(t, 1, owner.droppedRefs)
}

func TestConcurrentCancelIsSingleShot(t *testing.T) {
	r := New(&fakeOwner{}, 1, 2)
	var calls int32Counter
	require.True(t, r.SetCancel(func() { calls.add(1) }))

	var wg sync.WaitGroup
	successes := int32Counter{}
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Cancel() {
				successes.add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), calls.get())
	require.Equal(t, int64(1), successes.get())
}

func TestIovecSpillsToExtraPastInline(t *testing.T) {
	var s IovecState
	for i := 0; i < InlineIovecLen+2; i++ {
		s.Append(Iovec{Base: uintptr(i), Len: 1})
	}
	require.Equal(t, InlineIovecLen+2, s.N)
	require.Equal(t, uintptr(InlineIovecLen+1), s.At(InlineIovecLen+1).Base)
}

type int32Counter struct {
	mu sync.Mutex
	n  int64
}

func (c *int32Counter) add(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += d
}

func (c *int32Counter) get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
