package actx

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ioplex/aioring/internal/admission"
	"github.com/ioplex/aioring/internal/reqobj"
	"github.com/ioplex/aioring/internal/ring"
)

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Signal() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func newTestContext(t *testing.T, nr uint32) *Context {
	t.Helper()
	r, err := ring.New(1, nr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	adm := admission.New(nr)
	return New(1, 0xCAFE, r, adm, nil)
}

func TestCompleteViaRequestPublishesAndWakes(t *testing.T) {
	ctx := newTestContext(t, 8)
	notifier := &countingNotifier{}
	ctx.Notifier = notifier

	req := reqobj.New(ctx, 0x10, 0xAA)
	req.EventNotifier = true
	ctx.AddRequestRef()

	req.Complete(42, 0)

	out := make([]ring.Record, 1)
	n := ctx.Ring.Reap(out)
	require.Equal(t, 1, n)
	require.Equal(t, int64(42), out[0].Res)
	require.Equal(t, 1, notifier.n)
}

func TestLinkAndUnlink(t *testing.T) {
	ctx := newTestContext(t, 8)
	req := reqobj.New(ctx, 1, 1)
	req.SetCancel(func() {})
	ctx.Link(req)
	require.Len(t, ctx.ActiveRequests(), 1)

	ctx.Unlink(req)
	require.Len(t, ctx.ActiveRequests(), 0)
}

func TestBeginTeardownCancelsActiveRequests(t *testing.T) {
	ctx := newTestContext(t, 8)
	ctx.AddRequestRef()
	req := reqobj.New(ctx, 1, 1)
	cancelled := false
	// Like a real operation, the cancel handler finishes the request; its
	// Complete drops the requests reference the drain waits for.
	req.SetCancel(func() {
		cancelled = true
		req.Complete(-1, 0)
	})
	ctx.Link(req)

	drained := make(chan struct{})
	err := ctx.BeginTeardown(func() { close(drained) })
	require.NoError(t, err)
	require.True(t, cancelled)

	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("onDrained was never called")
	}
}

func TestBeginTeardownTwiceFails(t *testing.T) {
	ctx := newTestContext(t, 8)
	require.NoError(t, ctx.BeginTeardown(nil))
	err := ctx.BeginTeardown(nil)
	require.Error(t, err)
	require.True(t, IsAlreadyDead(err))
}

func TestWaitWakesOnPublish(t *testing.T) {
	ctx := newTestContext(t, 8)
	got := make(chan bool, 1)
	go func() {
		got <- ctx.Wait(func() bool { return ctx.Ring.CompletedEvents() > 0 })
	}()

	time.Sleep(10 * time.Millisecond)
	ctx.Ring.Publish(1, 1, 1, 0)
	ctx.WakeWaiters()

	select {
	case ok := <-got:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}
