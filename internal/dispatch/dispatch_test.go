package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ioplex/aioring/internal/admission"
	"github.com/ioplex/aioring/internal/backend"
	actx "github.com/ioplex/aioring/internal/context"
	"github.com/ioplex/aioring/internal/nativering"
	"github.com/ioplex/aioring/internal/ring"
	"github.com/ioplex/aioring/internal/worker"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *actx.Context, *backend.Memory) {
	t.Helper()
	r, err := ring.New(1, 8)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	adm := admission.New(8)
	ctx := actx.New(1, 0x1000, r, adm, nil)

	mem := backend.NewMemory()
	require.NoError(t, mem.CreateFile(3, 4096))

	nr, err := nativering.New(0)
	require.NoError(t, err)
	wp := worker.New("test", 4, nil)

	d := New(Deps{Backend: mem, Native: nr, Workers: wp})
	return d, ctx, mem
}

func waitForCompletion(t *testing.T, r *ring.Ring) ring.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out := make([]ring.Record, 1)
		if n := r.Reap(out); n == 1 {
			return out[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for completion")
	return ring.Record{}
}

func TestSubmitReadThroughWorkerFallback(t *testing.T) {
	d, ctx, mem := newTestDispatcher(t)
	_, err := mem.WriteAt(3, []byte("hello world"), 0)
	require.NoError(t, err)

	buf := make([]byte, 5)
	err = d.SubmitOne(ctx, Descriptor{
		Opcode:        OpRead,
		FD:            3,
		Buf:           buf,
		Offset:        0,
		DescriptorKey: 0xAAAA,
		UserData:      0xBBBB,
	})
	require.NoError(t, err)

	rec := waitForCompletion(t, ctx.Ring)
	require.Equal(t, uint64(0xAAAA), rec.Obj)
	require.Equal(t, uint64(0xBBBB), rec.Data)
	require.Equal(t, int64(5), rec.Res)
	require.Equal(t, "hello", string(buf))
}

func TestSubmitRejectsNonZeroReserved(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	err := d.SubmitOne(ctx, Descriptor{Opcode: OpRead, FD: 3, Reserved: [4]uint32{1, 0, 0, 0}})
	require.Error(t, err)
}

func TestSubmitRejectsUnknownOpcode(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	err := d.SubmitOne(ctx, Descriptor{Opcode: Opcode(999), FD: 3})
	require.Error(t, err)
}

func TestSubmitFsyncSynchronizesThenCompletes(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	err := d.SubmitOne(ctx, Descriptor{Opcode: OpFsync, FD: 3})
	require.NoError(t, err)

	rec := waitForCompletion(t, ctx.Ring)
	require.Equal(t, int64(0), rec.Res)
}

func TestSubmitBatchStopsAtFirstFailureButHidesCodeAfterOneSuccess(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	descs := []Descriptor{
		{Opcode: OpFsync, FD: 3},
		{Opcode: Opcode(999), FD: 3}, // invalid, should stop the batch here
	}
	n, err := d.SubmitBatch(ctx, descs)
	require.NoError(t, err, "failure after the first success must be hidden behind the count")
	require.Equal(t, 1, n)
}

func TestSubmitBatchSurfacesFailureWhenFirstDescriptorFails(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	descs := []Descriptor{
		{Opcode: Opcode(999), FD: 3},
	}
	n, err := d.SubmitBatch(ctx, descs)
	require.Error(t, err)
	require.Equal(t, 0, n)
}

func TestNoLostSlotOnRejectedDescriptor(t *testing.T) {
	d, ctx, _ := newTestDispatcher(t)
	before := ctx.Admission.Available()
	err := d.SubmitOne(ctx, Descriptor{Opcode: OpRead, FD: -1})
	require.Error(t, err)
	require.Equal(t, before, ctx.Admission.Available())
}
