package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ioplex/aioring/internal/aerr"
	"github.com/ioplex/aioring/internal/backend"
	actx "github.com/ioplex/aioring/internal/context"
	"github.com/ioplex/aioring/internal/logging"
	"github.com/ioplex/aioring/internal/nativering"
	"github.com/ioplex/aioring/internal/reqobj"
	"github.com/ioplex/aioring/internal/worker"
)

// resultFromErr maps a backend error to the negative errno completion
// dispatch publishes in res, matching the convention every kernel io_uring
// opcode follows. If the error chain carries a syscall.Errno (a real
// backend wrapping an os/syscall failure), that value is surfaced
// directly; otherwise EIO stands in as the generic I/O-failure errno
// rather than the uninformative bare -1.
func resultFromErr(err error) int64 {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int64(errno)
	}
	return -int64(syscall.EIO)
}

func invalidArgument(msg string) error { return aerr.New("SubmitOne", aerr.CodeInvalidArgument, msg) }
func badDescriptor(msg string) error   { return aerr.New("SubmitOne", aerr.CodeBadDescriptor, msg) }
func tryAgain() error                  { return aerr.New("SubmitOne", aerr.CodeTryAgain, "no admission slots available") }

// Deps are the collaborators opcode functions call into.
type Deps struct {
	Backend backend.Backend
	Native  nativering.Ring // may be nil or Available()==false
	Workers *worker.Pool
	Log     *logging.Logger

	// OnComplete, if non-nil, is invoked exactly once per Request Object
	// when its completion record is about to be published, whether the
	// outcome was success, a backend error, or a cancellation. It is the
	// seam the root package's per-opcode metrics and Observer callbacks
	// are wired through, since this package cannot import the root
	// package's Metrics/Observer types without an import cycle.
	OnComplete func(op Opcode, started time.Time, res int64)
}

func (d *Dispatcher) onComplete(op Opcode, started time.Time, res int64) {
	if d.deps.OnComplete != nil {
		d.deps.OnComplete(op, started, res)
	}
}

type opEntry struct {
	requiresFD bool
	run        func(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome
}

// Dispatcher holds the opcode table and the native-completion router.
type Dispatcher struct {
	deps  Deps
	table [opcodeCount]opEntry

	nextUserData atomic.Uint64
	pending      sync.Map // uint64 -> *reqobj.Request, for native-ring routing
}

// New builds a Dispatcher over deps, starting the native-completion
// router goroutine if a usable native ring was supplied.
func New(deps Deps) *Dispatcher {
	if deps.Log != nil {
		deps.Log = deps.Log.Component("dispatch")
	}
	d := &Dispatcher{deps: deps}
	d.table[OpRead] = opEntry{requiresFD: true, run: runRW(false, false)}
	d.table[OpWrite] = opEntry{requiresFD: true, run: runRW(true, false)}
	d.table[OpReadv] = opEntry{requiresFD: true, run: runRW(false, true)}
	d.table[OpWritev] = opEntry{requiresFD: true, run: runRW(true, true)}
	d.table[OpFsync] = opEntry{requiresFD: true, run: runFsync(false)}
	d.table[OpFdsync] = opEntry{requiresFD: true, run: runFsync(true)}
	d.table[OpPoll] = opEntry{requiresFD: true, run: runPoll}
	d.table[OpOpenat] = opEntry{run: runOpenat}
	d.table[OpUnlinkat] = opEntry{run: runUnlinkat}
	d.table[OpRenameat] = opEntry{run: runRenameat}
	d.table[OpReadahead] = opEntry{requiresFD: true, run: runReadahead}

	if deps.Native != nil && deps.Native.Available() {
		go d.routeNativeCompletions()
	}
	return d
}

// nativePending carries the bookkeeping routeNativeCompletions needs to
// report a native-ring completion through the same OnComplete seam the
// worker-fallback path uses.
type nativePending struct {
	req     *reqobj.Request
	op      Opcode
	started time.Time
}

func (d *Dispatcher) routeNativeCompletions() {
	for ev := range d.deps.Native.Completions() {
		if v, ok := d.pending.LoadAndDelete(ev.UserData); ok {
			np := v.(nativePending)
			d.onComplete(np.op, np.started, ev.Res)
			np.req.Complete(ev.Res, ev.Res2)
		} else if d.deps.Log != nil {
			d.deps.Log.Warn("native completion for unknown request", "userData", ev.UserData)
		}
	}
}

// SubmitOne implements submit_one: validate, reserve, allocate, dispatch.
func (d *Dispatcher) SubmitOne(ctx *actx.Context, desc Descriptor) error {
	if desc.Reserved != [4]uint32{} {
		return invalidArgument("reserved fields must be zero")
	}
	if uint32(desc.Opcode) >= uint32(opcodeCount) {
		return invalidArgument("opcode out of range")
	}
	entry := d.table[desc.Opcode]
	if entry.run == nil {
		return invalidArgument(fmt.Sprintf("opcode %s has no dispatch entry", desc.Opcode))
	}
	if entry.requiresFD && desc.FD < 0 {
		return badDescriptor("missing file descriptor")
	}

	if !ctx.Admission.ReserveOne() {
		// §4.1 user_refill: a reaper may have drained records the
		// admission counter doesn't know about yet. Give it one chance
		// to recycle those slots before reporting TryAgain.
		ctx.RefillAdmission()
		if !ctx.Admission.ReserveOne() {
			return tryAgain()
		}
	}

	req := reqobj.New(ctx, desc.DescriptorKey, desc.UserData)
	req.EventNotifier = desc.EventNotifier
	req.Op = uint32(desc.Opcode)
	ctx.AddRequestRef()

	started := time.Now()
	outcome := entry.run(d, req, desc)
	switch outcome.Kind {
	case Queued:
		return nil
	case Synchronous:
		d.onComplete(desc.Opcode, started, outcome.Res)
		req.Complete(outcome.Res, outcome.Res2)
		return nil
	default: // Failure
		ctx.Admission.Release(1)
		ctx.DropRequestRef()
		return outcome.Err
	}
}

// SubmitBatch implements submit_batch: submit descriptors in order,
// stopping at the first failure. Once at least one descriptor has
// succeeded the failure code is hidden; only the partial count is
// returned, matching the convention that a partial batch is not an error.
func (d *Dispatcher) SubmitBatch(ctx *actx.Context, descs []Descriptor) (int, error) {
	for i, desc := range descs {
		if err := d.SubmitOne(ctx, desc); err != nil {
			if i == 0 {
				return 0, err
			}
			return i, nil
		}
	}
	return len(descs), nil
}

func runRW(isWrite, vectored bool) func(*Dispatcher, *reqobj.Request, Descriptor) Outcome {
	op := OpRead
	switch {
	case isWrite && vectored:
		op = OpWritev
	case isWrite:
		op = OpWrite
	case vectored:
		op = OpReadv
	}
	return func(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
		if !vectored && d.deps.Native != nil && d.deps.Native.Available() {
			userData := d.nextUserData.Add(1)
			d.pending.Store(userData, nativePending{req: req, op: op, started: time.Now()})
			var err error
			if isWrite {
				err = d.deps.Native.SubmitWrite(desc.FD, desc.Buf, desc.Offset, userData)
			} else {
				err = d.deps.Native.SubmitRead(desc.FD, desc.Buf, desc.Offset, userData)
			}
			if err == nil {
				return Outcome{Kind: Queued}
			}
			d.pending.Delete(userData)
			// fall through to worker fallback
		}

		return submitCancellable(d, req, op, func() (int64, int64) {
			return doRW(d.deps.Backend, isWrite, vectored, desc)
		})
	}
}

func doRW(b backend.Backend, isWrite, vectored bool, desc Descriptor) (int64, int64) {
	if !vectored {
		var n int
		var err error
		if isWrite {
			n, err = b.WriteAt(desc.FD, desc.Buf, desc.Offset)
		} else {
			n, err = b.ReadAt(desc.FD, desc.Buf, desc.Offset)
		}
		if err != nil {
			return resultFromErr(err), 0
		}
		return int64(n), 0
	}

	off := desc.Offset
	var total int64
	for _, seg := range desc.Iovecs {
		var n int
		var err error
		if isWrite {
			n, err = b.WriteAt(desc.FD, seg, off)
		} else {
			n, err = b.ReadAt(desc.FD, seg, off)
		}
		if err != nil {
			if total == 0 {
				return resultFromErr(err), 0
			}
			return total, 0
		}
		total += int64(n)
		off += int64(n)
		if n < len(seg) {
			break
		}
	}
	return total, 0
}

// cancelledResult is the negative result a worker-fallback operation
// completes with when a Cancel won the race against the backend call
// finishing, rather than surfacing whatever partial result the backend
// returned.
const cancelledResult int64 = -int64(125) // conventionally ECANCELED

// submitCancellable installs a cancel handler before handing work to the
// worker pool: the handler flips a flag until the worker finishes, at
// which point it is too late and Cancel's CAS simply loses the race
// against Complete's. op and the capture time are forwarded to
// OnComplete so the root package's per-opcode metrics see worker-
// fallback completions alongside native ones.
func submitCancellable(d *Dispatcher, req *reqobj.Request, op Opcode, work func() (int64, int64)) Outcome {
	started := time.Now()
	var cancelled atomic.Bool
	req.SetCancel(func() { cancelled.Store(true) })
	d.deps.Workers.Submit(func() {
		res, res2 := work()
		if cancelled.Load() {
			d.onComplete(op, started, cancelledResult)
			req.Complete(cancelledResult, 0)
			return
		}
		d.onComplete(op, started, res)
		req.Complete(res, res2)
	})
	return Outcome{Kind: Queued}
}

func runFsync(dataOnly bool) func(*Dispatcher, *reqobj.Request, Descriptor) Outcome {
	op := OpFsync
	if dataOnly {
		op = OpFdsync
	}
	return func(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
		return submitCancellable(d, req, op, func() (int64, int64) {
			if err := d.deps.Backend.Fsync(desc.FD, dataOnly); err != nil {
				return resultFromErr(err), 0
			}
			return 0, 0
		})
	}
}

func runPoll(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
	return submitCancellable(d, req, OpPoll, func() (int64, int64) {
		mask, err := d.deps.Backend.Poll(desc.FD, desc.PollMask)
		if err != nil {
			return resultFromErr(err), 0
		}
		return int64(mask), 0
	})
}

func runOpenat(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
	return submitCancellable(d, req, OpOpenat, func() (int64, int64) {
		fd, err := d.deps.Backend.OpenAt(desc.FD, desc.Path, desc.Flags, desc.Mode)
		if err != nil {
			return resultFromErr(err), 0
		}
		return int64(fd), 0
	})
}

func runUnlinkat(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
	return submitCancellable(d, req, OpUnlinkat, func() (int64, int64) {
		if err := d.deps.Backend.UnlinkAt(desc.FD, desc.Path, desc.Flags); err != nil {
			return resultFromErr(err), 0
		}
		return 0, 0
	})
}

func runRenameat(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
	return submitCancellable(d, req, OpRenameat, func() (int64, int64) {
		if err := d.deps.Backend.RenameAt(desc.FD, desc.Path, desc.NewDir, desc.NewPath); err != nil {
			return resultFromErr(err), 0
		}
		return 0, 0
	})
}

func runReadahead(d *Dispatcher, req *reqobj.Request, desc Descriptor) Outcome {
	return submitCancellable(d, req, OpReadahead, func() (int64, int64) {
		n, err := d.deps.Backend.Readahead(desc.FD, desc.Offset, int(desc.NBytes))
		if err != nil {
			return resultFromErr(err), 0
		}
		return int64(n), 0
	})
}
