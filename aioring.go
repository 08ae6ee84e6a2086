// Package aioring implements an in-process asynchronous I/O ring
// subsystem: callers submit batches of I/O descriptors in one call, the
// system executes them via a native async path or a worker-thread
// fallback, and completions land in a shared completion ring that
// reapers drain with bounded waiting. See SPEC_FULL.md for the full
// design this package follows.
package aioring

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ioplex/aioring/internal/admission"
	"github.com/ioplex/aioring/internal/aerr"
	"github.com/ioplex/aioring/internal/backend"
	actx "github.com/ioplex/aioring/internal/context"
	"github.com/ioplex/aioring/internal/dispatch"
	"github.com/ioplex/aioring/internal/logging"
	"github.com/ioplex/aioring/internal/nativering"
	"github.com/ioplex/aioring/internal/registry"
	"github.com/ioplex/aioring/internal/ring"
	"github.com/ioplex/aioring/internal/worker"
)

// Handle is an opaque word equal to the address at which a context's
// completion ring is mapped in the caller's address space. Because the
// ring is backed by a real mmap (see internal/ring), this is a genuine
// pointer value, not a synthetic counter — Lookup dereferences it
// directly to read the ring header's id, exactly as the format being
// translated does.
type Handle uintptr

// Config holds System-wide tunables, set up via a functional-default
// constructor rather than a parsed config file.
type Config struct {
	// MaxContexts bounds how many live contexts this System permits.
	MaxContexts int
	// MaxRecordsPerContext bounds a single context's ring capacity.
	MaxRecordsPerContext uint32
	// NativeRingEntries sizes the shared native io_uring instance, when
	// the giouring build tag is active. Zero uses a small default.
	NativeRingEntries uint32
	// WorkerPoolCap bounds the worker-fallback executor's warm goroutines.
	WorkerPoolCap int32
	Logger        *logging.Logger
	Observer      Observer
	Backend       Backend // defaults to an in-RAM Backend if nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxContexts:          1024,
		MaxRecordsPerContext: 1 << 16,
		NativeRingEntries:    256,
		WorkerPoolCap:        worker.DefaultCap,
	}
}

// System is the process-wide collection of contexts sharing one registry,
// one dispatcher, and one worker pool.
type System struct {
	cfg Config

	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	native     nativering.Ring
	metrics    *Metrics
	log        *logging.Logger

	liveContexts atomic.Int64
}

// NewSystem creates a System. cfg may be nil to accept DefaultConfig().
func NewSystem(cfg *Config) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	if c.MaxContexts <= 0 {
		c.MaxContexts = DefaultConfig().MaxContexts
	}
	if c.MaxRecordsPerContext == 0 {
		c.MaxRecordsPerContext = DefaultConfig().MaxRecordsPerContext
	}
	if c.NativeRingEntries == 0 {
		c.NativeRingEntries = DefaultConfig().NativeRingEntries
	}
	if c.Backend == nil {
		c.Backend = backend.NewMemory()
	}

	nr, err := nativering.New(c.NativeRingEntries)
	if err != nil {
		// Native ring setup failing is not fatal: every opcode has a
		// worker-fallback path. Proceed with a System that never uses it.
		nr, _ = nativering.New(0)
	}

	if c.Observer == nil {
		c.Observer = NoOpObserver{}
	}

	s := &System{
		cfg:      c,
		registry: registry.New(),
		native:   nr,
		metrics:  NewMetrics(),
		log:      c.Logger,
	}

	wp := worker.New("aioring-workers", c.WorkerPoolCap, c.Logger)
	s.dispatcher = dispatch.New(dispatch.Deps{
		Backend: c.Backend, Native: nr, Workers: wp, Log: c.Logger,
		OnComplete: s.onComplete,
	})
	return s, nil
}

// onComplete is dispatch.Deps.OnComplete: it records a completed
// request's latency and error-ness in Metrics and forwards the event to
// the configured Observer, regardless of which path (native ring or
// worker fallback) produced the completion.
func (s *System) onComplete(op Opcode, started time.Time, res int64) {
	latency := time.Since(started)
	s.metrics.RecordCompletion(latency)
	var err error
	if res < 0 {
		s.metrics.RecordError()
		err = fmt.Errorf("aioring: %s completed with negative result %d", op, res)
	}
	s.cfg.Observer.OnComplete(op, latency, err)
}

// Setup implements create(): round the requested capacity up, reject
// against configured limits, allocate the ring and admission counter, and
// install the new context into the registry.
func (s *System) Setup(requestedEvents uint32) (Handle, error) {
	if requestedEvents == 0 {
		return 0, aerr.New("Setup", aerr.CodeInvalidArgument, "requested_events must be > 0")
	}
	if s.liveContexts.Load() >= int64(s.cfg.MaxContexts) {
		return 0, aerr.New("Setup", aerr.CodeTryAgain, "system-wide context limit reached")
	}

	ncpu := uint32(runtime.NumCPU())
	if ncpu < 1 {
		ncpu = 1
	}
	nr := requestedEvents
	if min := ncpu * 4; nr < min {
		nr = min
	}
	nr *= 2
	if nr > s.cfg.MaxRecordsPerContext {
		return 0, aerr.New("Setup", aerr.CodeInvalidArgument, "requested_events exceeds the record-count limit")
	}

	r, err := ring.New(0, nr)
	if err != nil {
		return 0, aerr.New("Setup", aerr.CodeOutOfMemory, err.Error())
	}
	adm := admission.New(nr)

	buf := r.Bytes()
	handle := Handle(uintptr(unsafe.Pointer(&buf[0])))

	ctx := actx.New(0, uint64(handle), r, adm, s.log)
	id := s.registry.Insert(uint64(handle), ctx)
	ctx.ID = id

	// The allocated id is written into the ring header so Lookup can
	// recover it from the handle alone.
	hdr := ring.UnmarshalHeader(buf[:ring.HeaderSize])
	hdr.ID = id
	ring.MarshalHeader(buf[:ring.HeaderSize], &hdr)

	s.liveContexts.Add(1)
	s.metrics.RecordContextCreated()
	return handle, nil
}

// lookup implements §4.5's lookup contract: read the registry version
// lock-free, recover id by dereferencing the handle directly (it is the
// real mmap base address), bounds-check, and require the slot's user_id
// to match.
//
// Known gap: §4.5 also specifies that lookup takes one users reference
// for the caller and that the caller drops it when done. This
// implementation does not; Destroy instead relies on the registry
// removal happening before BeginTeardown drops the creator's reference.
// A Submit/Cancel/GetEvents call that completes its own lookup just
// before a concurrent Destroy's registry.Remove can therefore still call
// AddRequestRef after draining has logically begun, racing the
// requests-refcount drain BeginTeardown starts. See DESIGN.md for why a
// full acquire/release pair was not added here.
func (s *System) lookup(handle Handle) (*actx.Context, error) {
	if handle == 0 {
		return nil, ErrBadHandle
	}
	// A destroyed context's ring is already unmapped, so reading its
	// header faults; SetPanicOnFault turns that into a recoverable panic
	// and the handle is reported as bad instead of crashing the process.
	var id uint32
	faulted := func() (faulted bool) {
		defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
		defer func() { faulted = recover() != nil }()
		id = *(*uint32)(unsafe.Pointer(uintptr(handle)))
		return false
	}()
	if faulted {
		return nil, ErrBadHandle
	}
	v, ok := s.registry.Lookup(id, uint64(handle))
	if !ok {
		return nil, ErrBadHandle
	}
	ctx, ok := v.(*actx.Context)
	if !ok || ctx.Dead() {
		return nil, ErrBadHandle
	}
	return ctx, nil
}

// Submit implements submit(handle, descriptors...) -> submitted_count.
func (s *System) Submit(handle Handle, descs []Descriptor) (int, error) {
	ctx, err := s.lookup(handle)
	if err != nil {
		return 0, err
	}
	n, err := s.dispatcher.SubmitBatch(ctx, descs)
	s.metrics.RecordSubmissions(n)
	for _, d := range descs[:n] {
		s.cfg.Observer.OnSubmit(d.Opcode, 1)
	}
	return n, err
}

// Cancel implements cancel(handle, descriptor_key) -> InProgress | error.
// It maps a descriptor key to its Request Object via the context's active
// list and calls Cancel.
func (s *System) Cancel(handle Handle, descriptorKey uint64) error {
	ctx, err := s.lookup(handle)
	if err != nil {
		return err
	}
	for _, r := range ctx.ActiveRequests() {
		if r.UserIOCB == descriptorKey {
			if r.Cancel() {
				s.metrics.RecordCancellation()
				s.cfg.Observer.OnCancel(Opcode(r.Op))
				return ErrInProgress
			}
			return ErrNotCancelled
		}
	}
	return aerr.New("Cancel", aerr.CodeInvalidArgument, "no matching in-flight request")
}

// Destroy implements destroy(handle): removes the context from the
// registry, unmaps its ring, and drains in-flight requests. It blocks
// until draining completes.
func (s *System) Destroy(handle Handle) error {
	ctx, err := s.lookup(handle)
	if err != nil {
		return err
	}
	s.registry.Remove(ctx.ID)

	drained := make(chan struct{})
	if err := ctx.BeginTeardown(func() { close(drained) }); err != nil {
		return fmt.Errorf("aioring: destroy: %w", err)
	}
	<-drained

	s.liveContexts.Add(-1)
	return nil
}

// Metrics returns a snapshot of this System's counters.
func (s *System) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// Close releases System-wide resources (the native ring, if any). It does
// not destroy live contexts; callers should Destroy each one first.
func (s *System) Close() error {
	if s.native != nil {
		return s.native.Close()
	}
	return nil
}
