package ring

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DefaultHeaderLength is the number of bytes reserved for the header at the
// start of page 0, cache-line padded past HeaderSize so record 0 never
// shares a line with the header's tail field.
const DefaultHeaderLength = 64

// pageSize is resolved once at init, using the real page size rather than
// a hardcoded 4096.
var pageSize = unix.Getpagesize()

// Ring is a fixed-size circular buffer of completion records backed by
// real mmap'd pages. Producer (Publish) and consumer (Reap) sides follow
// the lock and fence discipline described by the format this module
// implements: tail advances only under completionMu, and fences ensure a record
// is never observably valid before its tail advance is visible.
type Ring struct {
	id    uint32
	nr    uint32
	hlen  uint32
	pages []byte // contiguous mmap'd region, nrPages*pageSize bytes

	ringMu         sync.Mutex // serializes reap against page migration
	completionMu   sync.Mutex // IRQ-safe in the host this was translated from; a plain mutex here
	completedEvents atomic.Uint64

	firstPageCapacity int
	otherPageCapacity int
	nrPages           int

	// migrating is set for the duration of a Migrate call. Nothing reads
	// it; the two mutexes alone serialize Migrate against Publish/Reap.
	migrating atomic.Bool
}

// New allocates a ring of capacity nr records (nr must be >= 1) and writes
// an initialized header with the given context id.
func New(id, nr uint32) (*Ring, error) {
	if nr == 0 {
		return nil, fmt.Errorf("ring: capacity must be >= 1")
	}
	hlen := uint32(DefaultHeaderLength)
	r := &Ring{id: id, nr: nr, hlen: hlen}
	r.firstPageCapacity = (pageSize - int(hlen)) / RecordSize
	r.otherPageCapacity = pageSize / RecordSize
	if r.firstPageCapacity < 0 {
		r.firstPageCapacity = 0
	}

	remaining := int(nr) - r.firstPageCapacity
	nrPages := 1
	if remaining > 0 {
		nrPages += (remaining + r.otherPageCapacity - 1) / r.otherPageCapacity
	}
	r.nrPages = nrPages

	buf, err := unix.Mmap(-1, 0, nrPages*pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("ring: mmap: %w", err)
	}
	r.pages = buf

	h := Header{
		ID:             id,
		Nr:             nr,
		Head:           0,
		Tail:           0,
		Magic:          Magic,
		CompatFeatures: FeatureBasicABI,
		HeaderLength:   hlen,
	}
	MarshalHeader(r.pages[:HeaderSize], &h)
	return r, nil
}

// Close unmaps the ring's pages. The caller must ensure no concurrent
// Publish/Reap is in flight.
func (r *Ring) Close() error {
	if r.pages == nil {
		return nil
	}
	err := unix.Munmap(r.pages)
	r.pages = nil
	return err
}

// Bytes returns the raw mmap'd buffer, for a collaborator (e.g. a real
// fd-backed mapping) that needs to share it with another process.
func (r *Ring) Bytes() []byte { return r.pages }

// Capacity returns nr_events.
func (r *Ring) Capacity() uint32 { return r.nr }

func (r *Ring) recordOffset(index uint32) int {
	idx := int(index)
	if idx < r.firstPageCapacity {
		return int(r.hlen) + idx*RecordSize
	}
	idx -= r.firstPageCapacity
	page := idx / r.otherPageCapacity
	within := idx % r.otherPageCapacity
	return pageSize*(1+page) + within*RecordSize
}

func (r *Ring) headerBuf() []byte { return r.pages[:HeaderSize] }

// Publish writes one completion record at the current tail, advances tail,
// and fences so userspace never observes a record before the tail advance
// that makes it valid. It corresponds to the producer contract: compute
// position, advance tail, write fields, flush, fence, publish tail.
func (r *Ring) Publish(obj, data uint64, res, res2 int64) {
	r.completionMu.Lock()
	defer r.completionMu.Unlock()

	tail := atomic.LoadUint32(headField(r.headerBuf(), offTail))
	pos := r.recordOffset(tail % r.nr)

	rec := Record{Obj: obj, Data: data, Res: res, Res2: res2}
	MarshalRecord(r.pages[pos:pos+RecordSize], &rec)

	// Release fence: the record write above must be globally visible
	// before the tail store below.
	storeFence()

	newTail := tail + 1
	atomic.StoreUint32(headField(r.headerBuf(), offTail), newTail)

	n := r.completedEvents.Add(1)
	if n > 1 {
		// Opportunistically nothing to recycle here: admission refill is
		// driven by the caller (internal/admission.UserRefill) which reads
		// Head/Tail itself; Publish only needs to keep completedEvents
		// current for it to observe.
	}
}

// Reap copies up to len(out) records starting at head into out, advances
// head, and returns the number copied.
//
// head and tail are both kept as raw, ever-increasing sequence counters
// (like a real io_uring ring's cursors): only the record *address* is
// computed modulo nr, never the cursor itself. That discipline is what
// makes a hostile head safe to read back here — a userspace write that
// pushes head numerically ahead of the kernel-trusted tail is detected
// by a widened signed subtraction (it goes negative instead of wrapping
// around to a small, plausible-looking positive count), and is clamped
// to zero available records rather than faulted on or mis-read.
func (r *Ring) Reap(out []Record) int {
	r.ringMu.Lock()
	defer r.ringMu.Unlock()

	head := atomic.LoadUint32(headField(r.headerBuf(), offHead))
	tail := atomic.LoadUint32(headField(r.headerBuf(), offTail))

	// Acquire fence: subsequent record reads must observe writes that
	// preceded this tail load.
	loadFence()

	available := int64(tail) - int64(head)
	if available <= 0 {
		return 0
	}
	if available > int64(r.nr) {
		available = int64(r.nr)
	}

	n := len(out)
	if int64(n) > available {
		n = int(available)
	}

	for i := 0; i < n; i++ {
		pos := r.recordOffset((head + uint32(i)) % r.nr)
		out[i] = UnmarshalRecord(r.pages[pos : pos+RecordSize])
	}

	newHead := head + uint32(n)
	atomic.StoreUint32(headField(r.headerBuf(), offHead), newHead)
	return n
}

// CompletedEvents returns the trusted kernel-side completion counter, used
// by internal/admission's user-refill path.
func (r *Ring) CompletedEvents() uint64 { return r.completedEvents.Load() }

// HeadTail returns the raw, untrusted head and the trusted tail as the
// same ever-increasing cursor values Publish/Reap use internally (see
// Reap's doc comment). Callers comparing the two must widen to a signed
// type before subtracting, exactly as Reap does, so a hostile head
// cannot be mistaken for a small backlog via unsigned wraparound.
func (r *Ring) HeadTail() (head, tail uint32) {
	head = atomic.LoadUint32(headField(r.headerBuf(), offHead))
	tail = atomic.LoadUint32(headField(r.headerBuf(), offTail))
	return head, tail
}

// Migrate substitutes newPage for the page-th page of the ring, an optional
// capability exercised only when the host memory subsystem supports moving
// physical pages behind the mapping. It takes ringMu and completionMu, in
// that order, blocking any concurrent Publish until it releases
// completionMu, matching the lock-ordering invariant for page migration.
func (r *Ring) Migrate(page int, newPage []byte) error {
	if page < 0 || page >= r.nrPages {
		return fmt.Errorf("ring: migrate: page %d out of range", page)
	}
	if len(newPage) != pageSize {
		return fmt.Errorf("ring: migrate: new page must be %d bytes", pageSize)
	}
	r.migrating.Store(true)
	defer r.migrating.Store(false)

	r.ringMu.Lock()
	defer r.ringMu.Unlock()
	r.completionMu.Lock()
	defer r.completionMu.Unlock()

	copy(r.pages[page*pageSize:(page+1)*pageSize], newPage)
	return nil
}
