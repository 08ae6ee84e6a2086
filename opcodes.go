package aioring

import (
	"github.com/ioplex/aioring/internal/backend"
	"github.com/ioplex/aioring/internal/dispatch"
)

// Opcode identifies which operation a descriptor requests. See the
// package-level opcode table in SPEC_FULL.md §4.6 for the full semantics
// of each value.
type Opcode = dispatch.Opcode

const (
	OpRead      = dispatch.OpRead
	OpWrite     = dispatch.OpWrite
	OpReadv     = dispatch.OpReadv
	OpWritev    = dispatch.OpWritev
	OpFsync     = dispatch.OpFsync
	OpFdsync    = dispatch.OpFdsync
	OpPoll      = dispatch.OpPoll
	OpOpenat    = dispatch.OpOpenat
	OpUnlinkat  = dispatch.OpUnlinkat
	OpRenameat  = dispatch.OpRenameat
	OpReadahead = dispatch.OpReadahead
)

// Descriptor is a single submission entry, the public counterpart to the
// kernel's userspace request descriptor.
type Descriptor = dispatch.Descriptor

// Backend is the pluggable collaborator that performs actual I/O for
// every opcode; the virtual-filesystem layer stays out of this module
// entirely. See internal/backend for the interface definition;
// re-exported here so callers never need to import an internal package.
type Backend = backend.Backend

// MemoryBackend is a ready-to-use in-RAM Backend, handy for tests and the
// aioringctl demo CLI.
type MemoryBackend = backend.Memory

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend { return backend.NewMemory() }
