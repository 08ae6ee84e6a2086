// Package ring implements the shared-memory completion ring: a fixed-size
// circular buffer of completion records living in pages mapped into both
// this process and, via a real mmap, any collaborator holding the same fd.
package ring

import (
	"encoding/binary"
	"unsafe"
)

// Magic identifies a page as holding a valid completion-ring header.
const Magic = 0xA10F1017

// Feature bits advertised in CompatFeatures.
const (
	FeatureBasicABI      uint32 = 1 << 0
	FeatureWorkerFallback uint32 = 1 << 1
)

// Header is the bit-exact, little-endian layout written at the start of
// page 0. Field order and widths match the wire contract exactly: readers
// on the other end of the mapping (this module's own Reap, or a foreign
// process holding the same fd) parse these bytes directly, so the struct
// is never used as an in-memory view — only Marshal/Unmarshal touch it.
type Header struct {
	ID               uint32
	Nr               uint32
	Head             uint32
	Tail             uint32
	Magic            uint32
	CompatFeatures   uint32
	IncompatFeatures uint32
	HeaderLength     uint32
}

// HeaderSize is the on-wire size of Header in bytes.
const HeaderSize = 32

// Compile-time assertion that HeaderSize tracks the struct, mirroring the
// teacher's uapi size assertions.
var _ [HeaderSize]byte = [unsafe.Sizeof(Header{})]byte{}

const (
	offID               = 0
	offNr               = 4
	offHead             = 8
	offTail             = 12
	offMagic            = 16
	offCompatFeatures   = 20
	offIncompatFeatures = 24
	offHeaderLength     = 28
)

// MarshalHeader writes h into buf[:HeaderSize].
func MarshalHeader(buf []byte, h *Header) {
	_ = buf[HeaderSize-1]
	binary.LittleEndian.PutUint32(buf[offID:], h.ID)
	binary.LittleEndian.PutUint32(buf[offNr:], h.Nr)
	binary.LittleEndian.PutUint32(buf[offHead:], h.Head)
	binary.LittleEndian.PutUint32(buf[offTail:], h.Tail)
	binary.LittleEndian.PutUint32(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(buf[offCompatFeatures:], h.CompatFeatures)
	binary.LittleEndian.PutUint32(buf[offIncompatFeatures:], h.IncompatFeatures)
	binary.LittleEndian.PutUint32(buf[offHeaderLength:], h.HeaderLength)
}

// UnmarshalHeader reads a Header out of buf[:HeaderSize].
func UnmarshalHeader(buf []byte) Header {
	_ = buf[HeaderSize-1]
	return Header{
		ID:               binary.LittleEndian.Uint32(buf[offID:]),
		Nr:               binary.LittleEndian.Uint32(buf[offNr:]),
		Head:             binary.LittleEndian.Uint32(buf[offHead:]),
		Tail:             binary.LittleEndian.Uint32(buf[offTail:]),
		Magic:            binary.LittleEndian.Uint32(buf[offMagic:]),
		CompatFeatures:   binary.LittleEndian.Uint32(buf[offCompatFeatures:]),
		IncompatFeatures: binary.LittleEndian.Uint32(buf[offIncompatFeatures:]),
		HeaderLength:     binary.LittleEndian.Uint32(buf[offHeaderLength:]),
	}
}

// headField returns a pointer suitable for atomic access to the u32 field
// at byte offset off within buf. buf must be backed by the mmap'd ring
// pages so that atomic loads/stores are visible to any other mapper of the
// same pages, exactly as they would be visible across the migration lock
// in the host this format was translated from.
func headField(buf []byte, off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[off]))
}
