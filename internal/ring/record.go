package ring

import "encoding/binary"

// Record is one completion: the echoed descriptor pointer, the echoed user
// cookie, and the primary/secondary results. Bit-exact, fixed 32 bytes.
type Record struct {
	Obj  uint64 // echo of the user's request-descriptor pointer
	Data uint64 // echo of the user cookie
	Res  int64  // primary result, or negative error
	Res2 int64  // secondary result
}

// RecordSize is the on-wire size of Record in bytes.
const RecordSize = 32

const (
	recOffObj  = 0
	recOffData = 8
	recOffRes  = 16
	recOffRes2 = 24
)

// MarshalRecord writes r into buf[:RecordSize].
func MarshalRecord(buf []byte, r *Record) {
	_ = buf[RecordSize-1]
	binary.LittleEndian.PutUint64(buf[recOffObj:], r.Obj)
	binary.LittleEndian.PutUint64(buf[recOffData:], r.Data)
	binary.LittleEndian.PutUint64(buf[recOffRes:], uint64(r.Res))
	binary.LittleEndian.PutUint64(buf[recOffRes2:], uint64(r.Res2))
}

// UnmarshalRecord reads a Record out of buf[:RecordSize].
func UnmarshalRecord(buf []byte) Record {
	_ = buf[RecordSize-1]
	return Record{
		Obj:  binary.LittleEndian.Uint64(buf[recOffObj:]),
		Data: binary.LittleEndian.Uint64(buf[recOffData:]),
		Res:  int64(binary.LittleEndian.Uint64(buf[recOffRes:])),
		Res2: int64(binary.LittleEndian.Uint64(buf[recOffRes2:])),
	}
}
