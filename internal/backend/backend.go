// Package backend declares the collaborating-filesystem contract that
// Submission Dispatch calls into. The virtual-filesystem layer, page
// cache, and path resolution all live behind this interface rather than
// in this module: it only states what dispatch needs from that
// collaborator.
package backend

// Backend is the collaborator performing actual I/O. A real
// implementation might be backed by os.File, a block device, or (as in
// Memory, see mem.go) plain RAM; the dispatch layer never assumes which.
type Backend interface {
	ReadAt(fd int, buf []byte, offset int64) (int, error)
	WriteAt(fd int, buf []byte, offset int64) (int, error)
	Fsync(fd int, dataOnly bool) error
	Poll(fd int, mask uint32) (raised uint32, err error)
	OpenAt(dirfd int, path string, flags int, mode uint32) (int, error)
	UnlinkAt(dirfd int, path string, flags int) error
	RenameAt(olddirfd int, oldpath string, newdirfd int, newpath string) error
	Readahead(fd int, offset int64, count int) (int, error)
}
