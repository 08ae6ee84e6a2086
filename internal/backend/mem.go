package backend

import (
	"fmt"
	"sync"
)

// ShardSize is the granularity of the per-region locks guarding Memory,
// chosen to avoid a single mutex serializing every request.
const ShardSize = 64 * 1024

// Memory is an in-RAM Backend over a fixed-size byte array per fd,
// intended for tests and the aioringctl demo CLI rather than production
// use.
type Memory struct {
	mu    sync.RWMutex
	files map[int][]byte

	shardMu []sync.RWMutex
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		files:   make(map[int][]byte),
		shardMu: make([]sync.RWMutex, 256),
	}
}

// CreateFile registers fd with an initial size, returning an error if fd
// is already registered.
func (m *Memory) CreateFile(fd int, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[fd]; ok {
		return fmt.Errorf("backend: fd %d already exists", fd)
	}
	m.files[fd] = make([]byte, size)
	return nil
}

func (m *Memory) shard(offset int64) *sync.RWMutex {
	idx := (offset / ShardSize) % int64(len(m.shardMu))
	return &m.shardMu[idx]
}

func (m *Memory) file(fd int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fd]
	if !ok {
		return nil, fmt.Errorf("backend: unknown fd %d", fd)
	}
	return f, nil
}

func (m *Memory) ReadAt(fd int, buf []byte, offset int64) (int, error) {
	f, err := m.file(fd)
	if err != nil {
		return 0, err
	}
	sh := m.shard(offset)
	sh.RLock()
	defer sh.RUnlock()
	if offset >= int64(len(f)) {
		return 0, nil
	}
	n := copy(buf, f[offset:])
	return n, nil
}

func (m *Memory) WriteAt(fd int, buf []byte, offset int64) (int, error) {
	f, err := m.file(fd)
	if err != nil {
		return 0, err
	}
	sh := m.shard(offset)
	sh.Lock()
	defer sh.Unlock()
	end := offset + int64(len(buf))
	if end > int64(len(f)) {
		return 0, fmt.Errorf("backend: write past end of fd %d", fd)
	}
	n := copy(f[offset:], buf)
	return n, nil
}

func (m *Memory) Fsync(fd int, dataOnly bool) error {
	_, err := m.file(fd)
	return err
}

func (m *Memory) Poll(fd int, mask uint32) (uint32, error) {
	_, err := m.file(fd)
	if err != nil {
		return 0, err
	}
	return mask, nil
}

func (m *Memory) OpenAt(dirfd int, path string, flags int, mode uint32) (int, error) {
	return 0, fmt.Errorf("backend: memory backend does not support OpenAt")
}

func (m *Memory) UnlinkAt(dirfd int, path string, flags int) error {
	return fmt.Errorf("backend: memory backend does not support UnlinkAt")
}

func (m *Memory) RenameAt(olddirfd int, oldpath string, newdirfd int, newpath string) error {
	return fmt.Errorf("backend: memory backend does not support RenameAt")
}

func (m *Memory) Readahead(fd int, offset int64, count int) (int, error) {
	f, err := m.file(fd)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(f)) {
		return 0, nil
	}
	n := count
	if offset+int64(n) > int64(len(f)) {
		n = int(int64(len(f)) - offset)
	}
	return n, nil
}

var _ Backend = (*Memory)(nil)
