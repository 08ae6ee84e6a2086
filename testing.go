package aioring

import (
	"sync"
	"time"
)

// MockBackend is a test double implementing Backend, adapted from the
// teacher's own MockBackend: every method increments a call counter and
// returns an injectable error/result, so tests can assert dispatch
// behavior without a real filesystem.
type MockBackend struct {
	mu sync.Mutex

	ReadAtCalls      int
	WriteAtCalls     int
	FsyncCalls       int
	PollCalls        int
	OpenAtCalls      int
	UnlinkAtCalls    int
	RenameAtCalls    int
	ReadaheadCalls   int

	ReadAtErr    error
	WriteAtErr   error
	FsyncErr     error
	PollErr      error
	OpenAtErr    error
	UnlinkAtErr  error
	RenameAtErr  error
	ReadaheadErr error

	ReadAtResult    int
	WriteAtResult   int
	PollResult      uint32
	OpenAtResult    int
	ReadaheadResult int

	// FsyncDelay simulates a slow worker-fallback operation, letting
	// tests race a Cancel against an in-flight Fsync.
	FsyncDelay time.Duration
}

var _ Backend = (*MockBackend)(nil)

func (m *MockBackend) ReadAt(fd int, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadAtCalls++
	if m.ReadAtErr != nil {
		return 0, m.ReadAtErr
	}
	if m.ReadAtResult > 0 {
		return m.ReadAtResult, nil
	}
	return len(buf), nil
}

func (m *MockBackend) WriteAt(fd int, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteAtCalls++
	if m.WriteAtErr != nil {
		return 0, m.WriteAtErr
	}
	if m.WriteAtResult > 0 {
		return m.WriteAtResult, nil
	}
	return len(buf), nil
}

func (m *MockBackend) Fsync(fd int, dataOnly bool) error {
	m.mu.Lock()
	m.FsyncCalls++
	delay := m.FsyncDelay
	err := m.FsyncErr
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return err
}

func (m *MockBackend) Poll(fd int, mask uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PollCalls++
	if m.PollErr != nil {
		return 0, m.PollErr
	}
	if m.PollResult != 0 {
		return m.PollResult, nil
	}
	return mask, nil
}

func (m *MockBackend) OpenAt(dirfd int, path string, flags int, mode uint32) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenAtCalls++
	return m.OpenAtResult, m.OpenAtErr
}

func (m *MockBackend) UnlinkAt(dirfd int, path string, flags int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UnlinkAtCalls++
	return m.UnlinkAtErr
}

func (m *MockBackend) RenameAt(olddirfd int, oldpath string, newdirfd int, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RenameAtCalls++
	return m.RenameAtErr
}

func (m *MockBackend) Readahead(fd int, offset int64, count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadaheadCalls++
	if m.ReadaheadErr != nil {
		return 0, m.ReadaheadErr
	}
	if m.ReadaheadResult > 0 {
		return m.ReadaheadResult, nil
	}
	return count, nil
}

// Reset zeroes every call counter, for reuse across subtests.
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadAtCalls = 0
	m.WriteAtCalls = 0
	m.FsyncCalls = 0
	m.PollCalls = 0
	m.OpenAtCalls = 0
	m.UnlinkAtCalls = 0
	m.RenameAtCalls = 0
	m.ReadaheadCalls = 0
}
