//go:build !giouring

package nativering

import "fmt"

// stubRing is the default build: no native async path, so every opcode
// that could use one falls back to the worker pool. This matches the
// teacher's own default (minimal.go) build when the giouring tag is
// absent.
type stubRing struct {
	events chan CompletionEvent
}

// New returns the build's native ring. Without the giouring tag it is
// always unavailable.
func New(entries uint32) (Ring, error) {
	return &stubRing{events: make(chan CompletionEvent)}, nil
}

func (s *stubRing) Available() bool { return false }

func (s *stubRing) SubmitRead(fd int, buf []byte, offset int64, userData uint64) error {
	return fmt.Errorf("nativering: not available in this build (rebuild with -tags giouring)")
}

func (s *stubRing) SubmitWrite(fd int, buf []byte, offset int64, userData uint64) error {
	return fmt.Errorf("nativering: not available in this build (rebuild with -tags giouring)")
}

func (s *stubRing) Completions() <-chan CompletionEvent { return s.events }

func (s *stubRing) Close() error { return nil }
