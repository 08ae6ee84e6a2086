package aioring

import (
	"time"

	"github.com/ioplex/aioring/internal/aerr"
	"github.com/ioplex/aioring/internal/ring"
)

// Record is one completion: the echoed descriptor key, the echoed user
// cookie, and the primary/secondary results.
type Record = ring.Record

// GetEvents implements get_events(handle, min, max, out, timeout):
// nil timeout waits forever, a zero timeout polls once, and anything else
// bounds how long to wait for at least min records to accumulate.
func (s *System) GetEvents(handle Handle, min, max int, timeout *time.Duration) ([]Record, error) {
	if min < 0 || max < min {
		return nil, aerr.New("GetEvents", aerr.CodeInvalidArgument, "invalid min/max")
	}
	ctx, err := s.lookup(handle)
	if err != nil {
		return nil, err
	}
	if max == 0 {
		return nil, nil
	}

	out := make([]Record, max)
	total := 0
	tryReap := func() {
		if total >= max {
			return
		}
		total += ctx.Ring.Reap(out[total:max])
	}

	tryReap()
	if timeout != nil && *timeout == 0 {
		s.metrics.RecordReap(total)
		return out[:total], nil
	}
	if total >= min {
		s.metrics.RecordReap(total)
		return out[:total], nil
	}

	var deadline *time.Time
	if timeout != nil {
		d := time.Now().Add(*timeout)
		deadline = &d
	}

	ctx.WaitUntil(func() bool {
		tryReap()
		return total >= min
	}, deadline)

	s.metrics.RecordReap(total)
	return out[:total], nil
}
