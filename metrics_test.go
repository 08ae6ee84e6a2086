package aioring

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsSnapshotCountsCompletionsAndErrors(t *testing.T) {
	m := NewMetrics()
	m.RecordContextCreated()
	m.RecordSubmissions(3)
	m.RecordCancellation()
	m.RecordCompletion(5 * time.Millisecond)
	m.RecordCompletion(2 * time.Second)
	m.RecordError()
	m.RecordReap(2)

	snap := m.Snapshot()
	require.Equal(t, uint64(1), snap.ContextsCreated)
	require.Equal(t, uint64(3), snap.Submissions)
	require.Equal(t, uint64(1), snap.Cancellations)
	require.Equal(t, uint64(2), snap.Completions)
	require.Equal(t, uint64(1), snap.Errors)
	require.Equal(t, uint64(1), snap.ReapBatches)
	require.Equal(t, uint64(2), snap.ReapedRecords)
	require.Greater(t, snap.P99Latency, snap.P50Latency)
}

// recordingObserver collects every callback under a mutex since Submit and
// the worker-fallback completion goroutine call it from different
// goroutines.
type recordingObserver struct {
	mu        sync.Mutex
	submits   []Opcode
	completes []Opcode
	cancels   []Opcode
}

func (o *recordingObserver) OnSubmit(opcode Opcode, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := 0; i < n; i++ {
		o.submits = append(o.submits, opcode)
	}
}

func (o *recordingObserver) OnComplete(opcode Opcode, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completes = append(o.completes, opcode)
}

func (o *recordingObserver) OnCancel(opcode Opcode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels = append(o.cancels, opcode)
}

func (o *recordingObserver) completeCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.completes)
}

func TestObserverSeesSubmitAndCompleteForWorkerFallbackOp(t *testing.T) {
	mock := &MockBackend{}
	cfg := DefaultConfig()
	cfg.Backend = mock
	obs := &recordingObserver{}
	cfg.Observer = obs
	sys, err := NewSystem(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })

	handle, err := sys.Setup(4)
	require.NoError(t, err)

	n, err := sys.Submit(handle, []Descriptor{{Opcode: OpFsync, FD: 0}})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = sys.GetEvents(handle, 1, 1, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return obs.completeCount() == 1 }, time.Second, 5*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, []Opcode{OpFsync}, obs.submits)
	require.Equal(t, []Opcode{OpFsync}, obs.completes)

	snap := sys.Metrics()
	require.Equal(t, uint64(1), snap.Submissions)
	require.Equal(t, uint64(1), snap.Completions)
}

func TestNoOpObserverSatisfiesInterfaceWithoutPanicking(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.OnSubmit(OpRead, 1)
	o.OnComplete(OpRead, time.Millisecond, nil)
	o.OnCancel(OpRead)
}
