package admission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReqBatchFormula(t *testing.T) {
	c := New(8)
	require.GreaterOrEqual(t, c.ReqBatch(), int64(1))
}

func TestReserveAndReleaseConserveSlots(t *testing.T) {
	c := New(8)
	before := c.Available()
	require.True(t, c.ReserveOne())
	require.Equal(t, before-1, c.Available())
	c.Release(1)
	require.Equal(t, before, c.Available())
}

func TestReserveFailsWhenExhausted(t *testing.T) {
	c := New(1) // budget == nr-1 == 0
	require.False(t, c.ReserveOne())
}

func TestNoLostSlotOnFailedReserve(t *testing.T) {
	c := New(1)
	before := c.Available()
	ok := c.ReserveOne()
	require.False(t, ok)
	require.Equal(t, before, c.Available())
}

func TestUserRefillReturnsSlotsToGlobal(t *testing.T) {
	c := New(8)
	// Drain the whole budget through repeated reserves.
	for c.ReserveOne() {
	}
	require.False(t, c.ReserveOne())

	c.UserRefill(3, 3, 3)
	require.Equal(t, int64(3), c.Available())
	require.True(t, c.ReserveOne())
}

func TestCapacityInvariantHolds(t *testing.T) {
	c := New(16)
	budget := c.Available()
	reserved := 0
	for i := 0; i < 5; i++ {
		if c.ReserveOne() {
			reserved++
		}
	}
	require.Equal(t, budget, c.Available()+int64(reserved))
	for i := 0; i < reserved; i++ {
		c.Release(1)
	}
	require.Equal(t, budget, c.Available())
}
