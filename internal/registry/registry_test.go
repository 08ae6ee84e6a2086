package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertThenLookup(t *testing.T) {
	r := New()
	id := r.Insert(0xABCD, "ctx-a")

	v, ok := r.Lookup(id, 0xABCD)
	require.True(t, ok)
	require.Equal(t, "ctx-a", v)
}

func TestLookupRejectsMismatchedHandle(t *testing.T) {
	r := New()
	id := r.Insert(0xABCD, "ctx-a")

	_, ok := r.Lookup(id, 0xDEAD)
	require.False(t, ok)
}

func TestLookupOutOfRangeIsSafe(t *testing.T) {
	r := New()
	_, ok := r.Lookup(9999, 0x1)
	require.False(t, ok)
}

func TestRemoveThenLookupFails(t *testing.T) {
	r := New()
	id := r.Insert(0x1, "ctx-a")
	r.Remove(id)

	_, ok := r.Lookup(id, 0x1)
	require.False(t, ok)
}

func TestGrowsPastInitialCapacity(t *testing.T) {
	r := New()
	ids := make([]uint32, 0, initialSlots*growthFactor+1)
	for i := 0; i < initialSlots*growthFactor+1; i++ {
		ids = append(ids, r.Insert(uint64(i), i))
	}
	for i, id := range ids {
		v, ok := r.Lookup(id, uint64(i))
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestReusesSlotAfterRemove(t *testing.T) {
	r := New()
	id := r.Insert(0x1, "first")
	r.Remove(id)
	id2 := r.Insert(0x2, "second")
	require.Equal(t, id, id2)
}
