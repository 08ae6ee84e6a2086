//go:build linux && cgo

package ring

/*
static inline void ring_sfence(void) {
#if defined(__x86_64__) || defined(__i386__)
	__asm__ __volatile__("sfence" ::: "memory");
#else
	__sync_synchronize();
#endif
}

static inline void ring_mfence(void) {
#if defined(__x86_64__) || defined(__i386__)
	__asm__ __volatile__("mfence" ::: "memory");
#else
	__sync_synchronize();
#endif
}
*/
import "C"

// storeFence orders prior writes before the tail store that follows it,
// matching the release fence required before publishing a record.
func storeFence() { C.ring_sfence() }

// loadFence orders the tail load before the record reads that follow it.
func loadFence() { C.ring_mfence() }
