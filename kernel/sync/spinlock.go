// Package sync provides the synchronization primitives the kernel needs
// before and after secondary processors are released.
package sync

import "sync/atomic"

// yieldAfterSpins bounds how long Acquire spins before invoking the yield
// hook (when one is registered).
const yieldAfterSpins = 1024

// yieldFn, when non-nil, is invoked periodically while a lock is
// contended. The kernel leaves it nil until a scheduler exists; tests set
// it to runtime.Gosched so contending goroutines can make progress.
var yieldFn func()

// Spinlock is a busy-wait mutual exclusion lock built on a single
// compare-and-swap word. The zero value is an unlocked lock.
//
// During early boot every core subsystem runs single-threaded on the BSP,
// so the locks guarding shared state (the DMA free list) are expected to be
// uncontended; the spin path exists for the later SMP stages.
type Spinlock struct {
	locked uint32
}

// Acquire spins until the lock is obtained. Re-acquiring a lock already
// held by the caller deadlocks.
func (l *Spinlock) Acquire() {
	for spins := 0; !l.TryToAcquire(); spins++ {
		if yieldFn != nil && spins%yieldAfterSpins == 0 {
			yieldFn()
		}
	}
}

// TryToAcquire attempts a single lock acquisition, reporting whether the
// lock was obtained.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.locked, 0, 1)
}

// Release unlocks the lock. Releasing an unlocked lock is a no-op.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.locked, 0)
}
