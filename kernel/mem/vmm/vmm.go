// Package vmm implements a minimal virtual memory manager used to map
// physical memory regions (ACPI tables, AHCI MMIO register blocks, DMA
// buffers) into the kernel's address space. Unlike a general-purpose
// process VMM, this package never services page faults: every mapping
// this core needs is established eagerly, by address, before use.
package vmm

import (
	"protonos/kernel"
	"protonos/kernel/mem/pmm"
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (pmm.Frame, *kernel.Error)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn
)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) {
	frameAllocator = allocFn
}
