// Package dma hands out physically contiguous, identity-mapped memory
// regions suitable for device-initiated transfers. Buffers are page-granular
// so every buffer satisfies the 1KiB/256B/128B alignment requirements of the
// AHCI command structures.
package dma

import (
	"protonos/kernel"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm/allocator"
	"protonos/kernel/mem/vmm"
	"protonos/kernel/sync"
)

var (
	errFreeListFull   = &kernel.Error{Module: "dma", Message: "free list full; buffer leaked"}
	errZeroSizedAlloc = &kernel.Error{Module: "dma", Message: "zero-sized allocation"}

	frameRunFn    = allocator.AllocFrameRun
	identityMapFn = vmm.IdentityMapRegion
)

// Buffer describes a physically contiguous region shared with a device. The
// physical address is recorded alongside the virtual view: the device is
// programmed with PhysAddr while the kernel reads and writes through
// VirtAddr.
type Buffer struct {
	virtAddr uintptr
	physAddr uintptr
	frames   int
}

// VirtAddr returns the kernel-visible address of the buffer.
func (b *Buffer) VirtAddr() uintptr { return b.virtAddr }

// PhysAddr returns the bus address the device must be programmed with.
func (b *Buffer) PhysAddr() uintptr { return b.physAddr }

// Size returns the usable size of the buffer in bytes.
func (b *Buffer) Size() mem.Size { return mem.Size(b.frames) * mem.PageSize }

// Valid returns true if the buffer describes an allocated region.
func (b *Buffer) Valid() bool { return b.frames != 0 }

// BufferAt wraps an already-mapped, physically contiguous region as a
// Buffer. The region is not tracked by this package; passing it to Free
// parks it on the free list like any allocated buffer.
func BufferAt(virtAddr, physAddr uintptr, size mem.Size) Buffer {
	return Buffer{
		virtAddr: virtAddr,
		physAddr: physAddr,
		frames:   int(size.PageCount()),
	}
}

// freeListCap bounds the number of released buffers that can be parked for
// reuse. The early frame allocator cannot take frames back, so released
// buffers are recycled from here instead.
const freeListCap = 16

var (
	freeList    [freeListCap]Buffer
	freeListLen int

	// freeListLock serializes free-list access. Boot runs single-threaded
	// on the BSP, but buffers are also released from teardown paths that
	// will eventually run on other processors.
	freeListLock sync.Spinlock
)

// Alloc returns a zeroed, physically contiguous buffer of at least size
// bytes, rounded up to whole pages. The frames come either from a
// previously released buffer of the same page count or from a fresh
// contiguous run reserved through the frame allocator.
func Alloc(size mem.Size) (Buffer, *kernel.Error) {
	if size == 0 {
		return Buffer{}, errZeroSizedAlloc
	}

	frames := int(size.PageCount())

	freeListLock.Acquire()
	for i := 0; i < freeListLen; i++ {
		if freeList[i].frames != frames {
			continue
		}

		buf := freeList[i]
		freeListLen--
		freeList[i] = freeList[freeListLen]
		freeListLock.Release()

		mem.Memset(buf.virtAddr, 0, uintptr(buf.Size()))
		return buf, nil
	}
	freeListLock.Release()

	firstFrame, err := frameRunFn(uint64(frames))
	if err != nil {
		return Buffer{}, err
	}

	page, err := identityMapFn(firstFrame, mem.Size(frames)*mem.PageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache)
	if err != nil {
		return Buffer{}, err
	}

	buf := Buffer{
		virtAddr: page.Address(),
		physAddr: firstFrame.Address(),
		frames:   frames,
	}
	mem.Memset(buf.virtAddr, 0, uintptr(buf.Size()))
	return buf, nil
}

// Free releases buf for reuse by a later Alloc of the same page count. The
// caller must guarantee the device holds no further references to the
// region. Buffers that do not fit the free list are leaked with a logged
// warning; this can only happen if teardown outpaces reuse.
func Free(buf *Buffer) {
	if !buf.Valid() {
		return
	}

	freeListLock.Acquire()
	if freeListLen == freeListCap {
		freeListLock.Release()
		kfmt.Printf("[dma] %s\n", errFreeListFull.Message)
		*buf = Buffer{}
		return
	}

	freeList[freeListLen] = *buf
	freeListLen++
	freeListLock.Release()
	*buf = Buffer{}
}
