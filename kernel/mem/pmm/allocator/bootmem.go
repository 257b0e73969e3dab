// Package allocator provides the physical frame allocator used to bootstrap
// the kernel. It only ever grows: frames cannot be returned. Subsystems
// that need reuse (the DMA buffer pool) layer their own recycling on top.
package allocator

import (
	"protonos/kernel"
	"protonos/kernel/hal/boot"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm"
)

// regionCap bounds the number of usable RAM ranges tracked by the
// allocator. Firmware memory maps on real machines stay well under this.
const regionCap = 32

var (
	earlyAllocator bootMemAllocator

	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "no usable region can satisfy the request"}
	errBootAllocNoRAM       = &kernel.Error{Module: "boot_mem_alloc", Message: "boot record reported no usable RAM"}
)

// frameRange is a half-open run of allocatable frames. next advances from
// start towards end as frames are handed out.
type frameRange struct {
	start pmm.Frame
	next  pmm.Frame
	end   pmm.Frame
}

// bootMemAllocator hands out physical frames from the available regions of
// the boot memory map.
//
// Unlike an allocator that re-walks the memory map on every request, this
// one digests the map exactly once, at Init: each available region is
// page-aligned inward, clamped against the kernel image (which may split a
// region in two), and recorded as a frame range. Allocation is then a
// first-fit scan over the recorded ranges. Multi-frame requests are served
// from a single range, so the frames of a run are always physically
// contiguous.
type bootMemAllocator struct {
	regions     [regionCap]frameRange
	regionCount int

	allocCount uint64

	kernelStartAddr, kernelEndAddr uintptr
}

// addRange records the frame run [start, end), splitting it around the
// kernel image if the two overlap.
func (alloc *bootMemAllocator) addRange(start, end, kernelStart, kernelEnd pmm.Frame) {
	// Clip against the kernel image; the overlap may leave a usable run
	// on either side of it.
	if start < kernelEnd && end > kernelStart {
		alloc.addRange(start, minFrame(end, kernelStart), kernelStart, kernelStart)
		alloc.addRange(maxFrame(start, kernelEnd), end, kernelStart, kernelStart)
		return
	}

	if start >= end {
		return
	}
	if alloc.regionCount == regionCap {
		kfmt.Printf("[boot_mem_alloc] more than %d usable regions; dropping frames 0x%x - 0x%x\n",
			uint64(regionCap), uintptr(start), uintptr(end))
		return
	}

	alloc.regions[alloc.regionCount] = frameRange{start: start, next: start, end: end}
	alloc.regionCount++
}

func minFrame(a, b pmm.Frame) pmm.Frame {
	if a < b {
		return a
	}
	return b
}

func maxFrame(a, b pmm.Frame) pmm.Frame {
	if a > b {
		return a
	}
	return b
}

// init digests the boot memory map into the region table.
func (alloc *bootMemAllocator) init(kernelStart, kernelEnd uintptr) {
	alloc.kernelStartAddr = kernelStart
	alloc.kernelEndAddr = kernelEnd

	// kernelEnd is the last used address of the image; the frame holding
	// it is still reserved, so the exclusive bound is one past its frame.
	kernelStartFrame := pmm.FrameFromAddress(kernelStart)
	kernelEndFrame := pmm.FrameFromAddress(kernelEnd) + 1

	boot.VisitMemoryMap(func(region *boot.MemoryMapEntry) bool {
		if region.Kind != boot.MemAvailable {
			return true
		}

		// Align the region inward: a partial page at either edge is
		// not allocatable.
		startFrame := pmm.FrameFromAddress(uintptr(region.PhysStart+uint64(mem.PageMask)) &^ mem.PageMask)
		endFrame := pmm.FrameFromAddress(uintptr(region.PhysEnd) &^ mem.PageMask)
		alloc.addRange(startFrame, endFrame, kernelStartFrame, kernelEndFrame)
		return true
	})
}

// allocRun reserves count physically contiguous frames and returns the
// first one. The first range with enough frames left wins; ranges whose
// remainder is too small for this request stay available for smaller ones.
func (alloc *bootMemAllocator) allocRun(count uint64) (pmm.Frame, *kernel.Error) {
	for i := 0; i < alloc.regionCount; i++ {
		region := &alloc.regions[i]
		if uint64(region.end-region.next) < count {
			continue
		}

		first := region.next
		region.next += pmm.Frame(count)
		alloc.allocCount += count
		return first, nil
	}

	return pmm.InvalidFrame, errBootAllocOutOfMemory
}

// printRegionTable reports the digested allocation ranges and the raw
// memory map they came from.
func (alloc *bootMemAllocator) printRegionTable() {
	kfmt.Printf("[boot_mem_alloc] memory map:\n")
	boot.VisitMemoryMap(func(region *boot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, kind: %s\n",
			region.PhysStart, region.PhysEnd, region.PhysEnd-region.PhysStart, region.Kind)
		return true
	})

	var totalFrames uint64
	for i := 0; i < alloc.regionCount; i++ {
		totalFrames += uint64(alloc.regions[i].end - alloc.regions[i].start)
	}
	kfmt.Printf("[boot_mem_alloc] %d usable regions, %dKb allocatable\n",
		uint64(alloc.regionCount), totalFrames*uint64(mem.PageSize/mem.Kb))
	kfmt.Printf("[boot_mem_alloc] kernel image reserved at 0x%x - 0x%x\n",
		alloc.kernelStartAddr, alloc.kernelEndAddr)
}

// Init digests the boot memory map and readies the allocator. It fails if
// the map carries no allocatable RAM at all.
func Init(kernelStart, kernelEnd uintptr) *kernel.Error {
	earlyAllocator.init(kernelStart, kernelEnd)
	earlyAllocator.printRegionTable()

	if earlyAllocator.regionCount == 0 {
		return errBootAllocNoRAM
	}
	return nil
}

// AllocFrame reserves and returns the next available physical frame.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	return earlyAllocator.allocRun(1)
}

// AllocFrameRun reserves count physically contiguous frames and returns the
// first frame of the run. DMA buffers are allocated through this entry
// point so their bus addresses are guaranteed contiguous.
func AllocFrameRun(count uint64) (pmm.Frame, *kernel.Error) {
	return earlyAllocator.allocRun(count)
}
