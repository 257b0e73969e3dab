package vmm

import (
	"protonos/kernel"
	"protonos/kernel/cpu"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm"
	"unsafe"
)

var (
	// mapFn is used by tests to override calls to Map from within this
	// package (IdentityMapRegion). When compiling the kernel this
	// function will be automatically inlined.
	mapFn = Map

	// nextAddrFn is used by used by tests to override the nextTableAddr
	// calculations used by Map. When compiling the kernel this function
	// will be automatically inlined.
	nextAddrFn = func(entryAddr uintptr) uintptr {
		return entryAddr
	}

	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Calls to Map will use the
// supplied physical frame allocator to initialize missing page tables at each
// paging level supported by the MMU.
func Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	var err *kernel.Error

	visitPageTables(page.Address(), func(level int, entry *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if level == pageLevels-1 {
			entry.assign(frame, flags)
			flushTLBEntryFn(page.Address())
			return true
		}

		if entry.has(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it map it and clear its contents.
		if !entry.has(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = frameAllocator()
			if err != nil {
				return false
			}

			entry.assign(newTableFrame, FlagPresent|FlagRW)

			// The next table becomes reachable through the
			// recursive mapping but its contents are whatever the
			// frame held before; clear it.
			nextTableAddr := uintptr(unsafe.Pointer(entry)) << pageTableIndexBits
			mem.Memset(nextAddrFn(nextTableAddr), 0, uintptr(mem.PageSize))
		}

		return true
	})

	return err
}

// IdentityMapRegion maps the physical memory region starting at frame and
// spanning size bytes to the virtual address numerically equal to its
// physical address. Every mapping this core establishes goes through here:
// firmware tables, the AHCI register block and DMA buffers all live at
// physical addresses that are known before the mapping is needed.
func IdentityMapRegion(frame pmm.Frame, size mem.Size, flags PageTableEntryFlag) (Page, *kernel.Error) {
	startPage := Page(frame)
	pageCount := size.PageCount()
	for page, curFrame := startPage, frame; pageCount > 0; pageCount, page, curFrame = pageCount-1, page+1, curFrame+1 {
		if err := mapFn(page, curFrame, flags); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}
