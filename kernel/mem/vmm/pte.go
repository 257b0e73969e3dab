package vmm

import "protonos/kernel/mem/pmm"

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry is one slot of a paging structure: the physical frame of
// the next-level table (or of the final page) packed together with its
// attribute flags.
type pageTableEntry uintptr

// has returns true if every flag in flags is set on the entry.
func (e pageTableEntry) has(flags PageTableEntryFlag) bool {
	return uintptr(e)&uintptr(flags) == uintptr(flags)
}

// assign overwrites the whole entry: any previous frame and flag state is
// replaced by the given frame and exactly the given flags.
func (e *pageTableEntry) assign(frame pmm.Frame, flags PageTableEntryFlag) {
	*e = pageTableEntry((frame.Address() & ptePhysPageMask) | uintptr(flags))
}
