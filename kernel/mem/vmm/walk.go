package vmm

import (
	"protonos/kernel/mem"
	"unsafe"
)

// ptePtrFn converts an entry address inside the recursive mapping into a
// dereferenceable pointer. Tests substitute it to redirect the walk into
// fake in-memory tables; kernel builds inline the identity conversion.
var ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// levelShift returns the virtual-address bit position of the index field
// consumed at the given level: 39 for the root table, then 30, 21 and
// finally 12 for the page table itself.
func levelShift(level int) uint {
	return uint(mem.PageShift + pageTableIndexBits*(pageLevels-1-level))
}

// visitPageTables descends the active paging structures for virtAddr
// through the recursive self-mapping, invoking visit once per level with a
// pointer to the live entry. The descent starts at the root (level 0) and
// ends at the final page table entry (level pageLevels-1); visit returns
// false to stop early.
//
// At each step the accumulated entry address is shifted left by one index
// field, which peels one layer of self-reference off the recursive mapping
// and lands on the table the current entry points at.
func visitPageTables(virtAddr uintptr, visit func(level int, entry *pageTableEntry) bool) {
	tableAddr := selfMapBase

	for level := 0; level < pageLevels; level++ {
		index := (virtAddr >> levelShift(level)) & pageTableIndexMask
		entryAddr := tableAddr + index<<mem.PointerShift

		if !visit(level, (*pageTableEntry)(ptePtrFn(entryAddr))) {
			return
		}

		tableAddr = entryAddr << pageTableIndexBits
	}
}
