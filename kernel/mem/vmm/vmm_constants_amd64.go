package vmm

import "math"

const (
	// pageLevels is the depth of the amd64 page table tree.
	pageLevels = 4

	// pageTableIndexBits is the number of virtual address bits consumed
	// per level: each table holds 1<<pageTableIndexBits entries.
	pageTableIndexBits = 9

	// pageTableIndexMask extracts a single level's index from a shifted
	// virtual address.
	pageTableIndexMask = (1 << pageTableIndexBits) - 1

	// ptePhysPageMask extracts the physical address bits (12-51) of a
	// page table entry.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

var (
	// selfMapBase exploits the recursive entry installed in the last
	// slot of the top-level page table: with every index field set to
	// all-ones, the MMU keeps re-entering the top table and the final
	// load lands inside the table itself, making every paging structure
	// addressable without explicit mappings.
	selfMapBase = uintptr(math.MaxUint64 &^ ((1 << 12) - 1))
)

const (
	// FlagPresent is set when the page is available in memory and not swapped out.
	FlagPresent PageTableEntryFlag = 1 << iota

	// FlagRW is set if the page can be written to.
	FlagRW

	// FlagUserAccessible is set if user-mode processes can access this page. If
	// not set only kernel code can access this page.
	FlagUserAccessible

	// FlagWriteThroughCaching implies write-through caching when set and write-back
	// caching if cleared.
	FlagWriteThroughCaching

	// FlagDoNotCache prevents this page from being cached if set. MMIO
	// mappings (AHCI HBA registers, ACPI tables) always set this flag.
	FlagDoNotCache

	// FlagAccessed is set by the CPU when this page is accessed.
	FlagAccessed

	// FlagDirty is set by the CPU when this page is modified.
	FlagDirty

	// FlagHugePage is set if when using 2Mb pages instead of 4K pages.
	FlagHugePage

	// FlagGlobal if set, prevents the TLB from flushing the cached memory address
	// for this page when the swapping page tables by updating the CR3 register.
	FlagGlobal

	// FlagNoExecute if set, indicates that a page contains non-executable code.
	FlagNoExecute = 1 << 63
)
