package vmm

import (
	"protonos/kernel/mem"
	"testing"
	"unsafe"
)

func TestVisitPageTablesVisitsEachLevel(t *testing.T) {
	defer func() {
		ptePtrFn = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	}()

	var (
		fakeEntries [pageLevels]pageTableEntry
		entryAddrs  []uintptr
		levels      []int
	)

	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		entryAddrs = append(entryAddrs, entryAddr)
		return unsafe.Pointer(&fakeEntries[len(entryAddrs)-1])
	}

	virtAddr := uintptr(0xffff808812345000)
	visitPageTables(virtAddr, func(level int, entry *pageTableEntry) bool {
		levels = append(levels, level)
		if entry != &fakeEntries[level] {
			t.Errorf("level %d: visit received the wrong entry pointer", level)
		}
		return true
	})

	if len(levels) != pageLevels {
		t.Fatalf("expected %d visited levels; got %d", pageLevels, len(levels))
	}
	for i, level := range levels {
		if level != i {
			t.Fatalf("expected levels in descending table order; got %v", levels)
		}
	}

	// Every entry address must be entry-aligned, and its index field must
	// match the index bits the virtual address carries for that level.
	for level, entryAddr := range entryAddrs {
		if entryAddr&((1<<mem.PointerShift)-1) != 0 {
			t.Errorf("level %d: entry address 0x%x is not entry-aligned", level, entryAddr)
		}

		expIndex := (virtAddr >> levelShift(level)) & pageTableIndexMask
		if gotIndex := (entryAddr >> mem.PointerShift) & pageTableIndexMask; gotIndex != expIndex {
			t.Errorf("level %d: expected index %d encoded in the entry address; got %d",
				level, expIndex, gotIndex)
		}
	}

	// The root entry must come out of the recursive self-mapping.
	if exp := selfMapBase + ((virtAddr>>levelShift(0))&pageTableIndexMask)<<mem.PointerShift; entryAddrs[0] != exp {
		t.Fatalf("expected the root entry at 0x%x; got 0x%x", exp, entryAddrs[0])
	}
}

func TestVisitPageTablesStopsWhenAsked(t *testing.T) {
	defer func() {
		ptePtrFn = func(entryAddr uintptr) unsafe.Pointer { return unsafe.Pointer(entryAddr) }
	}()

	var fakeEntry pageTableEntry
	ptePtrFn = func(entryAddr uintptr) unsafe.Pointer {
		return unsafe.Pointer(&fakeEntry)
	}

	visits := 0
	visitPageTables(0xffff800000000000, func(level int, entry *pageTableEntry) bool {
		visits++
		return level < 1
	})

	if visits != 2 {
		t.Fatalf("expected the walk to stop after level 1; visited %d levels", visits)
	}
}

func TestLevelShifts(t *testing.T) {
	exp := []uint{39, 30, 21, 12}
	for level := 0; level < pageLevels; level++ {
		if got := levelShift(level); got != exp[level] {
			t.Errorf("level %d: expected shift %d; got %d", level, exp[level], got)
		}
	}
}
