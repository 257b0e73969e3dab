package boot

import (
	"strings"
	"unsafe"
)

// loadedFileSize is the on-disk size of a loaded-file entry: phys_addr(8) +
// size(8) + name[64] + flags(4) + reserved(4).
const loadedFileSize = 88

// nameFieldLen is the fixed width of the null-terminated name field.
const nameFieldLen = 64

// loadedFileEntry mirrors the on-disk layout of a single loaded-file record.
type loadedFileEntry struct {
	physAddr uint64
	size     uint64
	name     [nameFieldLen]byte
	flags    uint32
	reserved uint32
}

func (e *loadedFileEntry) nameString() string {
	n := 0
	for ; n < len(e.name) && e.name[n] != 0; n++ {
	}
	return string(e.name[:n])
}

func baseName(path string) string {
	if idx := strings.LastIndexAny(path, "/\\"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// FindFile scans the loaded-files table for an entry whose last path
// component matches name, case-insensitively. It returns the physical
// address and size of the matching file, or ok=false if no match exists.
func FindFile(name string) (physAddr uint64, size uint64, ok bool) {
	if recordAddr == 0 {
		return 0, 0, false
	}

	base := uintptr(fieldU64(offLoadedFilesPhys))
	if base == 0 {
		return 0, 0, false
	}

	count := fieldU32(offLoadedFilesCount)
	target := strings.ToLower(baseName(name))

	for i, ptr := uint32(0), base; i < count; i, ptr = i+1, ptr+loadedFileSize {
		entry := (*loadedFileEntry)(unsafe.Pointer(ptr))
		if strings.ToLower(baseName(entry.nameString())) == target {
			return entry.physAddr, entry.size, true
		}
	}

	return 0, 0, false
}
