package boot

import "unsafe"

// rawHeader mirrors the boot record's fixed header using ordinary Go struct
// fields. It exists only to cross-check the offset-based accessors against
// the struct representation a reader would otherwise expect; the canonical
// contract is the byte layout, not this struct.
type rawHeader struct {
	Magic             uint64
	Version           uint32
	Flags             uint32
	MemoryMapPhys     uint64
	EntriesCount      uint32
	EntrySize         uint32
	KernelPhysBase    uint64
	KernelVirtBase    uint64
	KernelSize        uint64
	KernelEntryOffset uint64
	LoadedFilesPhys   uint64
	LoadedFilesCount  uint32
	Reserved0         uint32
	AcpiRSDP          uint64
	FramebufferPhys   uint64
	Width             uint32
	Height            uint32
	Pitch             uint32
	Bpp               uint32
	SerialPort        uint32
}

func init() {
	// Assert at package-init time of the test binary that every field of
	// rawHeader lands at the byte offset the accessor constants expect.
	var h rawHeader
	base := uintptr(unsafe.Pointer(&h))
	offsetsMustMatch(map[uintptr]uintptr{
		uintptr(unsafe.Pointer(&h.Magic)) - base:             offMagic,
		uintptr(unsafe.Pointer(&h.Version)) - base:           offVersion,
		uintptr(unsafe.Pointer(&h.Flags)) - base:             offFlags,
		uintptr(unsafe.Pointer(&h.MemoryMapPhys)) - base:     offMemoryMapPhys,
		uintptr(unsafe.Pointer(&h.EntriesCount)) - base:      offEntriesCount,
		uintptr(unsafe.Pointer(&h.EntrySize)) - base:         offEntrySize,
		uintptr(unsafe.Pointer(&h.KernelPhysBase)) - base:    offKernelPhysBase,
		uintptr(unsafe.Pointer(&h.KernelVirtBase)) - base:    offKernelVirtBase,
		uintptr(unsafe.Pointer(&h.KernelSize)) - base:        offKernelSize,
		uintptr(unsafe.Pointer(&h.KernelEntryOffset)) - base: offKernelEntryOffset,
		uintptr(unsafe.Pointer(&h.LoadedFilesPhys)) - base:   offLoadedFilesPhys,
		uintptr(unsafe.Pointer(&h.LoadedFilesCount)) - base:  offLoadedFilesCount,
		uintptr(unsafe.Pointer(&h.Reserved0)) - base:         offReserved0,
		uintptr(unsafe.Pointer(&h.AcpiRSDP)) - base:          offAcpiRSDP,
		uintptr(unsafe.Pointer(&h.FramebufferPhys)) - base:   offFramebufferPhys,
		uintptr(unsafe.Pointer(&h.Width)) - base:             offWidth,
		uintptr(unsafe.Pointer(&h.Height)) - base:             offHeight,
		uintptr(unsafe.Pointer(&h.Pitch)) - base:             offPitch,
		uintptr(unsafe.Pointer(&h.Bpp)) - base:                offBpp,
		uintptr(unsafe.Pointer(&h.SerialPort)) - base:         offSerialPort,
	})
}

// offsetsMustMatch panics (at init time, in a test binary only) if any
// struct-derived offset disagrees with the corresponding accessor constant.
func offsetsMustMatch(got map[uintptr]uintptr) {
	for structOff, constOff := range got {
		if structOff != constOff {
			panic("boot record offset mismatch between struct layout and wire constants")
		}
	}
}
