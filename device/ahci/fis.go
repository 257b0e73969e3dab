package ahci

import "unsafe"

// The command structures are defined by their byte layout, not by a Go
// struct: every field below is written through an explicit offset. The
// struct-free representation is the contract with the hardware; a unit test
// pins the builder output against the documented byte dumps.

// Host-to-device register FIS layout (20 bytes).
const (
	fisTypeH2D = 0x27

	fisOffType     = 0
	fisOffFlags    = 1 // bit 7: C (command) bit
	fisOffCommand  = 2
	fisOffFeatLo   = 3
	fisOffLBA0     = 4
	fisOffLBA1     = 5
	fisOffLBA2     = 6
	fisOffDevice   = 7
	fisOffLBA3     = 8
	fisOffLBA4     = 9
	fisOffLBA5     = 10
	fisOffFeatHi   = 11
	fisOffCountLo  = 12
	fisOffCountHi  = 13
	fisOffICC      = 14
	fisOffControl  = 15
	fisH2DSize     = 20
	fisFlagCommand = 0x80

	// deviceLBAMode selects LBA addressing in the device register.
	deviceLBAMode = 0x40
)

// Command header layout (32 bytes per slot, 32 slots in the command list).
const (
	hdrOffFlags1   = 0 // CFL in bits 0..4, A(5), W(6), P(7)
	hdrOffFlags2   = 1 // R(0), B(1), C(2), PMP(4..7)
	hdrOffPRDTL    = 2 // uint16: number of PRDT entries
	hdrOffPRDBC    = 4 // uint32: bytes transferred, written by the HBA
	hdrOffCTBA     = 8 // uint64: command table base address
	hdrSize        = 32
	hdrFlags1Write = 1 << 6
	hdrFlags2Clear = 1 << 2 // C: clear busy upon R_OK

	// cfisLenDwords is the command FIS length in dwords: a 20-byte H2D
	// register FIS.
	cfisLenDwords = 5
)

// Command table layout: the command FIS occupies the first 64 bytes, the
// ATAPI command area the next 16, and the PRDT starts at offset 0x80.
const (
	tblOffPRDT = 0x80

	// PRDT entry layout (16 bytes): data base address (8), reserved (4),
	// then the interrupt bit and the byte count encoded as count-1 in the
	// low 22 bits of the final dword.
	prdtOffDataAddr = 0
	prdtOffDW3      = 12
	prdtEntrySize   = 16

	// prdtMaxBytes is the largest transfer a single PRDT entry can carry
	// (the 22-bit count-minus-one field, even byte counts only).
	prdtMaxBytes = 1 << 22
)

func poke8(base uintptr, off uintptr, val uint8) {
	*(*uint8)(unsafe.Pointer(base + off)) = val
}

func poke16(base uintptr, off uintptr, val uint16) {
	*(*uint16)(unsafe.Pointer(base + off)) = val
}

func poke32(base uintptr, off uintptr, val uint32) {
	*(*uint32)(unsafe.Pointer(base + off)) = val
}

func poke64(base uintptr, off uintptr, val uint64) {
	*(*uint64)(unsafe.Pointer(base + off)) = val
}

// writeH2DFIS builds a host-to-device register FIS at the start of the
// port's command table. The C bit is always set: this driver only ever
// sends command FISes, never control updates.
func (port *Port) writeH2DFIS(cmd uint8, lba uint64, count uint16, device uint8) {
	base := port.cmdTable.VirtAddr()

	for off := uintptr(0); off < fisH2DSize; off++ {
		poke8(base, off, 0)
	}

	poke8(base, fisOffType, fisTypeH2D)
	poke8(base, fisOffFlags, fisFlagCommand)
	poke8(base, fisOffCommand, cmd)
	poke8(base, fisOffLBA0, uint8(lba))
	poke8(base, fisOffLBA1, uint8(lba>>8))
	poke8(base, fisOffLBA2, uint8(lba>>16))
	poke8(base, fisOffDevice, device)
	poke8(base, fisOffLBA3, uint8(lba>>24))
	poke8(base, fisOffLBA4, uint8(lba>>32))
	poke8(base, fisOffLBA5, uint8(lba>>40))
	poke8(base, fisOffCountLo, uint8(count))
	poke8(base, fisOffCountHi, uint8(count>>8))
}

// writePRDTEntry fills PRDT slot index of the port's command table. The
// hardware encodes the transfer length as byteCount-1.
func (port *Port) writePRDTEntry(index int, dataPhys uintptr, byteCount uint32) {
	entry := port.cmdTable.VirtAddr() + tblOffPRDT + uintptr(index)*prdtEntrySize

	poke64(entry, prdtOffDataAddr, uint64(dataPhys))
	poke32(entry, 8, 0)
	poke32(entry, prdtOffDW3, (byteCount-1)&0x3fffff)
}

// writeCommandHeader fills command list slot 0. The CTBA field always holds
// this port's command table; it is programmed here on every command rather
// than once so a corrupted list self-heals on the next issue.
func (port *Port) writeCommandHeader(write bool, prdtCount uint16) {
	hdr := port.cmdList.VirtAddr()

	flags1 := uint8(cfisLenDwords)
	if write {
		flags1 |= hdrFlags1Write
	}

	poke8(hdr, hdrOffFlags1, flags1)
	poke8(hdr, hdrOffFlags2, hdrFlags2Clear)
	poke16(hdr, hdrOffPRDTL, prdtCount)
	poke32(hdr, hdrOffPRDBC, 0)
	poke64(hdr, hdrOffCTBA, uint64(port.cmdTable.PhysAddr()))
}
