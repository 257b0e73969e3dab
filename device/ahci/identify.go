package ahci

import "unsafe"

// IDENTIFY DEVICE payload byte offsets. As with the FIS builders, the byte
// layout is the contract: the 512-byte payload is decoded purely through
// these offsets.
const (
	idOffSerial       = 20 // words 10-19
	idLenSerial       = 20
	idOffFirmware     = 46 // words 23-26
	idLenFirmware     = 8
	idOffModel        = 54 // words 27-46
	idLenModel        = 40
	idOffCapacity28   = 120 // words 60-61
	idOffCmdSet2      = 166 // word 83
	idOffCapacity48   = 200 // words 100-103
	idOffSectorInfo   = 212 // word 106
	idOffLogicalSize  = 234 // words 117-118
	identifyBufferLen = 512

	// Bit 10 of word 83 advertises the 48-bit address feature set.
	cmdSet2LBA48 = 1 << 10

	// Word 106: bit 14 set + bit 15 clear marks the word as valid; bit 12
	// flags a logical sector size larger than 256 words.
	sectorInfoValid      = 1 << 14
	sectorInfoValidMask  = 0xc000
	sectorInfoLargeSize  = 1 << 12
	defaultSectorSize    = 512
	maxSupportedSectorSz = 4096
)

// DeviceIdentity carries the subset of the IDENTIFY DEVICE payload the rest
// of the storage stack consumes.
type DeviceIdentity struct {
	SectorCount uint64
	SectorSize  uint32
	Model       string
	Serial      string
	Firmware    string
	LBA48       bool
}

func peek16(base uintptr, off uintptr) uint16 {
	return *(*uint16)(unsafe.Pointer(base + off))
}

func peek32(base uintptr, off uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(base + off))
}

func peek64(base uintptr, off uintptr) uint64 {
	return *(*uint64)(unsafe.Pointer(base + off))
}

// identityString extracts an ATA string field. The payload stores character
// pairs big-endian, so each pair is emitted swapped before the result is
// right-trimmed of padding spaces and NULs.
func identityString(base uintptr, off uintptr, length int) string {
	var buf [idLenModel]byte

	for i := 0; i < length; i += 2 {
		buf[i] = *(*byte)(unsafe.Pointer(base + off + uintptr(i) + 1))
		buf[i+1] = *(*byte)(unsafe.Pointer(base + off + uintptr(i)))
	}

	end := length
	for end > 0 && (buf[end-1] == ' ' || buf[end-1] == 0) {
		end--
	}

	return string(buf[:end])
}

// parseIdentity decodes the 512-byte IDENTIFY (or IDENTIFY PACKET) payload
// at base.
func parseIdentity(base uintptr) DeviceIdentity {
	identity := DeviceIdentity{
		SectorSize: defaultSectorSize,
		Model:      identityString(base, idOffModel, idLenModel),
		Serial:     identityString(base, idOffSerial, idLenSerial),
		Firmware:   identityString(base, idOffFirmware, idLenFirmware),
	}

	identity.LBA48 = peek16(base, idOffCmdSet2)&cmdSet2LBA48 != 0
	if identity.LBA48 {
		identity.SectorCount = peek64(base, idOffCapacity48)
	} else {
		identity.SectorCount = uint64(peek32(base, idOffCapacity28))
	}

	sectorInfo := peek16(base, idOffSectorInfo)
	if sectorInfo&sectorInfoValidMask == sectorInfoValid && sectorInfo&sectorInfoLargeSize != 0 {
		words := peek32(base, idOffLogicalSize)
		if size := words * 2; size > defaultSectorSize && size <= maxSupportedSectorSz {
			identity.SectorSize = size
		}
	}

	return identity
}
