package ahci

import (
	"sync/atomic"
	"unsafe"
)

// Generic host control register offsets, relative to the start of the HBA
// MMIO region (BAR5).
const (
	regCAP  = 0x00
	regGHC  = 0x04
	regIS   = 0x08
	regPI   = 0x0c
	regVS   = 0x10
	regCAP2 = 0x24
)

// The port register banks follow the generic registers: port i occupies
// 0x80 bytes starting at 0x100 + i*0x80.
const (
	portRegBase = 0x100
	portRegSize = 0x80
)

// Per-port register offsets, relative to the start of the port's bank.
const (
	regPxCLB  = 0x00
	regPxCLBU = 0x04
	regPxFB   = 0x08
	regPxFBU  = 0x0c
	regPxIS   = 0x10
	regPxIE   = 0x14
	regPxCMD  = 0x18
	regPxTFD  = 0x20
	regPxSIG  = 0x24
	regPxSSTS = 0x28
	regPxSCTL = 0x2c
	regPxSERR = 0x30
	regPxSACT = 0x34
	regPxCI   = 0x38
)

// CAP bits.
const (
	capNPMask   = 0x1f    // number of ports - 1
	capNCSShift = 8       // number of command slots - 1, 5 bits
	capSAM      = 1 << 18 // AHCI-mode-only controller
	capS64A     = 1 << 31 // 64-bit addressing supported
)

// GHC bits.
const (
	ghcAE = 1 << 31 // AHCI enable
)

// PxCMD bits.
const (
	cmdST  = 1 << 0  // start command engine
	cmdFRE = 1 << 4  // FIS receive enable
	cmdFR  = 1 << 14 // FIS receive running
	cmdCR  = 1 << 15 // command list running
)

// PxIS bits checked while a command is in flight. IFS and the host-bus
// errors are fatal for the port; TFES only fails the command.
const (
	isIFS  = 1 << 27 // interface fatal error
	isHBDS = 1 << 28 // host bus data error
	isHBFS = 1 << 29 // host bus fatal error
	isTFES = 1 << 30 // task file error

	isErrMask   = isIFS | isHBDS | isHBFS | isTFES
	isFatalMask = isIFS | isHBDS | isHBFS
)

// PxSSTS fields.
const (
	sstsDETMask    = 0xf
	sstsDETPresent = 0x3 // device present with established PHY
	sstsIPMShift   = 8
	sstsIPMMask    = 0xf
	sstsIPMActive  = 0x1
)

// PxTFD fields. The low byte mirrors the ATA status register.
const (
	tfdStatusERR = 1 << 0
	tfdStatusBSY = 1 << 7
)

// Device signatures reported through PxSIG.
const (
	sigATA   uint32 = 0x00000101
	sigATAPI uint32 = 0xeb140101
)

// ATA command opcodes issued by this driver.
const (
	ataCmdReadDMA        = 0xc8
	ataCmdReadDMAExt     = 0x25
	ataCmdWriteDMA       = 0xca
	ataCmdWriteDMAExt    = 0x35
	ataCmdFlushCache     = 0xe7
	ataCmdFlushCacheExt  = 0xea
	ataCmdIdentify       = 0xec
	ataCmdIdentifyPacket = 0xa1
)

// The MMIO accessors use atomic loads and stores: the compiler cannot elide
// or reorder them, so writes to the command structures in DMA memory are
// observable to the device before the PxCI store that kicks off a command,
// and reads of device-updated registers are never hoisted out of a poll
// loop.
var (
	mmioRead32Fn  = mmioRead32
	mmioWrite32Fn = mmioWrite32
)

func mmioRead32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

func mmioWrite32(addr uintptr, val uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), val)
}
