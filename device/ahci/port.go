package ahci

import (
	"io"
	"protonos/kernel"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/dma"
	"unsafe"
)

// dataPtr returns the address of the first byte of a non-empty slice.
func dataPtr(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// Per-port DMA structure sizes. Each lives in its own page, which trivially
// satisfies the 1KiB / 256B / 128B alignment the controller demands.
const (
	cmdListSize  = 1024 // 32 slots of 32 bytes
	rxFISSize    = 256
	cmdTableSize = 256 // command FIS + ATAPI area + single-entry PRDT
)

// maxSectorsPerCommand is the hard per-command ceiling. A single PRDT entry
// tops out near 4 MiB, far above 256 sectors even at 4 KiB sectors, so one
// entry per command is always sufficient; callers that need more chunk at
// the block-device layer.
const maxSectorsPerCommand = 256

// Bounded busy-poll ceilings. Exceeding one returns a timeout error; the
// driver never waits unboundedly on hardware.
var (
	resetPollLimit   = 1000000
	commandPollLimit = 5000000
)

type portState uint8

const (
	portUninitialized portState = iota
	portNoDevice
	portDevicePresent
	portReady
	portError
)

// String implements fmt.Stringer for portState.
func (s portState) String() string {
	switch s {
	case portNoDevice:
		return "no device"
	case portDevicePresent:
		return "device present"
	case portReady:
		return "ready"
	case portError:
		return "error"
	default:
		return "uninitialized"
	}
}

var (
	errPortNotReady      = &kernel.Error{Module: "ahci", Message: "port is not ready"}
	errInvalidSectorArgs = &kernel.Error{Module: "ahci", Message: "sector count must be between 1 and 256"}
	errShortBuffer       = &kernel.Error{Module: "ahci", Message: "caller buffer smaller than the requested transfer"}
	errCommandTimeout    = &kernel.Error{Module: "ahci", Message: "command timed out"}
	errCommandFailed     = &kernel.Error{Module: "ahci", Message: "command failed"}
	errFatalHostError    = &kernel.Error{Module: "ahci", Message: "fatal host bus error"}
	errEngineStuck       = &kernel.Error{Module: "ahci", Message: "command engine did not stop"}
	errDMAUnaddressable  = &kernel.Error{Module: "ahci", Message: "DMA buffer outside the controller's addressable range"}

	dmaAllocFn = dma.Alloc
	dmaFreeFn  = dma.Free
)

// Port drives a single AHCI port. All commands go through slot 0 and
// complete synchronously: the port holds at most one in-flight command, and
// each public operation busy-polls it to completion before returning.
type Port struct {
	index int
	regs  uintptr // base of this port's register bank

	// use64 mirrors CAP.S64A: whether DMA structures may live above 4GiB.
	use64 bool

	state portState
	atapi bool

	cmdList  dma.Buffer
	rxFIS    dma.Buffer
	cmdTable dma.Buffer

	identity DeviceIdentity
}

func (port *Port) readReg(off uintptr) uint32 {
	return mmioRead32Fn(port.regs + off)
}

func (port *Port) writeReg(off uintptr, val uint32) {
	mmioWrite32Fn(port.regs+off, val)
}

// State returns the port's current state.
func (port *Port) State() string { return port.state.String() }

// Identity returns the parsed IDENTIFY data for the attached device. Only
// meaningful while the port is ready.
func (port *Port) Identity() DeviceIdentity { return port.identity }

// IsATAPI returns true if the attached device speaks the packet command
// set. Such devices are detected but never operated by this driver.
func (port *Port) IsATAPI() bool { return port.atapi }

// SectorCount returns the number of addressable sectors.
func (port *Port) SectorCount() uint64 { return port.identity.SectorCount }

// SectorSize returns the logical sector size in bytes.
func (port *Port) SectorSize() uint32 { return port.identity.SectorSize }

// checkAddressable verifies a DMA region falls inside the controller's
// addressing capability: anywhere for a 64-bit HBA, below 4GiB otherwise.
func (port *Port) checkAddressable(buf *dma.Buffer) *kernel.Error {
	if port.use64 {
		return nil
	}
	if uint64(buf.PhysAddr())+uint64(buf.Size()) > 1<<32 {
		return errDMAUnaddressable
	}
	return nil
}

// stopEngine clears ST and FRE, waiting for the corresponding running bits
// to drop. It is required before the command list or FIS base registers may
// be reprogrammed.
func (port *Port) stopEngine() *kernel.Error {
	port.writeReg(regPxCMD, port.readReg(regPxCMD)&^uint32(cmdST))
	if !port.waitRegClear(regPxCMD, cmdCR, resetPollLimit) {
		return errEngineStuck
	}

	port.writeReg(regPxCMD, port.readReg(regPxCMD)&^uint32(cmdFRE))
	if !port.waitRegClear(regPxCMD, cmdFR, resetPollLimit) {
		return errEngineStuck
	}

	return nil
}

// startEngine enables FIS reception and then the command engine, in that
// order, once the command list has stopped running.
func (port *Port) startEngine() *kernel.Error {
	if !port.waitRegClear(regPxCMD, cmdCR, resetPollLimit) {
		return errEngineStuck
	}

	port.writeReg(regPxCMD, port.readReg(regPxCMD)|cmdFRE)
	port.writeReg(regPxCMD, port.readReg(regPxCMD)|cmdST)
	return nil
}

// waitRegClear polls a register until the given bits clear, bounded by
// limit iterations.
func (port *Port) waitRegClear(off uintptr, bits uint32, limit int) bool {
	for i := 0; i < limit; i++ {
		if port.readReg(off)&bits == 0 {
			return true
		}
	}
	return false
}

// freeBuffers releases the port's DMA structures in reverse allocation
// order.
func (port *Port) freeBuffers() {
	dmaFreeFn(&port.cmdTable)
	dmaFreeFn(&port.rxFIS)
	dmaFreeFn(&port.cmdList)
}

// Initialize allocates the port's command structures, restarts the command
// engine and probes for an attached device. A port with no device attached
// ends up in the no-device state, which is a successful outcome; so does a
// port whose IDENTIFY command fails, after the failure is logged to w and
// the allocations are released. Every other failure tears the allocations
// back down and is returned to the caller.
func (port *Port) Initialize(w io.Writer) *kernel.Error {
	var err *kernel.Error

	if port.cmdList, err = dmaAllocFn(cmdListSize); err != nil {
		return err
	}
	if port.rxFIS, err = dmaAllocFn(rxFISSize); err != nil {
		dmaFreeFn(&port.cmdList)
		return err
	}
	if port.cmdTable, err = dmaAllocFn(cmdTableSize); err != nil {
		dmaFreeFn(&port.rxFIS)
		dmaFreeFn(&port.cmdList)
		return err
	}

	for _, buf := range []*dma.Buffer{&port.cmdList, &port.rxFIS, &port.cmdTable} {
		if err = port.checkAddressable(buf); err != nil {
			port.freeBuffers()
			return err
		}
	}

	if err = port.stopEngine(); err != nil {
		port.freeBuffers()
		return err
	}

	port.writeReg(regPxCLB, uint32(port.cmdList.PhysAddr()))
	port.writeReg(regPxCLBU, uint32(uint64(port.cmdList.PhysAddr())>>32))
	port.writeReg(regPxFB, uint32(port.rxFIS.PhysAddr()))
	port.writeReg(regPxFBU, uint32(uint64(port.rxFIS.PhysAddr())>>32))

	port.writeReg(regPxIS, 0xffffffff)
	port.writeReg(regPxSERR, 0xffffffff)

	if err = port.startEngine(); err != nil {
		port.freeBuffers()
		return err
	}

	ssts := port.readReg(regPxSSTS)
	det := ssts & sstsDETMask
	ipm := (ssts >> sstsIPMShift) & sstsIPMMask
	if det != sstsDETPresent || ipm != sstsIPMActive {
		port.freeBuffers()
		port.state = portNoDevice
		return nil
	}
	port.state = portDevicePresent

	sig := port.readReg(regPxSIG)
	switch sig {
	case sigATA:
	case sigATAPI:
		port.atapi = true
	default:
		kfmt.Fprintf(w, "port %d: unrecognized signature 0x%8x; assuming ATA\n", port.index, sig)
	}

	if err = port.runIdentify(); err != nil {
		kfmt.Fprintf(w, "port %d: IDENTIFY failed: %s\n", port.index, err.Message)
		port.freeBuffers()
		port.state = portNoDevice
		return nil
	}

	port.state = portReady
	kfmt.Fprintf(w, "port %d: %s (%d sectors of %d bytes%s)\n",
		port.index, port.identity.Model,
		port.identity.SectorCount, uint64(port.identity.SectorSize),
		lba48Tag(port.identity.LBA48))
	return nil
}

func lba48Tag(lba48 bool) string {
	if lba48 {
		return ", lba48"
	}
	return ""
}

// Dispose stops the command engine and releases the port's DMA structures.
// The port must be reinitialized before further use.
func (port *Port) Dispose() {
	if port.state == portUninitialized || port.state == portNoDevice {
		return
	}

	if err := port.stopEngine(); err != nil {
		kfmt.Printf("[ahci] port %d: %s\n", port.index, err.Message)
	}
	port.freeBuffers()
	port.state = portUninitialized
}

// issueCommand kicks off the command staged in slot 0 and polls it to
// completion. The interrupt status register is consulted for error bits
// before the command-issue register: an aborted command can leave both
// indications set and the error must win.
func (port *Port) issueCommand() *kernel.Error {
	port.writeReg(regPxIS, 0xffffffff)
	port.writeReg(regPxCI, 1)

	for i := 0; i < commandPollLimit; i++ {
		is := port.readReg(regPxIS)
		if is&isErrMask != 0 {
			return port.commandFailed(is)
		}

		if port.readReg(regPxCI)&1 != 0 {
			continue
		}

		if tfd := port.readReg(regPxTFD); tfd&tfdStatusERR != 0 {
			kfmt.Printf("[ahci] port %d: device error; IS=0x%8x TFD=0x%8x\n", port.index, is, tfd)
			return errCommandFailed
		}
		return nil
	}

	kfmt.Printf("[ahci] port %d: timeout; IS=0x%8x TFD=0x%8x\n",
		port.index, port.readReg(regPxIS), port.readReg(regPxTFD))
	return errCommandTimeout
}

// commandFailed classifies an error reported through PxIS. Host-bus and
// interface errors poison the port until it is disposed and reinitialized;
// a task file error only fails the current command.
func (port *Port) commandFailed(is uint32) *kernel.Error {
	kfmt.Printf("[ahci] port %d: command error; IS=0x%8x TFD=0x%8x\n",
		port.index, is, port.readReg(regPxTFD))

	if is&isFatalMask != 0 {
		port.state = portError
		return errFatalHostError
	}
	return errCommandFailed
}

// runIdentify issues IDENTIFY DEVICE (or IDENTIFY PACKET DEVICE for ATAPI)
// and parses the returned 512-byte payload.
func (port *Port) runIdentify() *kernel.Error {
	buf, err := dmaAllocFn(identifyBufferLen)
	if err != nil {
		return err
	}
	defer dmaFreeFn(&buf)

	if err = port.checkAddressable(&buf); err != nil {
		return err
	}

	cmd := uint8(ataCmdIdentify)
	if port.atapi {
		cmd = ataCmdIdentifyPacket
	}

	port.writeH2DFIS(cmd, 0, 0, 0)
	port.writePRDTEntry(0, buf.PhysAddr(), identifyBufferLen)
	port.writeCommandHeader(false, 1)

	if err = port.issueCommand(); err != nil {
		return err
	}

	port.identity = parseIdentity(buf.VirtAddr())
	return nil
}

// transferSectors implements the shared READ/WRITE path: stage a bounce
// buffer, build the FIS and command structures, issue, and copy the payload
// in the appropriate direction.
func (port *Port) transferSectors(lba uint64, count uint32, data []byte, write bool) *kernel.Error {
	if port.state != portReady {
		return errPortNotReady
	}
	if count < 1 || count > maxSectorsPerCommand {
		return errInvalidSectorArgs
	}

	totalBytes := uintptr(count) * uintptr(port.identity.SectorSize)
	if uintptr(len(data)) < totalBytes {
		return errShortBuffer
	}

	buf, err := dmaAllocFn(mem.Size(totalBytes))
	if err != nil {
		return err
	}
	defer dmaFreeFn(&buf)

	if err = port.checkAddressable(&buf); err != nil {
		return err
	}

	if write {
		mem.Memcopy(dataPtr(data), buf.VirtAddr(), totalBytes)
	}

	var cmd uint8
	switch {
	case write && port.identity.LBA48:
		cmd = ataCmdWriteDMAExt
	case write:
		cmd = ataCmdWriteDMA
	case port.identity.LBA48:
		cmd = ataCmdReadDMAExt
	default:
		cmd = ataCmdReadDMA
	}

	// A count of 256 sectors is encoded as 0 on the wire for the 28-bit
	// commands; the 16-bit FIS count field carries 256 as-is for lba48.
	wireCount := uint16(count)
	if !port.identity.LBA48 && count == maxSectorsPerCommand {
		wireCount = 0
	}

	port.writeH2DFIS(cmd, lba, wireCount, deviceLBAMode)
	port.writePRDTEntry(0, buf.PhysAddr(), uint32(totalBytes))
	port.writeCommandHeader(write, 1)

	if err = port.issueCommand(); err != nil {
		return err
	}

	if !write {
		mem.Memcopy(buf.VirtAddr(), dataPtr(data), totalBytes)
	}
	return nil
}

// ReadSectors reads count sectors starting at lba into dst. The call is
// synchronous and transfers at most 256 sectors.
func (port *Port) ReadSectors(lba uint64, count uint32, dst []byte) *kernel.Error {
	return port.transferSectors(lba, count, dst, false)
}

// WriteSectors writes count sectors starting at lba from src. The call is
// synchronous and transfers at most 256 sectors.
func (port *Port) WriteSectors(lba uint64, count uint32, src []byte) *kernel.Error {
	return port.transferSectors(lba, count, src, true)
}

// Flush forces the device to commit its write cache to media.
func (port *Port) Flush() *kernel.Error {
	if port.state != portReady {
		return errPortNotReady
	}

	cmd := uint8(ataCmdFlushCache)
	if port.identity.LBA48 {
		cmd = ataCmdFlushCacheExt
	}

	port.writeH2DFIS(cmd, 0, 0, 0)
	port.writeCommandHeader(false, 0)
	return port.issueCommand()
}
