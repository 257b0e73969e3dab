// Package block provides the uniform block-device contract the filesystem
// layers consume. A Device wraps a sector transport (in this core: an AHCI
// port), bounds-checks every request and splits large transfers into
// single-command slices.
package block

import (
	"protonos/kernel"
	"protonos/kernel/kfmt"
)

// maxBlocksPerCommand is the largest slice handed to the transport in one
// call; the transport rejects anything bigger.
const maxBlocksPerCommand = 256

// Capability bits advertised by a device.
type Capability uint8

// The set of device capabilities.
const (
	CapRead Capability = 1 << iota
	CapWrite
	CapFlush
)

// State tracks a device through its lifecycle.
type State uint8

// The device lifecycle states.
const (
	StateLoaded State = iota
	StateInitializing
	StateRunning
	StateSuspended
	StateStopping
	StateStopped
	StateFailed
)

// String implements fmt.Stringer for State.
func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	errInvalidParameter = &kernel.Error{Module: "block", Message: "invalid parameter"}
	errNotReady         = &kernel.Error{Module: "block", Message: "device is not running"}
	errIO               = &kernel.Error{Module: "block", Message: "i/o error"}
)

// Transport is the sector-level contract a Device drives. The device
// borrows the transport: the transport must outlive every device wrapping
// it.
type Transport interface {
	ReadSectors(lba uint64, count uint32, dst []byte) *kernel.Error
	WriteSectors(lba uint64, count uint32, src []byte) *kernel.Error
	Flush() *kernel.Error
}

// Device is a bounds-checked, chunking façade over a Transport.
type Device struct {
	name string

	transport  Transport
	blockCount uint64
	blockSize  uint32

	caps  Capability
	state State
}

// nextDeviceID feeds the monotone sata0, sata1, ... naming sequence.
var nextDeviceID uint64

// registeredDevices lists every device created via NewDevice, in creation
// order, for consumption by the (external) VFS mount table.
var registeredDevices []*Device

// Devices returns all registered block devices.
func Devices() []*Device {
	return registeredDevices
}

// NewDevice wraps transport into a named, running block device and adds it
// to the device registry.
func NewDevice(transport Transport, blockCount uint64, blockSize uint32) *Device {
	dev := &Device{
		name:       "sata" + utoa(nextDeviceID),
		transport:  transport,
		blockCount: blockCount,
		blockSize:  blockSize,
		caps:       CapRead | CapWrite | CapFlush,
		state:      StateInitializing,
	}
	nextDeviceID++

	dev.state = StateRunning
	registeredDevices = append(registeredDevices, dev)
	return dev
}

// utoa formats v in decimal without pulling in a formatting package.
func utoa(v uint64) string {
	var buf [20]byte
	pos := len(buf)
	for {
		pos--
		buf[pos] = '0' + byte(v%10)
		v /= 10
		if v == 0 {
			break
		}
	}
	return string(buf[pos:])
}

// Name returns the device name.
func (dev *Device) Name() string { return dev.name }

// BlockCount returns the number of addressable blocks.
func (dev *Device) BlockCount() uint64 { return dev.blockCount }

// BlockSize returns the block size in bytes.
func (dev *Device) BlockSize() uint32 { return dev.blockSize }

// TotalBytes returns the device capacity in bytes.
func (dev *Device) TotalBytes() uint64 { return dev.blockCount * uint64(dev.blockSize) }

// Capabilities returns the device's capability bits.
func (dev *Device) Capabilities() Capability { return dev.caps }

// State returns the device's lifecycle state.
func (dev *Device) State() State { return dev.state }

// checkRequest validates the common preconditions of Read and Write.
func (dev *Device) checkRequest(start uint64, count uint32, buf []byte) *kernel.Error {
	if dev.state != StateRunning {
		return errNotReady
	}
	if count == 0 || buf == nil {
		return errInvalidParameter
	}
	if start+uint64(count) > dev.blockCount || start+uint64(count) < start {
		return errInvalidParameter
	}
	if uint64(len(buf)) < uint64(count)*uint64(dev.blockSize) {
		return errInvalidParameter
	}
	return nil
}

// forEachChunk splits [start, start+count) into transport-sized slices and
// invokes fn for each with the matching sub-slice of buf.
func (dev *Device) forEachChunk(start uint64, count uint32, buf []byte, fn func(lba uint64, n uint32, chunk []byte) *kernel.Error) *kernel.Error {
	var bufOff uint64

	for count > 0 {
		n := count
		if n > maxBlocksPerCommand {
			n = maxBlocksPerCommand
		}

		chunkBytes := uint64(n) * uint64(dev.blockSize)
		if err := fn(start, n, buf[bufOff:bufOff+chunkBytes]); err != nil {
			kfmt.Printf("[block] %s: chunk at lba %d failed: %s\n", dev.name, start, err.Message)
			return errIO
		}

		start += uint64(n)
		bufOff += chunkBytes
		count -= n
	}

	return nil
}

// Read fills dst with count blocks starting at block start.
func (dev *Device) Read(start uint64, count uint32, dst []byte) *kernel.Error {
	if err := dev.checkRequest(start, count, dst); err != nil {
		return err
	}
	return dev.forEachChunk(start, count, dst, dev.transport.ReadSectors)
}

// Write stores count blocks from src starting at block start.
func (dev *Device) Write(start uint64, count uint32, src []byte) *kernel.Error {
	if err := dev.checkRequest(start, count, src); err != nil {
		return err
	}
	return dev.forEachChunk(start, count, src, dev.transport.WriteSectors)
}

// Flush commits any device-side write cache to media.
func (dev *Device) Flush() *kernel.Error {
	if dev.state != StateRunning {
		return errNotReady
	}
	if err := dev.transport.Flush(); err != nil {
		return errIO
	}
	return nil
}

// Discard is accepted for interface completeness but performs no work:
// TRIM is not implemented.
func (dev *Device) Discard(start uint64, count uint32) *kernel.Error {
	if dev.state != StateRunning {
		return errNotReady
	}
	return nil
}

// Suspend pauses the device; subsequent I/O fails until Resume.
func (dev *Device) Suspend() {
	if dev.state == StateRunning {
		dev.state = StateSuspended
	}
}

// Resume reactivates a suspended device.
func (dev *Device) Resume() {
	if dev.state == StateSuspended {
		dev.state = StateRunning
	}
}

// Stop permanently retires the device, flushing any cached writes first.
func (dev *Device) Stop() {
	if dev.state != StateRunning && dev.state != StateSuspended {
		return
	}

	dev.state = StateStopping
	if dev.caps&CapFlush != 0 {
		if err := dev.transport.Flush(); err != nil {
			kfmt.Printf("[block] %s: flush on stop failed: %s\n", dev.name, err.Message)
			dev.state = StateFailed
			return
		}
	}
	dev.state = StateStopped
}
