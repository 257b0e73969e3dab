// Package serial implements a driver for 16550-compatible UARTs. The serial
// port is the kernel's debug sink: every other driver's diagnostic output
// ends up here, so this driver must never fail, block indefinitely or emit
// diagnostics of its own.
package serial

import (
	"io"
	"protonos/device"
	"protonos/kernel"
	"protonos/kernel/cpu"
	"protonos/kernel/hal/boot"
)

// COM1Base is the conventional I/O port base for the first serial port. It
// is used when the boot record does not report a serial base.
const COM1Base uint16 = 0x3f8

// Register offsets relative to the UART I/O base.
const (
	regData       = 0 // data (DLAB=0) / divisor low (DLAB=1)
	regIntEnable  = 1 // interrupt enable (DLAB=0) / divisor high (DLAB=1)
	regFifoCtrl   = 2
	regLineCtrl   = 3
	regModemCtrl  = 4
	regLineStatus = 5
)

const (
	lineCtrlDLAB = 0x80
	lineCtrl8N1  = 0x03

	// fifoEnable14 enables the FIFOs, clears them and selects a 14-byte
	// receive trigger threshold.
	fifoEnable14 = 0xc7

	// modemDTRRTSOut2 asserts DTR, RTS and OUT2.
	modemDTRRTSOut2 = 0x0b

	// lineStatusTxEmpty is set when the transmitter holding register can
	// accept another byte.
	lineStatusTxEmpty = 0x20
)

var (
	inbFn  = cpu.PortReadByte
	outbFn = cpu.PortWriteByte
)

// Device drives a single 16550-compatible UART. Writes busy-poll the line
// status register; there is no interrupt-driven path and no receive path.
type Device struct {
	ioBase uint16
}

// NewDevice returns an uninitialized serial device at the given I/O base.
func NewDevice(ioBase uint16) *Device {
	if ioBase == 0 {
		ioBase = COM1Base
	}
	return &Device{ioBase: ioBase}
}

// Init programs the UART for 115200 baud, 8N1 operation with FIFOs enabled.
// Interrupt generation stays disabled; the driver only ever polls.
func (dev *Device) Init() {
	base := dev.ioBase

	outbFn(base+regIntEnable, 0x00)
	outbFn(base+regLineCtrl, lineCtrlDLAB)
	outbFn(base+regData, 0x01) // divisor = 1 -> 115200 baud
	outbFn(base+regIntEnable, 0x00)
	outbFn(base+regLineCtrl, lineCtrl8N1)
	outbFn(base+regFifoCtrl, fifoEnable14)
	outbFn(base+regModemCtrl, modemDTRRTSOut2)
}

// WriteByte emits a single byte, busy-polling until the transmitter can
// accept it. The poll gives up after txPollLimit reads and the byte is
// written regardless.
func (dev *Device) WriteByte(b byte) {
	const txPollLimit = 1000000
	for polls := 0; polls < txPollLimit && inbFn(dev.ioBase+regLineStatus)&lineStatusTxEmpty == 0; polls++ {
	}
	outbFn(dev.ioBase+regData, b)
}

// WriteBytes emits each byte of p in order.
func (dev *Device) WriteBytes(p []byte) {
	for _, b := range p {
		dev.WriteByte(b)
	}
}

// Write implements io.Writer so the device can serve as the kfmt output
// sink. It never fails.
func (dev *Device) Write(p []byte) (int, error) {
	dev.WriteBytes(p)
	return len(p), nil
}

// Newline emits a CR+LF pair.
func (dev *Device) Newline() {
	dev.WriteByte('\r')
	dev.WriteByte('\n')
}

const hexDigits = "0123456789abcdef"

func (dev *Device) writeHex(v uint64, digits int) {
	for shift := (digits - 1) * 4; shift >= 0; shift -= 4 {
		dev.WriteByte(hexDigits[(v>>uint(shift))&0xf])
	}
}

// WriteHexU16 emits v as 4 lowercase hex digits.
func (dev *Device) WriteHexU16(v uint16) { dev.writeHex(uint64(v), 4) }

// WriteHexU32 emits v as 8 lowercase hex digits.
func (dev *Device) WriteHexU32(v uint32) { dev.writeHex(uint64(v), 8) }

// WriteHexU64 emits v as 16 lowercase hex digits.
func (dev *Device) WriteHexU64(v uint64) { dev.writeHex(v, 16) }

// WriteDecU64 emits v in decimal without any padding.
func (dev *Device) WriteDecU64(v uint64) {
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
	dev.WriteBytes(buf[pos:])
}

// WriteDecU32 emits v in decimal.
func (dev *Device) WriteDecU32(v uint32) { dev.WriteDecU64(uint64(v)) }

// WriteDecI32 emits v in decimal with a leading minus sign when negative.
func (dev *Device) WriteDecI32(v int32) {
	if v < 0 {
		dev.WriteByte('-')
		dev.WriteDecU64(uint64(-int64(v)))
		return
	}
	dev.WriteDecU64(uint64(v))
}

// DriverName returns the name of this driver.
func (dev *Device) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the version of this driver.
func (dev *Device) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (dev *Device) DriverInit(_ io.Writer) *kernel.Error {
	dev.Init()
	return nil
}

func probeForSerial() device.Driver {
	return NewDevice(boot.SerialBase())
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForSerial,
	})
}
