// Package pci enumerates the PCI bus through the legacy CF8/CFC
// configuration-space mechanism and records each discovered function
// together with its sized BARs. Other drivers (AHCI) locate their hardware
// by scanning the device list this package builds at probe time.
package pci

import (
	"io"
	"protonos/device"
	"protonos/kernel"
	"protonos/kernel/cpu"
	"protonos/kernel/kfmt"
)

const (
	cfgAddrPort uint16 = 0xcf8
	cfgDataPort uint16 = 0xcfc

	// cfgEnable is bit 31 of the configuration address word; the chipset
	// ignores CFC accesses while it is clear.
	cfgEnable uint32 = 1 << 31
)

// Configuration-space register offsets common to all header types.
const (
	cfgRegVendorDevice uint8 = 0x00
	cfgRegCommand      uint8 = 0x04
	cfgRegClass        uint8 = 0x08
	cfgRegHeaderType   uint8 = 0x0c
	cfgRegBAR0         uint8 = 0x10
)

// Command register bits toggled by this driver.
const (
	cmdEnableMemorySpace uint16 = 1 << 1
	cmdEnableBusMaster   uint16 = 1 << 2
)

const (
	// headerTypeMultiFn flags a device that decodes functions 1..7.
	headerTypeMultiFn uint8 = 1 << 7

	maxBusCount  = 256
	maxSlotCount = 32
	maxFnCount   = 8
	barCount     = 6
)

var (
	errDeviceActive = &kernel.Error{Module: "pci", Message: "BAR sizing attempted on an enabled device"}

	inlFn  = cpu.PortReadUint32
	outlFn = cpu.PortWriteUint32
)

// BARKind describes what kind of window a base address register decodes.
type BARKind uint8

// The list of BAR kinds. BARKindNone marks an unimplemented slot or the
// upper half of a 64-bit BAR.
const (
	BARKindNone BARKind = iota
	BARKindIO
	BARKindMem32
	BARKindMem64
)

// String implements fmt.Stringer for BARKind.
func (k BARKind) String() string {
	switch k {
	case BARKindIO:
		return "io"
	case BARKindMem32:
		return "mem32"
	case BARKindMem64:
		return "mem64"
	default:
		return "none"
	}
}

// BAR describes a single, sized base address register.
type BAR struct {
	Index        uint8
	BaseAddress  uint64
	Size         uint64
	Kind         BARKind
	Prefetchable bool
}

// Device records a single discovered PCI function. A 64-bit BAR occupies
// two consecutive slots; the upper slot is left as BARKindNone.
type Device struct {
	Bus      uint8
	Slot     uint8
	Function uint8

	VendorID uint16
	DeviceID uint16

	BaseClass uint8
	SubClass  uint8
	ProgIF    uint8

	BARs [barCount]BAR

	// enabled latches once either command bit has been set; BAR sizing
	// performs destructive register writes and is refused from then on.
	enabled bool
}

// cfgAddr builds the CF8 address word for a configuration-space register.
// The low two offset bits are dropped: the mechanism transfers aligned
// 32-bit words only.
func cfgAddr(bus, slot, fn, offset uint8) uint32 {
	return cfgEnable |
		uint32(bus)<<16 |
		uint32(slot&0x1f)<<11 |
		uint32(fn&0x07)<<8 |
		uint32(offset&0xfc)
}

func cfgRead32(bus, slot, fn, offset uint8) uint32 {
	outlFn(cfgAddrPort, cfgAddr(bus, slot, fn, offset))
	return inlFn(cfgDataPort)
}

func cfgWrite32(bus, slot, fn, offset uint8, val uint32) {
	outlFn(cfgAddrPort, cfgAddr(bus, slot, fn, offset))
	outlFn(cfgDataPort, val)
}

// ReadConfig returns the aligned 32-bit configuration word at offset for
// this function.
func (dev *Device) ReadConfig(offset uint8) uint32 {
	return cfgRead32(dev.Bus, dev.Slot, dev.Function, offset)
}

// WriteConfig stores an aligned 32-bit configuration word at offset for
// this function.
func (dev *Device) WriteConfig(offset uint8, val uint32) {
	cfgWrite32(dev.Bus, dev.Slot, dev.Function, offset, val)
}

// setCommandBits read-modify-writes the 16-bit command register, preserving
// the status register in the upper half of the containing word.
func (dev *Device) setCommandBits(bits uint16) {
	val := dev.ReadConfig(cfgRegCommand)
	val |= uint32(bits)
	dev.WriteConfig(cfgRegCommand, val)
	dev.enabled = true
}

// EnableMemorySpace allows the device to decode memory-space accesses.
func (dev *Device) EnableMemorySpace() {
	dev.setCommandBits(cmdEnableMemorySpace)
}

// EnableBusMaster allows the device to initiate DMA transfers.
func (dev *Device) EnableBusMaster() {
	dev.setCommandBits(cmdEnableBusMaster)
}

// sizeBARs probes all six BAR slots of the function using the standard
// write-all-ones protocol. This rewrites live registers and must therefore
// run before the device is allowed to decode anything.
func (dev *Device) sizeBARs() *kernel.Error {
	if dev.enabled {
		return errDeviceActive
	}

	for index := uint8(0); index < barCount; index++ {
		offset := cfgRegBAR0 + index*4
		orig := dev.ReadConfig(offset)

		dev.WriteConfig(offset, 0xffffffff)
		probed := dev.ReadConfig(offset)
		dev.WriteConfig(offset, orig)

		if probed == 0 {
			continue
		}

		bar := &dev.BARs[index]
		bar.Index = index

		if orig&0x1 != 0 {
			bar.Kind = BARKindIO
			bar.BaseAddress = uint64(orig &^ uint32(0x3))
			bar.Size = uint64(^(probed &^ uint32(0x3)) + 1)
			continue
		}

		bar.Prefetchable = orig&0x8 != 0

		if (orig>>1)&0x3 == 0x2 {
			// 64-bit memory BAR; the next slot holds the upper half
			// of both the address and the size mask.
			if index == barCount-1 {
				kfmt.Printf("[pci] %2x:%2x.%x: 64-bit BAR in last slot; ignored\n", dev.Bus, dev.Slot, dev.Function)
				*bar = BAR{}
				continue
			}

			hiOffset := offset + 4
			origHi := dev.ReadConfig(hiOffset)
			dev.WriteConfig(hiOffset, 0xffffffff)
			probedHi := dev.ReadConfig(hiOffset)
			dev.WriteConfig(hiOffset, origHi)

			bar.Kind = BARKindMem64
			bar.BaseAddress = uint64(origHi)<<32 | uint64(orig&^uint32(0xf))
			mask := uint64(probedHi)<<32 | uint64(probed&^uint32(0xf))
			bar.Size = ^mask + 1

			index++
			continue
		}

		bar.Kind = BARKindMem32
		bar.BaseAddress = uint64(orig &^ uint32(0xf))
		bar.Size = uint64(^(probed &^ uint32(0xf)) + 1)
	}

	return nil
}

// deviceList holds every function discovered by the last bus scan.
var deviceList []*Device

// DeviceList returns the functions discovered during hardware detection.
// The list is populated once, by the PCI driver's init, and read-only from
// then on.
func DeviceList() []*Device {
	return deviceList
}

// probeFn tests whether a function is present and, if so, records and
// BAR-sizes it. It reports whether function 0 of the slot decodes as a
// multi-function device.
func probeFn(bus, slot, fn uint8, w io.Writer) (multiFn bool) {
	vendorDevice := cfgRead32(bus, slot, fn, cfgRegVendorDevice)
	if vendorDevice == 0xffffffff || vendorDevice&0xffff == 0xffff {
		return false
	}

	classWord := cfgRead32(bus, slot, fn, cfgRegClass)
	dev := &Device{
		Bus:       bus,
		Slot:      slot,
		Function:  fn,
		VendorID:  uint16(vendorDevice),
		DeviceID:  uint16(vendorDevice >> 16),
		BaseClass: uint8(classWord >> 24),
		SubClass:  uint8(classWord >> 16),
		ProgIF:    uint8(classWord >> 8),
	}

	if err := dev.sizeBARs(); err != nil {
		kfmt.Fprintf(w, "%2x:%2x.%x: %s\n", bus, slot, fn, err.Message)
		return false
	}

	deviceList = append(deviceList, dev)
	kfmt.Fprintf(w, "%2x:%2x.%x: vendor 0x%4x device 0x%4x class %2x/%2x/%2x\n",
		bus, slot, fn, dev.VendorID, dev.DeviceID, dev.BaseClass, dev.SubClass, dev.ProgIF)

	headerType := uint8(cfgRead32(bus, slot, fn, cfgRegHeaderType) >> 16)
	return headerType&headerTypeMultiFn != 0
}

// scanBus walks every bus/slot pair through the CF8/CFC window. Bridges are
// not followed recursively; the scan covers all 256 bus numbers and relies
// on firmware having assigned secondary bus numbers before handoff.
func scanBus(w io.Writer) {
	for bus := 0; bus < maxBusCount; bus++ {
		for slot := 0; slot < maxSlotCount; slot++ {
			if !probeFn(uint8(bus), uint8(slot), 0, w) {
				continue
			}

			for fn := uint8(1); fn < maxFnCount; fn++ {
				probeFn(uint8(bus), uint8(slot), fn, w)
			}
		}
	}
}

// pciDriver implements device.Driver.
type pciDriver struct{}

// DriverName returns the name of this driver.
func (*pciDriver) DriverName() string {
	return "PCI"
}

// DriverVersion returns the version of this driver.
func (*pciDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// DriverInit initializes this driver.
func (*pciDriver) DriverInit(w io.Writer) *kernel.Error {
	deviceList = nil
	scanBus(w)
	kfmt.Fprintf(w, "discovered %d functions\n", uint64(len(deviceList)))
	return nil
}

func probeForPCI() device.Driver {
	return &pciDriver{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderPCI,
		Probe: probeForPCI,
	})
}
