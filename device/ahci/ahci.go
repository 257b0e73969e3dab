// Package ahci drives a SATA AHCI host bus adapter discovered on the PCI
// bus: it maps the HBA's register file from BAR5, switches the controller
// into AHCI mode and brings up a Port state machine for every implemented
// port. Ports with an ATA device attached are wrapped into block devices
// for the filesystem layers above.
package ahci

import (
	"io"
	"protonos/device"
	"protonos/device/block"
	"protonos/device/pci"
	"protonos/kernel"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm"
	"protonos/kernel/mem/vmm"
)

// AHCI controllers advertise PCI class 01 (mass storage), subclass 06
// (SATA), programming interface 01 (AHCI).
const (
	classMassStorage = 0x01
	subClassSATA     = 0x06
	progIFAHCI       = 0x01
)

// knownControllers lists controllers that predate the AHCI class code or
// misreport it but are known to implement the programming model.
var knownControllers = []struct {
	vendorID uint16
	deviceID uint16
}{
	{0x8086, 0x2681}, // Intel ESB2
	{0x8086, 0x27c1}, // Intel ICH7R
	{0x1b4b, 0x9123}, // Marvell 88SE9123
}

const (
	bar5Index = 5
	maxPorts  = 32
)

var (
	errNoBAR5        = &kernel.Error{Module: "ahci", Message: "BAR5 is not a memory BAR"}
	errAHCIModeStuck = &kernel.Error{Module: "ahci", Message: "controller refused to enter AHCI mode"}

	identityMapFn = vmm.IdentityMapRegion

	enablePCIFn = func(dev *pci.Device) {
		dev.EnableMemorySpace()
		dev.EnableBusMaster()
	}
)

// hbaDriver implements device.Driver for a single AHCI controller.
type hbaDriver struct {
	pciDev *pci.Device

	mmioBase uintptr

	cap  uint32
	cap2 uint32
	vs   uint32
	pi   uint32

	portCount int
	cmdSlots  int
	use64     bool

	// ports holds one entry per possible port index. An entry is non-nil
	// iff the corresponding PI bit is set and device detection on the
	// port succeeded.
	ports [maxPorts]*Port
}

// DriverName returns the name of this driver.
func (*hbaDriver) DriverName() string {
	return "AHCI"
}

// DriverVersion returns the version of this driver.
func (*hbaDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// Port returns the port object at the given index, or nil if the port is
// not implemented or detection failed.
func (drv *hbaDriver) Port(index int) *Port {
	if index < 0 || index >= maxPorts {
		return nil
	}
	return drv.ports[index]
}

// DriverInit initializes this driver.
func (drv *hbaDriver) DriverInit(w io.Writer) *kernel.Error {
	enablePCIFn(drv.pciDev)

	bar := drv.pciDev.BARs[bar5Index]
	if bar.Kind != pci.BARKindMem32 && bar.Kind != pci.BARKindMem64 {
		return errNoBAR5
	}

	page, err := identityMapFn(
		pmm.FrameFromAddress(uintptr(bar.BaseAddress)),
		mem.Size(bar.Size),
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache,
	)
	if err != nil {
		return err
	}
	drv.mmioBase = page.Address() + vmm.PageOffset(uintptr(bar.BaseAddress))

	drv.cap = mmioRead32Fn(drv.mmioBase + regCAP)
	drv.cap2 = mmioRead32Fn(drv.mmioBase + regCAP2)
	drv.vs = mmioRead32Fn(drv.mmioBase + regVS)
	drv.pi = mmioRead32Fn(drv.mmioBase + regPI)

	drv.portCount = int(drv.cap&capNPMask) + 1
	drv.cmdSlots = int((drv.cap>>capNCSShift)&0x1f) + 1
	drv.use64 = drv.cap&capS64A != 0

	if err = drv.enableAHCIMode(); err != nil {
		return err
	}

	kfmt.Fprintf(w, "version 0x%8x, %d ports, %d command slots%s\n",
		drv.vs, uint64(drv.portCount), uint64(drv.cmdSlots), addr64Tag(drv.use64))

	drv.enumeratePorts(w)
	return nil
}

func addr64Tag(use64 bool) string {
	if use64 {
		return ", 64-bit"
	}
	return ""
}

// enableAHCIMode sets GHC.AE unless the controller only speaks AHCI
// (CAP.SAM), in which case the bit is read-only and already set.
func (drv *hbaDriver) enableAHCIMode() *kernel.Error {
	if drv.cap&capSAM != 0 {
		return nil
	}

	ghc := mmioRead32Fn(drv.mmioBase + regGHC)
	mmioWrite32Fn(drv.mmioBase+regGHC, ghc|ghcAE)

	if mmioRead32Fn(drv.mmioBase+regGHC)&ghcAE == 0 {
		return errAHCIModeStuck
	}
	return nil
}

// enumeratePorts initializes a Port for every bit set in the
// ports-implemented mask and registers a block device for each port that
// came up with an ATA device attached.
func (drv *hbaDriver) enumeratePorts(w io.Writer) {
	for i := 0; i < maxPorts; i++ {
		if drv.pi&(1<<uint(i)) == 0 {
			continue
		}

		port := &Port{
			index: i,
			regs:  drv.mmioBase + portRegBase + uintptr(i)*portRegSize,
			use64: drv.use64,
		}

		if err := port.Initialize(w); err != nil {
			kfmt.Fprintf(w, "port %d: init failed: %s\n", i, err.Message)
			continue
		}

		if port.state != portReady {
			continue
		}
		drv.ports[i] = port

		if port.IsATAPI() {
			kfmt.Fprintf(w, "port %d: ATAPI device detected; not operated\n", i)
			continue
		}

		dev := block.NewDevice(port, port.SectorCount(), port.SectorSize())
		kfmt.Fprintf(w, "port %d: registered %s\n", i, dev.Name())
	}
}

// matchesAHCI reports whether a PCI function is an AHCI controller, either
// by class code or by the explicit allowlist.
func matchesAHCI(dev *pci.Device) bool {
	if dev.BaseClass == classMassStorage && dev.SubClass == subClassSATA && dev.ProgIF == progIFAHCI {
		return true
	}

	for _, known := range knownControllers {
		if dev.VendorID == known.vendorID && dev.DeviceID == known.deviceID {
			return true
		}
	}
	return false
}

func probeForAHCI() device.Driver {
	for _, dev := range pci.DeviceList() {
		if matchesAHCI(dev) {
			return &hbaDriver{pciDev: dev}
		}
	}
	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderAHCI,
		Probe: probeForAHCI,
	})
}
