package device

import (
	"io"
	"protonos/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output is
	// written to w using the kfmt.PrefixWriter conventions so multiple
	// drivers probing concurrently at boot can be told apart.
	DriverInit(w io.Writer) *kernel.Error
}

// The detect order buckets control the sequence in which registered probe
// functions run. Drivers that other drivers depend on (e.g. ACPI, which
// exposes table lookups to the CPU/NUMA topology walkers, and PCI, which
// AHCI enumerates on top of) must run before their dependents.
const (
	DetectOrderEarly = iota * 10
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderPCI
	DetectOrderAHCI
	DetectOrderLast
)

// DriverInfo describes a registered driver probe.
type DriverInfo struct {
	// Order specifies when this driver's Probe function runs relative to
	// other registered drivers. Use one of the DetectOrder* constants.
	Order int

	// Probe attempts to detect and initialize the driver's hardware,
	// returning a Driver on success or nil if the hardware is absent.
	Probe func() Driver
}

// DriverInfoList implements sort.Interface, ordering entries by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// registeredDrivers accumulates every DriverInfo registered via
// RegisterDriver, typically from package init() functions.
var registeredDrivers DriverInfoList

// RegisterDriver registers a driver probe to be run during hardware
// detection. It is typically called from a driver package's init() function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of all registered driver probes.
func DriverList() DriverInfoList {
	return registeredDrivers
}
