// Package hal discovers hardware by running every registered driver probe
// in dependency order (serial before ACPI, ACPI before PCI, PCI before
// AHCI) and tracks the initialized drivers.
package hal

import (
	"bytes"
	"protonos/device"
	"protonos/device/serial"
	"protonos/kernel/kfmt"
	"sort"
)

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// activeSerial is the debug serial sink; once initialized it becomes
	// the kfmt output sink and receives all further diagnostics.
	activeSerial *serial.Device

	// activeDrivers tracks all initialized device drivers.
	activeDrivers []device.Driver
}

var (
	devices managedDevices
	strBuf  bytes.Buffer
)

// ActiveSerial returns the serial device acting as the diagnostic sink, or
// nil if none was initialized.
func ActiveSerial() *serial.Device {
	return devices.activeSerial
}

// ActiveDrivers returns every driver that probed and initialized
// successfully, in probe order.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers
}

// DetectHardware probes for hardware devices and initializes the
// appropriate drivers.
func DetectHardware() {
	// Get driver list and sort by detection priority
	drivers := device.DriverList()
	sort.Sort(drivers)

	probe(drivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		onDriverInit(drv)
		devices.activeDrivers = append(devices.activeDrivers, drv)
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is
// detected and successfully initialized. The first serial device becomes
// the kfmt output sink so every later driver's diagnostics reach the wire.
func onDriverInit(drv device.Driver) {
	serialDev, isSerial := drv.(*serial.Device)
	if !isSerial || devices.activeSerial != nil {
		return
	}

	devices.activeSerial = serialDev
	kfmt.SetOutputSink(serialDev)
}
