package kmain

import (
	"protonos/device/acpi"
	"protonos/device/serial"
	"protonos/kernel"
	"protonos/kernel/cpu/topology"
	"protonos/kernel/hal"
	"protonos/kernel/hal/boot"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem/numa"
	"protonos/kernel/mem/pmm/allocator"
	"protonos/kernel/mem/vmm"

	// Imported for their driver registration side effects.
	_ "protonos/device/ahci"
	_ "protonos/device/pci"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible (exported) to the rt0 initialization
// code. It is invoked after rt0 has set up the GDT, a minimal g0 stack and
// the pieces of the Go runtime the kernel links against.
//
// The rt0 code passes the physical address of the boot record produced by
// the UEFI bootloader together with the physical addresses where the kernel
// image starts and ends.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(bootRecordPtr, kernelStart, kernelEnd uintptr) {
	boot.SetRecordAddr(bootRecordPtr)
	if err := boot.Validate(); err != nil {
		// The boot record is this kernel's only configuration source;
		// without it nothing else can be trusted.
		kfmt.Panic(err)
	}

	// Bring the debug serial port up before anything else so every
	// diagnostic line from this point on reaches the wire.
	earlySerial := serial.NewDevice(boot.SerialBase())
	earlySerial.Init()
	kfmt.SetOutputSink(earlySerial)

	if err := allocator.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	}
	vmm.SetFrameAllocator(allocator.AllocFrame)

	// Serial, ACPI, PCI and AHCI probe in dependency order.
	hal.DetectHardware()

	resolver := acpi.ActiveResolver()
	w := kfmt.PrefixWriter{Sink: kfmt.GetOutputSink(), Prefix: []byte("[topology] ")}
	if err := topology.Discover(resolver, &w); err != nil {
		kfmt.Fprintf(&w, "continuing with a partial CPU inventory: %s\n", err.Message)
	}

	w.Prefix = []byte("[numa] ")
	if err := numa.Discover(resolver, topology.CPUs(), &w); err != nil {
		kfmt.Fprintf(&w, "continuing without NUMA affinity: %s\n", err.Message)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating it as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
