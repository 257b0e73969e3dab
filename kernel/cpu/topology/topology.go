// Package topology builds the processor and interrupt-controller inventory
// from the ACPI MADT: one descriptor per usable CPU, the I/O APIC list and
// the ISA-interrupt override table. The bootstrap processor is identified
// by reading the local APIC ID register and matching it against the walk
// results.
package topology

import (
	"io"
	"protonos/device/acpi/table"
	"protonos/kernel"
	"protonos/kernel/cpu"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm"
	"protonos/kernel/mem/vmm"
	"unsafe"
)

// Capacity ceilings. Entries past a ceiling are dropped with a warning;
// boot continues with the truncated inventory.
const (
	maxCPUs         = 64
	maxIOAPICs      = 8
	maxIRQOverrides = 24
)

// MADT per-CPU flag bits.
const (
	madtFlagEnabled       = 1 << 0
	madtFlagOnlineCapable = 1 << 1
)

// lapicRegID is the MMIO offset of the local APIC ID register; the ID
// occupies bits 24..31.
const lapicRegID = 0x20

const madtSignature = "APIC"

var (
	errMalformedMADT = &kernel.Error{Module: "topology", Message: "MADT contains a truncated entry"}

	identityMapFn = vmm.IdentityMapRegion

	// lapicIDFn reads the calling processor's APIC ID from the local
	// APIC register block at the given physical address.
	lapicIDFn = readLAPICID
)

// CpuDescriptor describes a single logical processor.
type CpuDescriptor struct {
	// KernelIndex is the dense, zero-based index assigned in MADT walk
	// order.
	KernelIndex int

	APICID     uint32
	ACPIProcID uint32

	// NumaNode is filled in by the NUMA topology walk; -1 until then.
	NumaNode int

	IsBSP     bool
	IsOnline  bool
	IsEnabled bool
}

// IOAPIC describes an I/O interrupt controller.
type IOAPIC struct {
	ID      uint8
	Address uint32
	GSIBase uint32
}

// IRQOverride maps a legacy ISA IRQ onto a global system interrupt.
type IRQOverride struct {
	BusSrc uint8
	IRQ    uint8
	GSI    uint32
	Flags  uint16
}

var (
	cpus     [maxCPUs]CpuDescriptor
	cpuCount int

	ioapics     [maxIOAPICs]IOAPIC
	ioapicCount int

	overrides     [maxIRQOverrides]IRQOverride
	overrideCount int

	lapicAddress uint32
	legacyPIC    bool
)

// CPUs returns the discovered processor table. The NUMA walk mutates the
// descriptors in place when it assigns node ids.
func CPUs() []CpuDescriptor { return cpus[:cpuCount] }

// IOAPICs returns the discovered I/O APIC list.
func IOAPICs() []IOAPIC { return ioapics[:ioapicCount] }

// IRQOverrides returns the ISA interrupt override table.
func IRQOverrides() []IRQOverride { return overrides[:overrideCount] }

// LAPICAddress returns the physical address of the local APIC register
// block reported by the MADT.
func LAPICAddress() uint32 { return lapicAddress }

// HasLegacyPIC returns true if the platform carries dual 8259 PICs that
// must be masked before the APICs are used.
func HasLegacyPIC() bool { return legacyPIC }

// BSP returns the descriptor of the bootstrap processor.
func BSP() *CpuDescriptor {
	for i := 0; i < cpuCount; i++ {
		if cpus[i].IsBSP {
			return &cpus[i]
		}
	}
	return nil
}

func reset() {
	cpuCount, ioapicCount, overrideCount = 0, 0, 0
	lapicAddress, legacyPIC = 0, false
}

func appendCPU(apicID, acpiProcID, flags uint32, w io.Writer) {
	if flags&(madtFlagEnabled|madtFlagOnlineCapable) == 0 {
		return
	}

	if cpuCount == maxCPUs {
		kfmt.Fprintf(w, "more than %d CPUs reported; dropping APIC id 0x%x\n", uint64(maxCPUs), apicID)
		return
	}

	cpus[cpuCount] = CpuDescriptor{
		KernelIndex: cpuCount,
		APICID:      apicID,
		ACPIProcID:  acpiProcID,
		NumaNode:    -1,
		IsEnabled:   flags&madtFlagEnabled != 0,
	}
	cpuCount++
}

// Discover walks the MADT reachable through resolver and populates the
// package tables. A missing or malformed MADT degrades to a single
// synthetic BSP descriptor so the rest of the kernel always sees at least
// one processor.
func Discover(resolver table.Resolver, w io.Writer) *kernel.Error {
	reset()

	var header *table.SDTHeader
	if resolver != nil {
		header = resolver.LookupTable(madtSignature)
	}
	if header == nil {
		kfmt.Fprintf(w, "MADT not found; assuming a single processor\n")
		appendSyntheticBSP(0)
		return nil
	}

	madt := (*table.MADT)(unsafe.Pointer(header))
	lapicAddress = madt.LocalControllerAddress
	legacyPIC = madt.Flags&0x1 != 0

	if err := walkMADT(header, w); err != nil {
		return err
	}

	markBSP(w)

	kfmt.Fprintf(w, "%d CPUs, %d I/O APICs, %d IRQ overrides\n",
		uint64(cpuCount), uint64(ioapicCount), uint64(overrideCount))
	return nil
}

// walkMADT iterates the variable-length records that follow the MADT
// header. A zero-length record means the table is corrupt and the walk
// stops hard to avoid spinning on the same offset.
func walkMADT(header *table.SDTHeader, w io.Writer) *kernel.Error {
	var (
		madtLen  = unsafe.Sizeof(table.MADT{})
		cur      = uintptr(unsafe.Pointer(header)) + madtLen
		tableEnd = uintptr(unsafe.Pointer(header)) + uintptr(header.Length)
	)

	for cur+unsafe.Sizeof(table.MADTEntry{}) <= tableEnd {
		entry := (*table.MADTEntry)(unsafe.Pointer(cur))
		if entry.Length < 2 {
			kfmt.Fprintf(w, "%s\n", errMalformedMADT.Message)
			return errMalformedMADT
		}

		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			lapic := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(cur))
			appendCPU(uint32(lapic.APICID), uint32(lapic.ProcessorID), lapic.Flags, w)
		case table.MADTEntryTypeLocalX2Apic:
			x2 := (*table.MADTEntryLocalX2Apic)(unsafe.Pointer(cur))
			appendCPU(x2.X2APICID, x2.ACPIProcessorUID, x2.Flags, w)
		case table.MADTEntryTypeIOAPIC:
			ioapic := (*table.MADTEntryIOAPIC)(unsafe.Pointer(cur))
			if ioapicCount == maxIOAPICs {
				kfmt.Fprintf(w, "more than %d I/O APICs reported; dropping id %d\n", uint64(maxIOAPICs), ioapic.APICID)
				break
			}
			ioapics[ioapicCount] = IOAPIC{
				ID:      ioapic.APICID,
				Address: ioapic.Address,
				GSIBase: ioapic.SysInterruptBase,
			}
			ioapicCount++
		case table.MADTEntryTypeIntSrcOverride:
			iso := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(cur))
			if overrideCount == maxIRQOverrides {
				kfmt.Fprintf(w, "more than %d IRQ overrides reported; dropping IRQ %d\n", uint64(maxIRQOverrides), iso.IRQSrc)
				break
			}
			overrides[overrideCount] = IRQOverride{
				BusSrc: iso.BusSrc,
				IRQ:    iso.IRQSrc,
				GSI:    iso.GlobalInterrupt,
				Flags:  iso.Flags,
			}
			overrideCount++
		}

		cur += uintptr(entry.Length)
	}

	return nil
}

// markBSP reads the bootstrap processor's APIC ID off its local APIC and
// flags the matching descriptor. Firmware that omits the BSP from the MADT
// gets a synthetic descriptor appended instead.
func markBSP(w io.Writer) {
	bspAPICID := lapicIDFn(uintptr(lapicAddress))

	for i := 0; i < cpuCount; i++ {
		if cpus[i].APICID == bspAPICID {
			cpus[i].IsBSP = true
			cpus[i].IsOnline = true
			return
		}
	}

	kfmt.Fprintf(w, "BSP APIC id 0x%x missing from MADT; appending it\n", bspAPICID)
	appendSyntheticBSP(bspAPICID)
}

func appendSyntheticBSP(apicID uint32) {
	if cpuCount == maxCPUs {
		// Make room by dropping the last secondary CPU; a table
		// without its BSP is useless.
		cpuCount--
	}

	cpus[cpuCount] = CpuDescriptor{
		KernelIndex: cpuCount,
		APICID:      apicID,
		NumaNode:    -1,
		IsBSP:       true,
		IsOnline:    true,
		IsEnabled:   true,
	}
	cpuCount++
}

// readLAPICID maps the local APIC register block and extracts the caller's
// APIC ID from bits 24..31 of the ID register.
func readLAPICID(physAddr uintptr) uint32 {
	if physAddr == 0 || !cpu.HasLocalAPIC() {
		return 0
	}

	page, err := identityMapFn(pmm.FrameFromAddress(physAddr), mem.PageSize, vmm.FlagPresent|vmm.FlagRW|vmm.FlagDoNotCache)
	if err != nil {
		return 0
	}

	reg := page.Address() + vmm.PageOffset(physAddr) + lapicRegID
	return *(*uint32)(unsafe.Pointer(reg)) >> 24
}
