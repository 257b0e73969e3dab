package topology

import (
	"bytes"
	"protonos/device/acpi/table"
	"testing"
	"unsafe"
)

// fakeResolver serves tables out of a map, standing in for the ACPI driver.
type fakeResolver map[string]*table.SDTHeader

func (r fakeResolver) LookupTable(sig string) *table.SDTHeader {
	return r[sig]
}

// madtBuilder assembles a MADT in a heap buffer using the same struct
// overlays the walker reads through.
type madtBuilder struct {
	buf []byte
	off uintptr
}

func newMADTBuilder() *madtBuilder {
	b := &madtBuilder{buf: make([]byte, 4096)}
	madt := (*table.MADT)(unsafe.Pointer(&b.buf[0]))
	madt.Signature = [4]byte{'A', 'P', 'I', 'C'}
	madt.LocalControllerAddress = 0xfee00000
	madt.Flags = 0x1
	b.off = unsafe.Sizeof(table.MADT{})
	return b
}

func (b *madtBuilder) header() *table.SDTHeader {
	madt := (*table.MADT)(unsafe.Pointer(&b.buf[0]))
	madt.Length = uint32(b.off)
	return &madt.SDTHeader
}

func (b *madtBuilder) resolver() fakeResolver {
	return fakeResolver{"APIC": b.header()}
}

func (b *madtBuilder) addLocalAPIC(procID, apicID uint8, flags uint32) {
	e := (*table.MADTEntryLocalAPIC)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.MADTEntryTypeLocalAPIC
	e.Length = 8
	e.ProcessorID = procID
	e.APICID = apicID
	e.Flags = flags
	b.off += 8
}

func (b *madtBuilder) addX2APIC(uid, apicID, flags uint32) {
	e := (*table.MADTEntryLocalX2Apic)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.MADTEntryTypeLocalX2Apic
	e.Length = 16
	e.X2APICID = apicID
	e.Flags = flags
	e.ACPIProcessorUID = uid
	b.off += 16
}

func (b *madtBuilder) addIOAPIC(id uint8, addr, gsiBase uint32) {
	e := (*table.MADTEntryIOAPIC)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.MADTEntryTypeIOAPIC
	e.Length = 12
	e.APICID = id
	e.Address = addr
	e.SysInterruptBase = gsiBase
	b.off += 12
}

func (b *madtBuilder) addOverride(irq uint8, gsi uint32, flags uint16) {
	e := (*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.MADTEntryTypeIntSrcOverride
	e.Length = 10
	e.BusSrc = 0
	e.IRQSrc = irq
	e.GlobalInterrupt = gsi
	e.Flags = flags
	b.off += 10
}

func (b *madtBuilder) addZeroLengthEntry() {
	b.buf[b.off] = byte(table.MADTEntryTypeLocalAPIC)
	b.buf[b.off+1] = 0
	b.off += 8
}

func withFakeBSP(apicID uint32) func() {
	orig := lapicIDFn
	lapicIDFn = func(physAddr uintptr) uint32 { return apicID }
	return func() { lapicIDFn = orig }
}

func TestDiscoverWalksMADT(t *testing.T) {
	defer withFakeBSP(1)()

	b := newMADTBuilder()
	b.addLocalAPIC(0, 0, madtFlagEnabled)
	b.addLocalAPIC(1, 1, madtFlagEnabled)
	b.addLocalAPIC(2, 2, 0)                     // disabled, not even online-capable
	b.addLocalAPIC(3, 3, madtFlagOnlineCapable) // hot-pluggable
	b.addX2APIC(4, 0x100, madtFlagEnabled)
	b.addIOAPIC(9, 0xfec00000, 0)
	b.addOverride(0, 2, 0)

	var out bytes.Buffer
	if err := Discover(b.resolver(), &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if cpuCount != 4 {
		t.Fatalf("expected 4 usable CPUs; got %d", cpuCount)
	}

	bspSeen := 0
	for _, cpu := range CPUs() {
		if cpu.IsBSP {
			bspSeen++
			if cpu.APICID != 1 {
				t.Fatalf("expected the BSP to carry APIC id 1; got %d", cpu.APICID)
			}
			if !cpu.IsOnline {
				t.Fatal("expected the BSP to be marked online")
			}
		}
	}
	if bspSeen != 1 {
		t.Fatalf("expected exactly one BSP; got %d", bspSeen)
	}

	// Kernel indices are dense and assigned in walk order.
	for i, cpu := range CPUs() {
		if cpu.KernelIndex != i {
			t.Fatalf("expected dense kernel indices; cpu %d has index %d", i, cpu.KernelIndex)
		}
		if cpu.NumaNode != -1 {
			t.Fatalf("expected node assignment to wait for the NUMA walk; got %d", cpu.NumaNode)
		}
	}

	// The online-capable CPU is usable but not enabled.
	if cpu := CPUs()[2]; cpu.IsEnabled {
		t.Fatal("expected the online-capable CPU to be recorded as not enabled")
	}
	if cpu := CPUs()[3]; cpu.APICID != 0x100 {
		t.Fatalf("expected the x2APIC CPU to carry its 32-bit id; got 0x%x", cpu.APICID)
	}

	if len(IOAPICs()) != 1 || IOAPICs()[0].Address != 0xfec00000 {
		t.Fatalf("unexpected I/O APIC table: %+v", IOAPICs())
	}
	if len(IRQOverrides()) != 1 || IRQOverrides()[0].GSI != 2 {
		t.Fatalf("unexpected override table: %+v", IRQOverrides())
	}
	if LAPICAddress() != 0xfee00000 {
		t.Fatalf("expected LAPIC address 0xfee00000; got 0x%x", LAPICAddress())
	}
	if !HasLegacyPIC() {
		t.Fatal("expected the legacy PIC flag to be honored")
	}
}

func TestDiscoverAppendsMissingBSP(t *testing.T) {
	defer withFakeBSP(7)()

	b := newMADTBuilder()
	b.addLocalAPIC(0, 0, madtFlagEnabled)
	b.addLocalAPIC(1, 1, madtFlagEnabled)

	var out bytes.Buffer
	if err := Discover(b.resolver(), &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if cpuCount != 3 {
		t.Fatalf("expected a synthetic BSP to be appended; got %d CPUs", cpuCount)
	}

	bsp := BSP()
	if bsp == nil || bsp.APICID != 7 {
		t.Fatalf("expected the synthetic BSP to carry APIC id 7; got %+v", bsp)
	}
}

func TestDiscoverStopsOnTruncatedEntry(t *testing.T) {
	defer withFakeBSP(0)()

	b := newMADTBuilder()
	b.addLocalAPIC(0, 0, madtFlagEnabled)
	b.addZeroLengthEntry()
	b.addLocalAPIC(1, 1, madtFlagEnabled)

	var out bytes.Buffer
	if err := Discover(b.resolver(), &out); err != errMalformedMADT {
		t.Fatalf("expected errMalformedMADT; got %v", err)
	}
}

func TestDiscoverWithoutMADT(t *testing.T) {
	defer withFakeBSP(0)()

	var out bytes.Buffer
	if err := Discover(nil, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if cpuCount != 1 {
		t.Fatalf("expected a single synthetic processor; got %d", cpuCount)
	}
	if bsp := BSP(); bsp == nil || !bsp.IsOnline {
		t.Fatalf("expected an online synthetic BSP; got %+v", bsp)
	}
}

func TestDiscoverDropsCPUsPastTheCeiling(t *testing.T) {
	defer withFakeBSP(0)()

	b := newMADTBuilder()
	for i := 0; i < maxCPUs+6; i++ {
		b.addLocalAPIC(uint8(i), uint8(i), madtFlagEnabled)
	}

	var out bytes.Buffer
	if err := Discover(b.resolver(), &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if cpuCount != maxCPUs {
		t.Fatalf("expected the CPU table to cap at %d; got %d", maxCPUs, cpuCount)
	}
	if !bytes.Contains(out.Bytes(), []byte("dropping")) {
		t.Fatal("expected a warning about dropped CPUs")
	}
}
