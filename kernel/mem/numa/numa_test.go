package numa

import (
	"bytes"
	"protonos/device/acpi/table"
	"protonos/kernel/cpu/topology"
	"protonos/kernel/hal/boot"
	"testing"
	"unsafe"
)

type fakeResolver map[string]*table.SDTHeader

func (r fakeResolver) LookupTable(sig string) *table.SDTHeader {
	return r[sig]
}

type sratBuilder struct {
	buf       []byte
	off       uintptr
	tables    fakeResolver
	keepAlive [][]byte
}

func newSRATBuilder() *sratBuilder {
	b := &sratBuilder{buf: make([]byte, 4096), tables: fakeResolver{}}
	srat := (*table.SRAT)(unsafe.Pointer(&b.buf[0]))
	srat.Signature = [4]byte{'S', 'R', 'A', 'T'}
	b.off = unsafe.Sizeof(table.SRAT{})
	return b
}

func (b *sratBuilder) resolver() fakeResolver {
	srat := (*table.SRAT)(unsafe.Pointer(&b.buf[0]))
	srat.Length = uint32(b.off)
	b.tables["SRAT"] = &srat.SDTHeader
	return b.tables
}

func (b *sratBuilder) addProcAffinity(apicID uint8, domain uint32, flags uint32) {
	e := (*table.SRATEntryProcLocalApicAffinity)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.SRATEntryTypeProcLocalApicAffinity
	e.Length = 16
	e.ProximityDomainLow = uint8(domain)
	e.ProximityDomainHigh = [3]uint8{uint8(domain >> 8), uint8(domain >> 16), uint8(domain >> 24)}
	e.APICID = apicID
	e.Flags = flags
	b.off += 16
}

func (b *sratBuilder) addX2Affinity(apicID, domain, flags uint32) {
	e := (*table.SRATEntryProcLocalX2ApicAffinity)(unsafe.Pointer(&b.buf[b.off]))
	e.Type = table.SRATEntryTypeProcLocalX2ApicAffinity
	e.Length = 24
	e.ProximityDomain = domain
	e.X2APICID = apicID
	e.Flags = flags
	b.off += 24
}

// addMemAffinity writes the 40-byte memory affinity record through raw byte
// stores: its proximity domain field sits at the unaligned record offset 2.
func (b *sratBuilder) addMemAffinity(domain uint32, base, length uint64, flags uint32) {
	rec := b.buf[b.off : b.off+40]
	rec[0] = byte(table.SRATEntryTypeMemoryAffinity)
	rec[1] = 40
	putU32 := func(off int, v uint32) {
		rec[off] = byte(v)
		rec[off+1] = byte(v >> 8)
		rec[off+2] = byte(v >> 16)
		rec[off+3] = byte(v >> 24)
	}
	putU32(2, domain)
	putU32(8, uint32(base))
	putU32(12, uint32(base>>32))
	putU32(16, uint32(length))
	putU32(20, uint32(length>>32))
	putU32(28, flags)
	b.off += 40
}

// addSLIT assembles a SLIT through raw byte stores: the locality count
// occupies bytes 36..44 of the wire header, straddling the Go struct's
// padding.
func (b *sratBuilder) addSLIT(n int, matrix []uint8) {
	buf := make([]byte, 4096)
	slit := (*table.SLIT)(unsafe.Pointer(&buf[0]))
	slit.Signature = [4]byte{'S', 'L', 'I', 'T'}
	slit.Length = uint32(unsafe.Sizeof(table.SLIT{})) + uint32(len(matrix))

	for i := 0; i < 8; i++ {
		buf[36+i] = byte(uint64(n) >> (8 * uint(i)))
	}
	copy(buf[unsafe.Sizeof(table.SLIT{}):], matrix)

	b.tables["SLIT"] = &slit.SDTHeader
	b.keepAlive = append(b.keepAlive, buf)
}

func testCPUs() []topology.CpuDescriptor {
	return []topology.CpuDescriptor{
		{KernelIndex: 0, APICID: 0, NumaNode: -1},
		{KernelIndex: 1, APICID: 1, NumaNode: -1},
		{KernelIndex: 2, APICID: 0x100, NumaNode: -1},
	}
}

func TestDiscoverBuildsNodeTable(t *testing.T) {
	b := newSRATBuilder()
	b.addProcAffinity(0, 0, table.SRATFlagEnabled)
	b.addProcAffinity(1, 1, table.SRATFlagEnabled)
	b.addX2Affinity(0x100, 1, table.SRATFlagEnabled)
	b.addProcAffinity(9, 1, 0) // disabled, must be ignored
	b.addMemAffinity(0, 0, 1<<30, table.SRATFlagEnabled)
	b.addMemAffinity(1, 1<<30, 1<<30, table.SRATFlagEnabled)
	b.addMemAffinity(1, 1<<31, 1<<30, table.SRATFlagEnabled)
	b.addMemAffinity(1, 1<<33, 1<<30, 0) // disabled, must be ignored

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(b.resolver(), cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if NodeCount() != 2 {
		t.Fatalf("expected 2 nodes; got %d", NodeCount())
	}

	node0, node1 := Nodes()[0], Nodes()[1]
	if node0.CPUCount != 1 || node1.CPUCount != 2 {
		t.Fatalf("unexpected CPU distribution: %d/%d", node0.CPUCount, node1.CPUCount)
	}
	if node0.MemoryBase != 0 || node0.MemoryTop != 1<<30 || node0.TotalMemoryBytes != 1<<30 {
		t.Fatalf("unexpected node 0 memory: %+v", node0)
	}
	if node1.MemoryBase != 1<<30 || node1.MemoryTop != 3*(1<<30) || node1.TotalMemoryBytes != 2*(1<<30) {
		t.Fatalf("unexpected node 1 memory: %+v", node1)
	}
	if node0.MemoryTop < node0.MemoryBase || node1.MemoryTop < node1.MemoryBase {
		t.Fatal("memory top must never fall below memory base")
	}

	if cpus[0].NumaNode != 0 || cpus[1].NumaNode != 1 || cpus[2].NumaNode != 1 {
		t.Fatalf("unexpected CPU node assignment: %d/%d/%d",
			cpus[0].NumaNode, cpus[1].NumaNode, cpus[2].NumaNode)
	}

	// Without a SLIT the fallback distances apply.
	if HasDistanceMatrix() {
		t.Fatal("expected no distance matrix without a SLIT")
	}
	if Distance(0, 0) != distLocal || Distance(1, 1) != distLocal {
		t.Fatal("expected self-distance 10")
	}
	if Distance(0, 1) != distRemote || Distance(1, 0) != distRemote {
		t.Fatal("expected remote distance 20")
	}
}

func TestDiscoverCopiesSLIT(t *testing.T) {
	b := newSRATBuilder()
	b.addProcAffinity(0, 0, table.SRATFlagEnabled)
	b.addProcAffinity(1, 1, table.SRATFlagEnabled)
	b.addMemAffinity(0, 0, 1<<30, table.SRATFlagEnabled)
	b.addMemAffinity(1, 1<<30, 1<<30, table.SRATFlagEnabled)
	b.addSLIT(2, []uint8{10, 21, 21, 10})

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(b.resolver(), cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if !HasDistanceMatrix() {
		t.Fatal("expected the SLIT matrix to be adopted")
	}
	if Distance(0, 1) != 21 || Distance(1, 0) != 21 {
		t.Fatalf("expected SLIT distances 21; got %d/%d", Distance(0, 1), Distance(1, 0))
	}
	if Distance(0, 0) != 10 || Distance(1, 1) != 10 {
		t.Fatal("expected SLIT self-distances of 10")
	}
}

func TestDiscoverWarnsOnBadSLIT(t *testing.T) {
	b := newSRATBuilder()
	b.addProcAffinity(0, 0, table.SRATFlagEnabled)
	b.addProcAffinity(1, 1, table.SRATFlagEnabled)
	b.addSLIT(2, []uint8{12, 30, 40, 10})

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(b.resolver(), cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if !bytes.Contains(out.Bytes(), []byte("self-distance")) {
		t.Fatal("expected a warning about the bad self-distance")
	}
	if !bytes.Contains(out.Bytes(), []byte("asymmetric")) {
		t.Fatal("expected a warning about asymmetric distances")
	}
	// The values are kept as-is; validation never rewrites firmware data.
	if Distance(0, 0) != 12 || Distance(0, 1) != 30 {
		t.Fatalf("expected the SLIT values to be kept; got %d/%d", Distance(0, 0), Distance(0, 1))
	}
}

func TestDiscoverSparseDomains(t *testing.T) {
	b := newSRATBuilder()
	b.addProcAffinity(0, 0, table.SRATFlagEnabled)
	b.addProcAffinity(1, 2, table.SRATFlagEnabled)

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(b.resolver(), cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if NodeCount() != 3 {
		t.Fatalf("expected the node table to span 0..2; got %d", NodeCount())
	}
	if !Nodes()[0].IsValid || Nodes()[1].IsValid || !Nodes()[2].IsValid {
		t.Fatal("expected only the referenced domains to be valid")
	}
}

func TestDiscoverDropsDomainsPastTheCap(t *testing.T) {
	b := newSRATBuilder()
	b.addProcAffinity(0, 0, table.SRATFlagEnabled)
	b.addProcAffinity(1, maxNodes+4, table.SRATFlagEnabled)

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(b.resolver(), cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if NodeCount() != 1 {
		t.Fatalf("expected only domain 0; got %d nodes", NodeCount())
	}
	if !bytes.Contains(out.Bytes(), []byte("dropped")) {
		t.Fatal("expected a warning about the dropped domain")
	}
	if cpus[1].NumaNode != -1 {
		t.Fatal("expected the CPU in the dropped domain to stay unassigned")
	}
}

func TestDiscoverWithoutSRAT(t *testing.T) {
	installBootRecord(t, []memRegion{
		{0x0, 0x9f000, 1},          // available
		{0x100000, 0x7fe0000, 1},   // available
		{0x7fe0000, 0x8000000, 2},  // reserved
	})

	cpus := testCPUs()
	var out bytes.Buffer
	if err := Discover(nil, cpus, &out); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	if NodeCount() != 1 {
		t.Fatalf("expected a single fallback node; got %d", NodeCount())
	}

	node := Nodes()[0]
	if !node.IsValid {
		t.Fatal("expected the fallback node to be valid")
	}
	if node.CPUCount != len(cpus) {
		t.Fatalf("expected the fallback node to own all %d CPUs; got %d", len(cpus), node.CPUCount)
	}
	if exp := uint64(0x9f000 + (0x7fe0000 - 0x100000)); node.TotalMemoryBytes != exp {
		t.Fatalf("expected %d bytes of available memory; got %d", exp, node.TotalMemoryBytes)
	}
	for _, cpu := range cpus {
		if cpu.NumaNode != 0 {
			t.Fatal("expected every CPU on the fallback node")
		}
	}
	if Distance(0, 0) != distLocal {
		t.Fatal("expected the fallback self-distance of 10")
	}
}

type memRegion struct {
	start, end uint64
	kind       uint32
}

// installBootRecord points the boot package at a synthetic record carrying
// the given memory map.
func installBootRecord(t *testing.T, regions []memRegion) {
	t.Helper()

	const (
		hdrSize          = 120
		hdrOffMagic      = 0
		hdrOffVersion    = 8
		hdrOffMemMapPhys = 16
		hdrOffEntries    = 24
		hdrOffEntrySize  = 28
		recordMagic      = 0x50524f544f4e4f53
	)

	entries := make([]byte, len(regions)*24)
	for i, region := range regions {
		base := uintptr(unsafe.Pointer(&entries[i*24]))
		*(*uint64)(unsafe.Pointer(base)) = region.start
		*(*uint64)(unsafe.Pointer(base + 8)) = region.end
		*(*uint32)(unsafe.Pointer(base + 16)) = region.kind
	}

	hdr := make([]byte, hdrSize)
	base := uintptr(unsafe.Pointer(&hdr[0]))
	*(*uint64)(unsafe.Pointer(base + hdrOffMagic)) = recordMagic
	*(*uint32)(unsafe.Pointer(base + hdrOffVersion)) = 2
	*(*uint64)(unsafe.Pointer(base + hdrOffMemMapPhys)) = uint64(uintptr(unsafe.Pointer(&entries[0])))
	*(*uint32)(unsafe.Pointer(base + hdrOffEntries)) = uint32(len(regions))
	*(*uint32)(unsafe.Pointer(base + hdrOffEntrySize)) = 24

	bootRecordKeepAlive = append(bootRecordKeepAlive, hdr, entries)
	boot.SetRecordAddr(base)
}

var bootRecordKeepAlive [][]byte
