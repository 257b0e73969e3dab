// Package numa builds the node table from the ACPI SRAT and SLIT tables:
// which processors and memory ranges belong to which proximity domain, and
// how expensive it is to reach one domain from another. Machines without an
// SRAT collapse to a single node that owns everything.
package numa

import (
	"io"
	"protonos/device/acpi/table"
	"protonos/kernel"
	"protonos/kernel/cpu/topology"
	"protonos/kernel/hal/boot"
	"protonos/kernel/kfmt"
	"unsafe"
)

// maxNodes caps the node table. Proximity domains beyond the cap are
// dropped with a warning.
const maxNodes = 16

// Distance values used when no SLIT is present: a node is at distance 10
// from itself and 20 from everyone else, mirroring the units the SLIT
// itself uses.
const (
	distLocal  = 10
	distRemote = 20
)

const (
	sratSignature = "SRAT"
	slitSignature = "SLIT"
)

var errMalformedSRAT = &kernel.Error{Module: "numa", Message: "SRAT contains a truncated entry"}

// Node aggregates the processors and memory ranges of one proximity
// domain.
type Node struct {
	// ID equals the ACPI proximity domain id.
	ID int

	CPUCount int

	MemoryBase       uint64
	MemoryTop        uint64
	TotalMemoryBytes uint64

	// IsValid is false for ids inside 0..max(domain) that no SRAT entry
	// ever referenced.
	IsValid bool
}

var (
	nodes     [maxNodes]Node
	nodeCount int

	distances [maxNodes * maxNodes]uint8
	haveSLIT  bool
)

// Nodes returns the node table built by Discover.
func Nodes() []Node { return nodes[:nodeCount] }

// NodeCount returns the number of nodes in the table.
func NodeCount() int { return nodeCount }

// HasDistanceMatrix returns true if the distances came from a SLIT rather
// than the local/remote fallback.
func HasDistanceMatrix() bool { return haveSLIT }

// Distance returns the relative access cost from node i to node j in SLIT
// units (10 = local).
func Distance(i, j int) uint8 {
	if i < 0 || j < 0 || i >= nodeCount || j >= nodeCount {
		return 0
	}
	return distances[i*maxNodes+j]
}

func reset() {
	nodeCount = 0
	haveSLIT = false
	for i := range nodes {
		nodes[i] = Node{}
	}
}

// fillDefaultDistances seeds the distance matrix with the local/remote
// fallback used when no SLIT was found.
func fillDefaultDistances() {
	for i := 0; i < nodeCount; i++ {
		for j := 0; j < nodeCount; j++ {
			if i == j {
				distances[i*maxNodes+j] = distLocal
			} else {
				distances[i*maxNodes+j] = distRemote
			}
		}
	}
}

// Discover walks the SRAT and SLIT reachable through resolver, builds the
// node table and annotates each CPU descriptor with its node id. With no
// SRAT present a single node covering all boot-record memory is created.
func Discover(resolver table.Resolver, cpus []topology.CpuDescriptor, w io.Writer) *kernel.Error {
	reset()

	var header *table.SDTHeader
	if resolver != nil {
		header = resolver.LookupTable(sratSignature)
	}
	if header == nil {
		kfmt.Fprintf(w, "SRAT not found; assuming a single node\n")
		buildSingleNode(cpus)
		fillDefaultDistances()
		return nil
	}

	if err := walkSRAT(header, cpus, w); err != nil {
		return err
	}

	fillDefaultDistances()
	if resolver != nil {
		if slit := resolver.LookupTable(slitSignature); slit != nil {
			copySLIT(slit, w)
		}
	}

	for i := 0; i < nodeCount; i++ {
		kfmt.Fprintf(w, "node %d: %d CPUs, %d bytes (0x%x - 0x%x)\n",
			uint64(nodes[i].ID), uint64(nodes[i].CPUCount),
			nodes[i].TotalMemoryBytes, nodes[i].MemoryBase, nodes[i].MemoryTop)
	}
	return nil
}

// buildSingleNode constructs the no-SRAT fallback: one node owning every
// available memory region and every CPU.
func buildSingleNode(cpus []topology.CpuDescriptor) {
	node := &nodes[0]
	node.IsValid = true

	boot.VisitMemoryMap(func(region *boot.MemoryMapEntry) bool {
		if region.Kind != boot.MemAvailable {
			return true
		}
		accumulateMemory(node, region.PhysStart, region.PhysEnd-region.PhysStart)
		return true
	})

	node.CPUCount = len(cpus)
	for i := range cpus {
		cpus[i].NumaNode = 0
	}
	nodeCount = 1
}

func accumulateMemory(node *Node, base, length uint64) {
	top := base + length
	if node.TotalMemoryBytes == 0 || base < node.MemoryBase {
		node.MemoryBase = base
	}
	if top > node.MemoryTop {
		node.MemoryTop = top
	}
	node.TotalMemoryBytes += length
}

// claimNode marks a proximity domain as observed, growing the node table
// so it spans 0..domain. Domains past the cap report failure.
func claimNode(domain uint32, w io.Writer) (int, bool) {
	if domain >= maxNodes {
		kfmt.Fprintf(w, "proximity domain %d past the %d-node cap; dropped\n", uint64(domain), uint64(maxNodes))
		return 0, false
	}

	id := int(domain)
	if id >= nodeCount {
		nodeCount = id + 1
	}

	node := &nodes[id]
	node.ID = id
	node.IsValid = true
	return id, true
}

// walkSRAT iterates the affinity records following the SRAT header,
// aggregating per-domain CPU counts and memory ranges and assigning node
// ids back into the CPU descriptors.
func walkSRAT(header *table.SDTHeader, cpus []topology.CpuDescriptor, w io.Writer) *kernel.Error {
	var (
		sratLen  = unsafe.Sizeof(table.SRAT{})
		cur      = uintptr(unsafe.Pointer(header)) + sratLen
		tableEnd = uintptr(unsafe.Pointer(header)) + uintptr(header.Length)
	)

	for cur+unsafe.Sizeof(table.SRATEntry{}) <= tableEnd {
		entry := (*table.SRATEntry)(unsafe.Pointer(cur))
		if entry.Length < 2 {
			kfmt.Fprintf(w, "%s\n", errMalformedSRAT.Message)
			return errMalformedSRAT
		}

		switch entry.Type {
		case table.SRATEntryTypeProcLocalApicAffinity:
			aff := (*table.SRATEntryProcLocalApicAffinity)(unsafe.Pointer(cur))
			if aff.Flags&table.SRATFlagEnabled != 0 {
				assignCPU(uint32(aff.APICID), aff.ProximityDomain(), cpus, w)
			}
		case table.SRATEntryTypeProcLocalX2ApicAffinity:
			aff := (*table.SRATEntryProcLocalX2ApicAffinity)(unsafe.Pointer(cur))
			if aff.Flags&table.SRATFlagEnabled != 0 {
				assignCPU(aff.X2APICID, aff.ProximityDomain, cpus, w)
			}
		case table.SRATEntryTypeMemoryAffinity:
			aff := (*table.SRATEntryMemoryAffinity)(unsafe.Pointer(cur))
			if aff.Flags&table.SRATFlagEnabled != 0 {
				if id, ok := claimNode(aff.ProximityDomain(), w); ok {
					accumulateMemory(&nodes[id], aff.Base(), aff.RangeLength())
				}
			}
		}

		cur += uintptr(entry.Length)
	}

	if nodeCount == 0 {
		kfmt.Fprintf(w, "SRAT carried no usable affinity records; assuming a single node\n")
		buildSingleNode(cpus)
	}
	return nil
}

// assignCPU binds the CPU with the given APIC id to a node.
func assignCPU(apicID, domain uint32, cpus []topology.CpuDescriptor, w io.Writer) {
	id, ok := claimNode(domain, w)
	if !ok {
		return
	}

	nodes[id].CPUCount++
	for i := range cpus {
		if cpus[i].APICID == apicID {
			cpus[i].NumaNode = id
			return
		}
	}
}

// copySLIT copies the SLIT's NxN distance matrix over the defaults. The
// matrix is validated rather than trusted: a self-distance other than 10 or
// an asymmetric pair is logged and kept, never fatal.
func copySLIT(header *table.SDTHeader, w io.Writer) {
	slit := (*table.SLIT)(unsafe.Pointer(header))
	matrixBase := uintptr(unsafe.Pointer(header)) + unsafe.Sizeof(table.SLIT{})

	n := int(slit.LocalityCount())
	if n != nodeCount {
		kfmt.Fprintf(w, "SLIT covers %d localities but SRAT built %d nodes; using the overlap\n",
			uint64(n), uint64(nodeCount))
	}
	if n > nodeCount {
		n = nodeCount
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			dist := *(*uint8)(unsafe.Pointer(matrixBase + uintptr(int(slit.LocalityCount())*i+j)))
			distances[i*maxNodes+j] = dist
		}
	}
	haveSLIT = true

	for i := 0; i < n; i++ {
		if d := distances[i*maxNodes+i]; d != distLocal {
			kfmt.Fprintf(w, "SLIT self-distance for node %d is %d, expected %d\n", uint64(i), uint64(d), uint64(distLocal))
		}
		for j := i + 1; j < n; j++ {
			if distances[i*maxNodes+j] != distances[j*maxNodes+i] {
				kfmt.Fprintf(w, "SLIT distance (%d,%d) is asymmetric\n", uint64(i), uint64(j))
			}
		}
	}
}
