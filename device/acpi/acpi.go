// Package acpi locates and validates the ACPI table set handed off by
// firmware, starting from the RSDP physical address reported by the boot
// record. It exposes table lookup by 4-byte signature to the CPU and NUMA
// topology walkers built on top of it.
package acpi

import (
	"io"
	"protonos/device"
	"protonos/device/acpi/table"
	"protonos/kernel"
	"protonos/kernel/hal/boot"
	"protonos/kernel/kfmt"
	"protonos/kernel/mem"
	"protonos/kernel/mem/pmm"
	"protonos/kernel/mem/vmm"
	"unsafe"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	errNoAcpi                = &kernel.Error{Module: "acpi", Message: "boot record did not report an ACPI RSDP"}
	errRSDPInvalid           = &kernel.Error{Module: "acpi", Message: "RSDP signature or checksum mismatch"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}

	identityMapFn = vmm.IdentityMapRegion

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	fadtSignature = "FACP"
	hpetSignature = "HPET"
)

// acpiDriver implements device.Driver and is also the concrete AcpiWalker:
// once initialized, LookupTable can be used by any other component to look up
// a table by its 4-byte signature.
type acpiDriver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	// The ACPI table map allows the driver to lookup an ACPI table header
	// by the table name. All tables included in this map are mapped into
	// memory.
	tableMap map[string]*table.SDTHeader
}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}

	drv.printTableInfo(w)
	drv.reportHPET(w)

	activeResolver = drv

	return nil
}

// reportHPET surfaces the high precision event timer block, if firmware
// describes one, by logging its number, MMIO base and minimum tick. The
// timer is not programmed and its MMIO range is not reserved.
func (drv *acpiDriver) reportHPET(w io.Writer) {
	header := drv.tableMap[hpetSignature]
	if header == nil {
		return
	}

	hpet := (*table.HPET)(unsafe.Pointer(header))
	kfmt.Fprintf(w, "HPET %d at 0x%16x, minimum tick %d\n",
		hpet.HPETNumber, hpet.BaseAddress(), hpet.MinimumTick())
}

// activeResolver holds the resolver view of the initialized ACPI driver. It
// is written exactly once, during hardware detection, and read by the CPU and
// NUMA topology walkers that probe after ACPI.
var activeResolver table.Resolver

// ActiveResolver returns the table resolver for the ACPI driver initialized
// during hardware detection, or nil if no valid ACPI table set was found.
func ActiveResolver() table.Resolver {
	return activeResolver
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 1, 0
}

// LookupTable implements table.Resolver, returning the header for the ACPI
// table whose signature matches sig, or nil if no such table was found (or
// failed its checksum and was skipped during enumeration).
func (drv *acpiDriver) LookupTable(sig string) *table.SDTHeader {
	return drv.tableMap[sig]
}

func (drv *acpiDriver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables detects and maps all ACPI tables that are present. Besides
// the table list defined by the RSDT/XSDT, this method also peeks into the
// FADT (if found) looking for the address of the DSDT.
func (drv *acpiDriver) enumerateTables(w io.Writer) *kernel.Error {
	header, sizeofHeader, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	var (
		acpiRev      = header.Revision
		payloadLen   = header.Length - uint32(sizeofHeader)
		sdtAddresses []uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	switch drv.useXSDT {
	case true:
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	default:
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		if addr == 0 {
			continue
		}

		if header, _, err = mapACPITable(addr); err != nil {
			switch err {
			case errTableChecksumMismatch:
				kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
					string(header.Signature[:]),
					uintptr(unsafe.Pointer(header)),
					header.Length,
				)
				continue
			default:
				return err
			}
		}

		signature := string(header.Signature[:])
		drv.tableMap[signature] = header

		// The FADT allows us to lookup the DSDT table address
		if signature == fadtSignature {
			fadt := (*table.FADT)(unsafe.Pointer(header))

			dsdtAddr := uintptr(fadt.Dsdt)
			if acpiRev >= acpiRev2Plus {
				dsdtAddr = uintptr(fadt.Ext.Dsdt)
			}

			if header, _, err = mapACPITable(dsdtAddr); err != nil {
				switch err {
				case errTableChecksumMismatch:
					kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
						string(header.Signature[:]),
						uintptr(unsafe.Pointer(header)),
						header.Length,
					)
					continue
				default:
					return err
				}
			}

			drv.tableMap[string(header.Signature[:])] = header
		}
	}

	return nil
}

// mapACPITable attempts to map and parse the header for the ACPI table
// starting at the given address. It then uses the length field of the header
// to expand the mapping to cover the table contents and verifies the
// checksum before returning a pointer to the table header.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	var headerPage vmm.Page

	// Identity-map the table header so we can access its length field.
	// ACPI tables live in AcpiReclaim memory that is never actually
	// reclaimed, so repeated calls stay idempotent.
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	if headerPage, err = identityMapFn(pmm.FrameFromAddress(tableAddr), mem.Size(sizeofHeader), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	// Expand mapping to cover the table contents
	headerPageAddr := headerPage.Address() + vmm.PageOffset(tableAddr)
	header = (*table.SDTHeader)(unsafe.Pointer(headerPageAddr))
	if _, err = identityMapFn(pmm.FrameFromAddress(tableAddr), mem.Size(header.Length), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerPageAddr, header.Length) {
		err = errTableChecksumMismatch
	}

	return header, sizeofHeader, err
}

// locateRoot validates the RSDP at the given physical address (as reported
// by the boot record) and returns the physical address of the RSDT or XSDT
// it points to, along with whether the XSDT should be preferred: revision 0
// only carries an RSDT (32-bit pointers) while revision >= 2 prefers the
// XSDT (64-bit pointers) when its address field is non-zero.
func locateRoot(rsdpAddr uintptr) (uintptr, bool, *kernel.Error) {
	if rsdpAddr == 0 {
		return 0, false, errNoAcpi
	}

	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	for i, b := range rsdpSignature {
		if rsdp.Signature[i] != b {
			return 0, false, errRSDPInvalid
		}
	}

	if rsdp.Revision == acpiRev1 {
		if !validTable(rsdpAddr, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, errRSDPInvalid
		}
		return uintptr(rsdp.RSDTAddr), false, nil
	}

	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	if !validTable(rsdpAddr, uint32(unsafe.Sizeof(*rsdp2))) {
		return 0, false, errRSDPInvalid
	}

	if rsdp2.XSDTAddr != 0 {
		return uintptr(rsdp2.XSDTAddr), true, nil
	}

	return uintptr(rsdp2.RSDTAddr), false, nil
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var (
		i   uint32
		sum uint8
	)

	for i = 0; i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	rootAddr, useXSDT, err := locateRoot(boot.RSDP())
	if err != nil {
		return nil
	}

	return &acpiDriver{
		rsdtAddr: rootAddr,
		useXSDT:  useXSDT,
	}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderBeforeACPI,
		Probe: probeForACPI,
	})
}
