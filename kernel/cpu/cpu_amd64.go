// Package cpu declares the processor-level operations the kernel needs
// during hardware discovery. The declared-without-body functions are
// implemented by the arch assembly linked with the kernel image; everything
// else is derived from CPUID.
package cpu

var cpuidFn = ID

// Halt stops instruction execution on the calling processor. It is the
// terminal state reached by kernel panics.
func Halt()

// FlushTLBEntry invalidates the cached translation for a virtual address
// after its page table entry changes.
func FlushTLBEntry(virtAddr uintptr)

// ID executes the CPUID instruction with EAX set to leaf and returns the
// EAX, EBX, ECX and EDX outputs.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// cpuidFeatureLeaf is the CPUID leaf carrying the processor feature bits;
// bit 9 of EDX advertises an on-chip local APIC.
const (
	cpuidFeatureLeaf      = 1
	cpuidFeatureLocalAPIC = 1 << 9
)

// HasLocalAPIC reports whether the calling processor carries an integrated
// local APIC. The topology walker refuses to touch the APIC MMIO window on
// processors that do not advertise one.
func HasLocalAPIC() bool {
	_, _, _, edx := cpuidFn(cpuidFeatureLeaf)
	return edx&cpuidFeatureLocalAPIC != 0
}
