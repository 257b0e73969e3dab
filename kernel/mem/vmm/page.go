package vmm

import "protonos/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// PageFromAddress returns the Page containing virtAddr; addresses inside a
// page round down to the page start.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> mem.PageShift)
}

// PageOffset returns the offset of a virtual address within its page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & mem.PageMask
}
