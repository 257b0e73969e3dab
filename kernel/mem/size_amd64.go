// +build amd64

package mem

const (
	// PointerShift is log2 of the pointer size on this architecture.
	PointerShift = 3

	// PageShift is log2(PageSize): converting between physical addresses
	// and page frame numbers is a shift by this amount.
	PageShift = 12

	// PageSize is the MMU page size in bytes.
	PageSize = Size(1 << PageShift)

	// PageMask masks the offset-within-page bits of an address.
	PageMask = uintptr(PageSize - 1)
)
