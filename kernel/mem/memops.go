package mem

import "unsafe"

// Memset and Memcopy operate on raw addresses because their callers (page
// table setup, DMA buffer staging) work with memory that has no Go object
// backing it. Both move machine words while they can and finish the
// unaligned tail a byte at a time.

const wordSize = 1 << PointerShift

// Memset fills size bytes starting at addr with value.
func Memset(addr uintptr, value byte, size uintptr) {
	pattern := uintptr(value)
	pattern |= pattern << 8
	pattern |= pattern << 16
	pattern |= pattern << 32

	for size >= wordSize {
		*(*uintptr)(unsafe.Pointer(addr)) = pattern
		addr += wordSize
		size -= wordSize
	}
	for ; size > 0; size-- {
		*(*byte)(unsafe.Pointer(addr)) = value
		addr++
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap:
// the copy runs front to back.
func Memcopy(src, dst uintptr, size uintptr) {
	for size >= wordSize {
		*(*uintptr)(unsafe.Pointer(dst)) = *(*uintptr)(unsafe.Pointer(src))
		src += wordSize
		dst += wordSize
		size -= wordSize
	}
	for ; size > 0; size-- {
		*(*byte)(unsafe.Pointer(dst)) = *(*byte)(unsafe.Pointer(src))
		src++
		dst++
	}
}
