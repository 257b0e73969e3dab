package main

import "protonos/kernel/kmain"

var (
	bootRecordPtr uintptr
	kernelStart   uintptr
	kernelEnd     uintptr
)

// main makes a dummy call to the actual kernel main entrypoint function. It
// is intentionally defined to prevent the Go compiler from optimizing away the
// real kernel code.
//
// Global variables are passed as arguments to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
// At runtime the rt0 assembly code overwrites them with the boot record
// pointer and the kernel image bounds before jumping to the entrypoint.
func main() {
	kmain.Kmain(bootRecordPtr, kernelStart, kernelEnd)
}
