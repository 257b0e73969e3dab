package kfmt

import (
	"protonos/kernel"
	"protonos/kernel/cpu"
)

// cpuHaltFn is swapped out by tests; the compiler inlines the direct call
// in kernel builds.
var cpuHaltFn = cpu.Halt

// Panic reports an unrecoverable error on the active diagnostic sink and
// halts the boot processor. It never returns. Besides explicit kernel
// calls, Panic is the redirection target for the runtime's own panic path.
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	Printf("\n*** kernel panic ***\n")

	switch t := e.(type) {
	case *kernel.Error:
		Printf("%s: %s\n", t.Module, t.Message)
	case string:
		Printf("%s\n", t)
	case error:
		Printf("%s\n", t.Error())
	}

	Printf("halting the boot processor\n")
	cpuHaltFn()
}

// panicString serves as a redirect target for runtime.throw.
//
//go:redirect-from runtime.throw
func panicString(msg string) {
	Panic(msg)
}
