package pmm

import (
	"protonos/kernel/mem"
	"testing"
)

func TestFrameAddressRoundTrip(t *testing.T) {
	specs := []struct {
		addr  uintptr
		frame Frame
	}{
		{0x0, 0},
		{0x1000, 1},
		{0xfee00000, 0xfee00},
		{0x123456789000, 0x123456789},
	}

	for _, spec := range specs {
		if got := FrameFromAddress(spec.addr); got != spec.frame {
			t.Errorf("FrameFromAddress(0x%x): expected frame 0x%x; got 0x%x", spec.addr, spec.frame, got)
		}
		if got := spec.frame.Address(); got != spec.addr {
			t.Errorf("frame 0x%x: expected address 0x%x; got 0x%x", spec.frame, spec.addr, got)
		}
	}
}

func TestFrameFromAddressRoundsDown(t *testing.T) {
	// Addresses inside a page resolve to the page's frame.
	for _, off := range []uintptr{1, 0x7ff, uintptr(mem.PageSize) - 1} {
		if got := FrameFromAddress(0x2000 + off); got != 2 {
			t.Fatalf("expected address 0x%x to land in frame 2; got 0x%x", 0x2000+off, got)
		}
	}
}

func TestInvalidFrame(t *testing.T) {
	if InvalidFrame.Valid() {
		t.Fatal("expected InvalidFrame to report itself invalid")
	}
	if !Frame(0).Valid() {
		t.Fatal("expected frame 0 to be valid")
	}
	if !FrameFromAddress(0xfee00000).Valid() {
		t.Fatal("expected a frame derived from a real address to be valid")
	}
}
