package cpu

import "testing"

func TestHasLocalAPIC(t *testing.T) {
	defer func() {
		cpuidFn = ID
	}()

	specs := []struct {
		desc string
		edx  uint32
		exp  bool
	}{
		{"APIC bit set", cpuidFeatureLocalAPIC, true},
		{"APIC bit set among others", 0xffffffff, true},
		{"APIC bit clear", 0xfffffdff, false},
		{"no features", 0, false},
	}

	for _, spec := range specs {
		var gotLeaf uint32
		cpuidFn = func(leaf uint32) (uint32, uint32, uint32, uint32) {
			gotLeaf = leaf
			return 0, 0, 0, spec.edx
		}

		if got := HasLocalAPIC(); got != spec.exp {
			t.Errorf("%s: expected %t; got %t", spec.desc, spec.exp, got)
		}
		if gotLeaf != cpuidFeatureLeaf {
			t.Errorf("%s: expected CPUID leaf %d to be queried; got %d",
				spec.desc, cpuidFeatureLeaf, gotLeaf)
		}
	}
}
