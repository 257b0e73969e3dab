package kfmt

import (
	"bytes"
	"testing"
)

// kindStringer stands in for the enum types (memory kinds, BAR kinds,
// device states) that render themselves via a String method.
type kindStringer uint8

func (kindStringer) String() string { return "available" }

func TestFprintf(t *testing.T) {
	specs := []struct {
		desc   string
		format string
		args   []interface{}
		exp    string
	}{
		{"plain text", "hello world\n", nil, "hello world\n"},
		{"literal percent", "100%% done", nil, "100% done"},

		{"string", "dev %s up", []interface{}{"sata0"}, "dev sata0 up"},
		{"string padded", "(%6s)", []interface{}{"FACP"}, "(  FACP)"},
		{"byte slice", "%s", []interface{}{[]byte("raw")}, "raw"},
		{"stringer", "kind: %s", []interface{}{kindStringer(0)}, "kind: available"},

		{"decimal int", "%d", []interface{}{42}, "42"},
		{"decimal negative", "%d", []interface{}{int32(-7)}, "-7"},
		{"decimal uint64 max", "%d", []interface{}{uint64(18446744073709551615)}, "18446744073709551615"},
		{"decimal zero", "%d", []interface{}{0}, "0"},
		{"decimal padded", "[%4d]", []interface{}{uint16(12)}, "[  12]"},

		{"hex", "0x%x", []interface{}{uint32(0xbeef)}, "0xbeef"},
		{"hex zero padded", "0x%8x", []interface{}{uint32(0xbeef)}, "0x0000beef"},
		{"hex uintptr", "%16x", []interface{}{uintptr(0xfee00000)}, "00000000fee00000"},
		{"hex from signed", "%x", []interface{}{255}, "ff"},

		{"bool true", "%t", []interface{}{true}, "true"},
		{"bool false", "%t", []interface{}{false}, "false"},

		{"mixed", "%s=%d (0x%4x)", []interface{}{"pi", 3, uint16(0x31)}, "pi=3 (0x0031)"},

		{"missing arg", "a %d b", nil, "a %!(noarg) b"},
		{"extra arg", "done", []interface{}{1}, "done%!(extra)"},
		{"wrong type", "%d", []interface{}{"nope"}, "%!(badtype)"},
		{"unknown verb", "%q", []interface{}{1}, "%!(noverb)"},
		{"dangling percent", "50%", nil, "50%!(noverb)"},
	}

	for _, spec := range specs {
		var sink bytes.Buffer
		Fprintf(&sink, spec.format, spec.args...)
		if got := sink.String(); got != spec.exp {
			t.Errorf("%s: expected %q; got %q", spec.desc, spec.exp, got)
		}
	}
}

func TestFprintfLongOutputFlushes(t *testing.T) {
	// Output longer than the staging buffer must arrive intact across
	// multiple flushes.
	long := make([]byte, 3*emitBufSize+7)
	for i := range long {
		long[i] = byte('a' + i%26)
	}

	var sink bytes.Buffer
	Fprintf(&sink, "%s", long)

	if !bytes.Equal(sink.Bytes(), long) {
		t.Fatal("expected long output to survive staged flushing")
	}
}

func TestPrintfBuffersUntilSinkRegistered(t *testing.T) {
	defer SetOutputSink(nil)

	// No sink: output lands in the early buffer.
	SetOutputSink(nil)
	Printf("buffered %d\n", 1)

	var sink bytes.Buffer
	SetOutputSink(&sink)
	if got := sink.String(); got != "buffered 1\n" {
		t.Fatalf("expected the early output to drain into the new sink; got %q", got)
	}

	// With a sink: output goes straight through.
	Printf("direct %d\n", 2)
	if got := sink.String(); got != "buffered 1\ndirect 2\n" {
		t.Fatalf("expected direct output after a sink exists; got %q", got)
	}
}
