// Package kfmt provides the formatted diagnostic output path for the
// kernel. Formatting never allocates: output is staged through a fixed
// on-stack buffer and flushed to the active sink in chunks, so the package
// is safe to call before the Go allocator has been bootstrapped and from
// error paths where an allocation could not be satisfied.
package kfmt

import "io"

// The verbs understood by Printf/Fprintf are the ones kernel code emits:
//
//	%s  string, []byte, or any value with a String() method; space padded
//	%d  signed or unsigned integer in decimal; space padded
//	%x  unsigned integer in lowercase hex; zero padded
//	%t  boolean
//	%%  a literal percent sign
//
// An optional decimal width (e.g. %16x) sets the minimum field width.
// Formatting mistakes are reported inline rather than panicking:
const (
	badNoArg  = "%!(noarg)"
	badType   = "%!(badtype)"
	badVerb   = "%!(noverb)"
	badExtra  = "%!(extra)"
	maxDigits = 20 // a uint64 in decimal
	maxWidth  = 32
)

// Stringer mirrors fmt.Stringer for types that render themselves (memory
// region kinds, BAR kinds, device lifecycle states).
type Stringer interface {
	String() string
}

var (
	// outputSink receives all Printf output once set. While it is nil,
	// output accumulates in the early buffer.
	outputSink io.Writer

	earlyOut earlyBuffer
)

// SetOutputSink directs future Printf output to w and drains everything the
// early buffer captured before a sink existed.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		earlyOut.drainTo(w)
	}
}

// GetOutputSink returns the sink registered via SetOutputSink, or nil while
// output is still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats to the active sink, or to the early buffer if no sink has
// been set yet.
func Printf(format string, args ...interface{}) {
	if outputSink == nil {
		Fprintf(&earlyOut, format, args...)
		return
	}
	Fprintf(outputSink, format, args...)
}

// Fprintf formats to an explicit writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	e := emitter{w: w}

	nextArg := 0
	for i := 0; i < len(format); i++ {
		ch := format[i]
		if ch != '%' {
			e.byte(ch)
			continue
		}

		// Parse the optional width.
		width := 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}
		if width > maxWidth {
			width = maxWidth
		}
		if i == len(format) {
			e.literal(badVerb)
			break
		}

		verb := format[i]
		if verb == '%' {
			e.byte('%')
			continue
		}

		if nextArg >= len(args) {
			e.literal(badNoArg)
			continue
		}
		arg := args[nextArg]
		nextArg++

		switch verb {
		case 's':
			e.fmtString(arg, width)
		case 'd':
			e.fmtDecimal(arg, width)
		case 'x':
			e.fmtHex(arg, width)
		case 't':
			e.fmtBool(arg)
		default:
			e.literal(badVerb)
		}
	}

	for ; nextArg < len(args); nextArg++ {
		e.literal(badExtra)
	}

	e.flush()
}

// emitBufSize is the staging buffer size; larger writes simply flush more
// often.
const emitBufSize = 80

// emitter stages bytes in a fixed buffer and forwards them to w in runs, so
// neither literal text nor converted numbers ever need a heap allocation.
type emitter struct {
	w   io.Writer
	buf [emitBufSize]byte
	n   int
}

func (e *emitter) flush() {
	if e.n > 0 {
		e.w.Write(e.buf[:e.n])
		e.n = 0
	}
}

func (e *emitter) byte(b byte) {
	if e.n == emitBufSize {
		e.flush()
	}
	e.buf[e.n] = b
	e.n++
}

func (e *emitter) literal(s string) {
	for i := 0; i < len(s); i++ {
		e.byte(s[i])
	}
}

func (e *emitter) pad(ch byte, count int) {
	for ; count > 0; count-- {
		e.byte(ch)
	}
}

func (e *emitter) fmtString(arg interface{}, width int) {
	switch v := arg.(type) {
	case string:
		e.pad(' ', width-len(v))
		e.literal(v)
	case []byte:
		e.pad(' ', width-len(v))
		for _, b := range v {
			e.byte(b)
		}
	case Stringer:
		s := v.String()
		e.pad(' ', width-len(s))
		e.literal(s)
	default:
		e.literal(badType)
	}
}

func (e *emitter) fmtBool(arg interface{}) {
	v, isBool := arg.(bool)
	switch {
	case !isBool:
		e.literal(badType)
	case v:
		e.literal("true")
	default:
		e.literal("false")
	}
}

func (e *emitter) fmtDecimal(arg interface{}, width int) {
	if sval, isSigned := toInt64(arg); isSigned {
		if sval < 0 {
			e.byte('-')
			e.fmtUint(uint64(-sval), 10, width-1, ' ')
		} else {
			e.fmtUint(uint64(sval), 10, width, ' ')
		}
		return
	}
	if uval, isInt := toUint64(arg); isInt {
		e.fmtUint(uval, 10, width, ' ')
		return
	}
	e.literal(badType)
}

func (e *emitter) fmtHex(arg interface{}, width int) {
	uval, isInt := toUint64(arg)
	if !isInt {
		if sval, isSigned := toInt64(arg); isSigned {
			uval, isInt = uint64(sval), true
		}
	}
	if !isInt {
		e.literal(badType)
		return
	}
	e.fmtUint(uval, 16, width, '0')
}

// fmtUint converts v in the given base, padding to width with padCh. The
// digits are produced least significant first into a small scratch array
// and emitted in reverse.
func (e *emitter) fmtUint(v uint64, base uint64, width int, padCh byte) {
	var scratch [maxDigits]byte

	digits := 0
	for {
		d := byte(v % base)
		if d < 10 {
			scratch[digits] = '0' + d
		} else {
			scratch[digits] = 'a' + d - 10
		}
		digits++
		v /= base
		if v == 0 {
			break
		}
	}

	e.pad(padCh, width-digits)
	for digits > 0 {
		digits--
		e.byte(scratch[digits])
	}
}

// toUint64 converts any unsigned integer argument to uint64.
func toUint64(arg interface{}) (uint64, bool) {
	switch v := arg.(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case uint:
		return uint64(v), true
	case uintptr:
		return uint64(v), true
	}
	return 0, false
}

// toInt64 converts any signed integer argument to int64.
func toInt64(arg interface{}) (int64, bool) {
	switch v := arg.(type) {
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	}
	return 0, false
}
