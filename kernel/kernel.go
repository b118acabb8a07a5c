// Package kernel provides the allocator-free primitives every other
// subsystem package depends on: a plain error type, the panic path, and
// raw memory helpers.
package kernel

import (
	"reflect"
	"unsafe"
)

// Error describes a kernel error. All kernel sentinel errors are declared
// as package-level *Error variables rather than created with errors.New,
// since several call sites (the physical allocator, the exception path)
// must be able to report failures before any heap is available.
type Error struct {
	// Module is the subsystem that raised the error.
	Module string
	// Message is a short, human readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

var (
	// panicSinkFn receives the formatted panic banner. Tests substitute
	// this to capture panic output instead of halting the process.
	panicSinkFn = defaultPanicSink

	// haltFn is invoked after the banner has been printed. Substituted
	// by tests so that Panic does not actually terminate the test binary.
	haltFn = defaultHalt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

func defaultPanicSink(s string) {
	println(s)
}

func defaultHalt() {
	select {}
}

// Panic reports an unrecoverable error and halts. It is the terminal
// path for the "Fatal" error class; its callers are kmain's handling of
// unrecoverable synchronous exceptions and kernel-mode faults, and
// kmain.Run when the shell returns. SError, shadow-stack mismatches,
// heap canary corruption and unknown IRQ sources are reported to their
// callers as errors or counters and do not reach Panic.
func Panic(e interface{}) {
	var err *Error
	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	default:
		err = errRuntimePanic
	}

	panicSinkFn("\n-----------------------------------\n[" + err.Module + "] unrecoverable error: " + err.Message +
		"\n*** kernel panic: system halted ***\n-----------------------------------\n")
	haltFn()
}

// Memset sets size bytes starting at addr to value.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}
	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))
	target[0] = value
	for index := uintptr(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The regions must not overlap.
func Memcopy(src, dst uintptr, size uintptr) {
	if size == 0 {
		return
	}
	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))
	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))
	copy(dstSlice, srcSlice)
}
