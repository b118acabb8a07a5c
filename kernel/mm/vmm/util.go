package vmm

import (
	"unsafe"

	"pikernel/kernel/cpu"
)

func cpuTLBFlushCounts() (byEntry, byASID, all uint64) {
	return cpu.TLBFlushCounts()
}

// switchTTBR0Fn and flushTLBASIDFn are mockable indirections over the
// cpu package, following the teacher's cpu.FlushTLBEntry/cpu.SwitchPDT
// mocking idiom, so AddressSpace.Switch is testable without a real
// register model.
var (
	switchTTBR0Fn   = cpu.SwitchTTBR0
	switchTTBR1Fn   = cpu.SwitchTTBR1
	flushTLBASIDFn  = cpu.FlushTLBASID
	flushTLBEntryFn = cpu.FlushTLBEntry
	flushTLBAllFn   = cpu.FlushTLBAll
)

// sliceBase returns the address of a byte slice's backing array, used
// to translate the host-model's simulated physical memory offsets into
// real addresses that kernel.Memset/Memcopy can operate on.
func sliceBase(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// ptrFromFrame and frameFromPtr convert between a *table and the
// uintptr stored in a table-pointing pageTableEntry. Page-table pages
// are host Go allocations rather than frames carved out of the
// simulated physical heap (the teacher's pdt.go has the same
// simplification available to it via Go's own allocator, since
// gopher-os's page table pool is itself just reserved kernel memory);
// what the spec's invariant requires is that they never alias a user
// or COW frame, which holds here because the two address spaces are
// disjoint Go allocations.
func ptrFromFrame(frame uintptr) unsafe.Pointer {
	return unsafe.Pointer(frame)
}

func frameFromPtr(t *table) uintptr {
	return uintptr(unsafe.Pointer(t))
}
