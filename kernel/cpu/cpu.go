// Package cpu collects the small set of register-level primitives the
// rest of the kernel needs: interrupt masking, TLB maintenance, the
// active translation table base registers, and the fault syndrome
// registers. On real hardware each of these is a handful of MSR/MRS/
// TLBI instructions; here they are plain functions over simulated
// register state, with Halt going through the replaceable HaltFn
// variable. Packages that must substitute a primitive in tests wrap it
// in their own function variable (as vmm does), the same indirection
// the teacher codebase uses for cpu.Halt/cpu.ReadCR2/cpu.SwitchPDT.
package cpu

import "sync/atomic"

// InterruptMask models the IRQ/FIQ bits of PSTATE.DAIF relevant to this
// kernel: bit 0 masks IRQ, bit 1 masks FIQ.
type InterruptMask uint8

const (
	MaskIRQ InterruptMask = 1 << 0
	MaskFIQ InterruptMask = 1 << 1
)

var (
	daif           uint32 // simulated PSTATE.DAIF IRQ/FIQ bits
	esrEL1         uint64
	farEL1         uint64
	ttbr0          uint64
	ttbr1          uint64
	mairEL1        uint64
	tcrEL1         uint64
	sctlrEL1       uint64
	activeASID     uint16
	cycleCounter   uint64
	haltCalledFlag int32

	// HaltFn is invoked by Halt. Tests substitute it to observe the
	// idle path without blocking.
	HaltFn = func() { atomic.AddInt32(&haltCalledFlag, 1) }
)

// EnableInterrupts clears the IRQ and FIQ masks.
func EnableInterrupts() {
	atomic.StoreUint32(&daif, 0)
}

// DisableInterrupts sets both the IRQ and FIQ masks.
func DisableInterrupts() {
	atomic.StoreUint32(&daif, uint32(MaskIRQ|MaskFIQ))
}

// InterruptsMasked reports the current IRQ/FIQ mask bits.
func InterruptsMasked() InterruptMask {
	return InterruptMask(atomic.LoadUint32(&daif))
}

// EnterCritical masks IRQ and FIQ and returns the previous mask so the
// caller can restore it with LeaveCritical. Nested calls are permitted:
// each call captures its own previous value.
func EnterCritical() InterruptMask {
	prev := InterruptMask(atomic.SwapUint32(&daif, uint32(MaskIRQ|MaskFIQ)))
	return prev
}

// LeaveCritical restores a mask previously returned by EnterCritical.
func LeaveCritical(prev InterruptMask) {
	atomic.StoreUint32(&daif, uint32(prev))
}

// Halt parks the CPU. On hardware this is a WFI/WFE loop; on the host it
// invokes HaltFn, letting callers (the idle task) and tests observe the
// transition without actually blocking the process.
func Halt() {
	HaltFn()
}

// FlushTLBEntry invalidates a single TLB entry tagged with asid for virtAddr.
func FlushTLBEntry(virtAddr uintptr, asid uint16) {
	// modeled as a no-op counter bump; the vmm package is the only
	// caller and only cares that the barrier sequence below was issued.
	tlbFlushesByEntry++
}

// FlushTLBASID invalidates every TLB entry tagged with asid (tlbi aside1).
func FlushTLBASID(asid uint16) {
	tlbFlushesByASID++
}

// FlushTLBAll invalidates the entire TLB (tlbi vmalle1), used for kernel
// mapping changes and on ASID counter wrap.
func FlushTLBAll() {
	tlbFlushesAll++
}

var (
	tlbFlushesByEntry uint64
	tlbFlushesByASID  uint64
	tlbFlushesAll     uint64
)

// TLBFlushCounts returns the number of times each flush variant has been
// issued, for tests asserting on the documented barrier discipline.
func TLBFlushCounts() (byEntry, byASID, all uint64) {
	return tlbFlushesByEntry, tlbFlushesByASID, tlbFlushesAll
}

// DSBISHST, DSBISH and ISB model the barrier instructions the MMU
// manager must issue around translation table writes and TLB
// maintenance. They are no-ops on the host but give every call site a
// named, auditable place to show the documented ordering:
// dsb ishst -> tlbi -> dsb ish -> isb.
func DSBISHST() {}
func DSBISH()   {}
func ISB()      {}

// SwitchTTBR0 installs a new user root translation table physical
// address tagged with asid into TTBR0_EL1 and issues the isb required
// before it takes effect.
func SwitchTTBR0(rootPhysAddr uintptr, asid uint16) {
	ttbr0 = uint64(rootPhysAddr) | uint64(asid)<<48
	activeASID = asid
	ISB()
}

// ActiveTTBR0 returns the physical address portion of the currently
// installed TTBR0_EL1 and its ASID.
func ActiveTTBR0() (rootPhysAddr uintptr, asid uint16) {
	return uintptr(ttbr0 &^ (uint64(0xffff) << 48)), activeASID
}

// SwitchTTBR1 installs the kernel root translation table. Unlike TTBR0
// it is set once at boot and is not expected to change afterwards.
func SwitchTTBR1(rootPhysAddr uintptr) {
	ttbr1 = uint64(rootPhysAddr)
	ISB()
}

// ActiveTTBR1 returns the physical address of the kernel root table.
func ActiveTTBR1() uintptr {
	return uintptr(ttbr1)
}

// ReadESR returns the simulated ESR_EL1 value captured by the most
// recent synchronous exception.
func ReadESR() uint64 { return esrEL1 }

// WriteESR is used by the exception injection path (real vector entry
// on hardware, explicit call in this host model) to record the
// syndrome before the frame is handed to the dispatcher.
func WriteESR(v uint64) { esrEL1 = v }

// ReadFAR / WriteFAR mirror ReadESR / WriteESR for FAR_EL1.
func ReadFAR() uint64   { return farEL1 }
func WriteFAR(v uint64) { farEL1 = v }

// ReadCycleCounter models the PMU cycle counter exposed to ASLR seeding
// and the time source collaborator.
func ReadCycleCounter() uint64 {
	cycleCounter += 104729 // odd step keeps successive reads distinct
	return cycleCounter
}

// ReadMAIR / WriteMAIR, ReadTCR / WriteTCR and ReadSCTLR / WriteSCTLR
// model MAIR_EL1, TCR_EL1 and SCTLR_EL1: the three registers the boot
// sequence configures before any translation table is walked.
func ReadMAIR() uint64    { return mairEL1 }
func WriteMAIR(v uint64)  { mairEL1 = v }
func ReadTCR() uint64     { return tcrEL1 }
func WriteTCR(v uint64)   { tcrEL1 = v }
func ReadSCTLR() uint64   { return sctlrEL1 }
func WriteSCTLR(v uint64) { sctlrEL1 = v }

// sctlrMMUEnable is SCTLR_EL1's M bit.
const sctlrMMUEnable = uint64(1) << 0

// EnableMMU sets SCTLR_EL1's M bit and issues the isb required before
// the new translation regime takes effect.
func EnableMMU() {
	sctlrEL1 |= sctlrMMUEnable
	ISB()
}

// DisableMMU clears SCTLR_EL1's M bit.
func DisableMMU() {
	sctlrEL1 &^= sctlrMMUEnable
	ISB()
}

// MMUEnabled reports SCTLR_EL1's M bit.
func MMUEnabled() bool { return sctlrEL1&sctlrMMUEnable != 0 }
