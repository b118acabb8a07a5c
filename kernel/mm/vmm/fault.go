package vmm

import "pikernel/kernel/irq"

// RecoveryAction is the fault analyzer's verdict, per the spec's
// Continue | Retry | TerminateProcess | Panic enumeration.
type RecoveryAction uint8

const (
	ActionContinue RecoveryAction = iota
	ActionRetry
	ActionTerminateProcess
	ActionPanic
)

// FaultKind classifies the abort being analyzed.
type FaultKind uint8

const (
	FaultRead FaultKind = iota
	FaultWrite
	FaultExec
)

// FaultAnalyzer combines a process's address space with the shared
// COW table to classify a data/instruction abort and either resolve
// it in place or hand back a recovery action, following gopher-os's
// fault.go decision tree (already a faithful x86 implementation of
// this exact policy) generalized to ARM64's DFSC/IFSC vocabulary.
type FaultAnalyzer struct {
	COW *COWTable
}

// Analyze consults the address space's VMA list and the COW table for
// the faulting address and returns the action the exception path
// should take. fromEL0 distinguishes a user fault (terminate on
// irrecoverable conditions) from a kernel-mode fault (panic instead).
func (f *FaultAnalyzer) Analyze(space *AddressSpace, far uintptr, kind FaultKind, fromEL0 bool) RecoveryAction {
	vma, ok := space.Find(far)
	if !ok {
		if _, isGuard := f.findGuard(space, far); isGuard {
			irq.RecordStackOverflow()
		} else {
			space.Stats.MajorFaults++
		}
		return terminateOrPanic(fromEL0)
	}

	page := pageOf(far)
	mapped := space.Table.IsMapped(page)

	if !mapped {
		if vma.Lazy {
			if err := resolveLazyFault(space, far, vma); err != nil {
				return terminateOrPanic(fromEL0)
			}
			return ActionContinue
		}
		return terminateOrPanic(fromEL0)
	}

	if kind == FaultWrite {
		if e, err := space.Table.rawEntry(page); err == nil && e.HasFlags(FlagCOW) {
			if err := f.COW.resolveWriteFault(space, far); err != nil {
				return terminateOrPanic(fromEL0)
			}
			space.Stats.COWResolutions++
			return ActionContinue
		}
	}

	if !permits(vma, kind) {
		// VMA forbids this access kind outright.
		return terminateOrPanic(fromEL0)
	}

	// Mapped, permitted, and not a resolvable COW write: an otherwise
	// unexpected fault status (alignment, TLB conflict, address-size
	// fault). Neither case is recoverable.
	return terminateOrPanic(fromEL0)
}

func permits(vma VMA, kind FaultKind) bool {
	switch kind {
	case FaultRead:
		return vma.Perms.Read
	case FaultWrite:
		return vma.Perms.Write
	case FaultExec:
		return vma.Perms.Exec
	}
	return false
}

// findGuard reports whether far falls within a guard gap adjacent to
// a known stack VMA, classified as "stack overflow" per the spec.
func (f *FaultAnalyzer) findGuard(space *AddressSpace, far uintptr) (VMA, bool) {
	page := pageOf(far)
	for _, v := range space.VMAs() {
		if v.Type != VMAStack {
			continue
		}
		if v.GuardLow && page == v.Start-guardPageSize {
			return v, true
		}
		if v.GuardHigh && page == v.End {
			return v, true
		}
	}
	return VMA{}, false
}

func terminateOrPanic(fromEL0 bool) RecoveryAction {
	if fromEL0 {
		return ActionTerminateProcess
	}
	return ActionPanic
}
