package vmm

import "pikernel/kernel"

// resolveLazyFault implements the fault analyzer's lazy-allocation
// branch: allocate a zero-initialized frame and install it with the
// VMA's permissions, generalized from the teacher's
// ReservedZeroedFrame-backed lazy mapping (map.go) into an explicit
// per-fault allocation rather than a single shared reserved frame,
// since this kernel must give each lazily-faulted page independent
// storage (two different lazy pages must not alias).
func resolveLazyFault(space *AddressSpace, va uintptr, vma VMA) *kernel.Error {
	frame, err := AllocFrame()
	if err != nil {
		return err
	}
	page := pageOf(va)
	if err := space.Table.MapPage(page, frame, vma.Perms); err != nil {
		FreeFrame(frame)
		return err
	}
	space.Stats.PagesMapped++
	space.Stats.MinorFaults++
	return nil
}

// MarkLazy sets the Lazy flag on the VMA spanning exactly [start, end)
// so the fault analyzer treats it as needing on-demand allocation, and
// returns ErrNotFound if no VMA has exactly those bounds. It writes no
// PTE: the page table entries stay absent (kind Invalid) until the
// fault path calls resolveLazyFault — the "lazy" designation lives on
// the VMA record, not the PTE, since an Invalid PTE carries no flags
// to read.
func (a *AddressSpace) MarkLazy(start, end uintptr) *kernel.Error {
	for i := range a.vmas {
		if a.vmas[i].Start == start && a.vmas[i].End == end {
			a.vmas[i].Lazy = true
			return nil
		}
	}
	return ErrNotFound
}
