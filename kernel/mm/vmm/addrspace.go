package vmm

import "pikernel/kernel"

// NewAddressSpace allocates a fresh ASID and an empty TranslationTable
// for a new process.
func NewAddressSpace(processID uint32) *AddressSpace {
	asid := allocASID()
	return &AddressSpace{
		ProcessID: processID,
		Table:     NewUserTable(asid),
	}
}

// StandardLayout describes the sizes of a process's standard regions;
// base addresses are supplied separately (heapBase, stackTop) since
// ASLR (see protect.go) perturbs them per-process.
type StandardLayout struct {
	CodeStart  uintptr
	CodeSize   uintptr
	RODataSize uintptr
	RWDataSize uintptr
	HeapSize   uintptr
	StackSize  uintptr
}

// ApplyStandardLayout creates the VMAs for code, rodata, rwdata, a
// growable-upward heap and a growable-downward stack, separated by
// unmapped guard gaps. Code remains at its link address; heapBase and
// stackTop are the (already ASLR-perturbed) bases for the dynamic
// regions.
func (a *AddressSpace) ApplyStandardLayout(l StandardLayout, heapBase, stackTop uintptr) *kernel.Error {
	code := VMA{Start: l.CodeStart, End: l.CodeStart + l.CodeSize, Type: VMACode,
		Perms: Permissions{Read: true, Exec: true, User: true}}
	if err := a.Insert(code); err != nil {
		return err
	}

	roStart := code.End + guardPageSize
	rodata := VMA{Start: roStart, End: roStart + l.RODataSize, Type: VMAROData,
		Perms: Permissions{Read: true, User: true}}
	if err := a.Insert(rodata); err != nil {
		return err
	}

	rwStart := rodata.End + guardPageSize
	rwdata := VMA{Start: rwStart, End: rwStart + l.RWDataSize, Type: VMARWData,
		Perms: Permissions{Read: true, Write: true, User: true}}
	if err := a.Insert(rwdata); err != nil {
		return err
	}

	heap := VMA{Start: heapBase, End: heapBase + l.HeapSize, Type: VMAHeap,
		Perms: Permissions{Read: true, Write: true, User: true}, Lazy: true, GuardLow: true}
	if err := a.Insert(heap); err != nil {
		return err
	}

	stack := VMA{Start: stackTop - l.StackSize, End: stackTop, Type: VMAStack,
		Perms: Permissions{Read: true, Write: true, User: true}, GuardLow: true, GuardHigh: true}
	return a.Insert(stack)
}

// Mprotect changes the permissions of the VMA exactly matching
// [start, end) to perms, rejecting W^X combinations up front. Already-
// mapped pages within the range get their PTE permissions updated
// immediately; pages not yet faulted in pick up perms on their next
// fault, since resolveLazyFault maps using the VMA's current Perms.
func (a *AddressSpace) Mprotect(start, end uintptr, perms Permissions) *kernel.Error {
	if err := perms.Validate(); err != nil {
		return err
	}
	idx, v := a.findContaining(start)
	if idx < 0 || v.Start != start || v.End != end {
		return ErrNotFound
	}

	for page := start; page < end; page += PageSize {
		if !a.Table.IsMapped(page) {
			continue
		}
		if err := a.Table.ChangePerms(page, perms); err != nil {
			return err
		}
	}

	v.Perms = perms
	a.vmas[idx] = v
	return nil
}

// Switch installs this address space's root table into TTBR0_EL1,
// following the documented sequence: write ASID|TTBR0, isb, and
// (handled by allocASID at wrap time) a full flush only when the ASID
// was just recycled. A per-switch targeted ASID flush additionally
// covers the case where this exact ASID was reused since its last
// activation, per the "if new ASID was reused recently" step.
func (a *AddressSpace) Switch(reused bool) {
	rootAddr := frameFromPtr(a.Table.root)
	switchTTBR0Fn(rootAddr, a.Table.asid)
	if reused {
		flushTLBASIDFn(a.Table.asid)
	}
	a.Active = true
}
