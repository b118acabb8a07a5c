package vmm

import (
	"pikernel/kernel"
	"pikernel/kernel/cpu"
)

var (
	ErrUnaligned  = &kernel.Error{Module: "vmm", Message: "address is not page-aligned"}
	ErrUnmapped   = &kernel.Error{Module: "vmm", Message: "address is not mapped"}
	ErrKernelHalf = &kernel.Error{Module: "vmm", Message: "address crosses the user/kernel half boundary"}
)

// kernelHalfStart is the first virtual address belonging to the kernel
// half (TTBR1); anything below it, including negative-looking
// uintptr values in a 48-bit VA space, belongs to the user half
// (TTBR0). Modeled as a plain constant rather than the literal
// 0xFFFF_0000_0000_0000 split since this kernel runs over host-sized
// virtual ranges; what matters for the invariant is that the boundary
// exists and is enforced.
const kernelHalfStart = uintptr(1) << 47

// KernelVAOffset is the linear offset a physical address is placed at
// to identity-map it into the kernel half: VA = KernelVAOffset + PA.
// Exported so kmain's boot-time RAM/device mapping can compute
// addresses without this package's TTBR0/1 boundary leaking out as a
// second, potentially-divergent constant.
const KernelVAOffset = kernelHalfStart

// TranslationTable is one root translation tree: either the single
// kernel tree rooted at TTBR1, or one of the per-process trees rooted
// at TTBR0. Mirrors the teacher's PageDirectoryTable but walks a
// two-level (L1 block / L3 page) structure instead of amd64's
// recursively self-mapped four-level tree.
type TranslationTable struct {
	root   *table
	isUser bool
	asid   uint16
}

// NewKernelTable creates the single TTBR1 tree.
func NewKernelTable() *TranslationTable {
	return &TranslationTable{root: &table{}, isUser: false}
}

// NewUserTable creates a fresh, empty TTBR0 tree tagged with asid.
func NewUserTable(asid uint16) *TranslationTable {
	return &TranslationTable{root: &table{}, isUser: true, asid: asid}
}

// ASID returns the table's ASID tag (meaningless for the kernel table).
func (t *TranslationTable) ASID() uint16 { return t.asid }

// Install writes the kernel tree's root into TTBR1_EL1. Called once at
// boot; unlike TTBR0 the kernel root is not expected to change again.
func (t *TranslationTable) Install() {
	switchTTBR1Fn(frameFromPtr(t.root))
}

func (t *TranslationTable) checkHalf(va uintptr) *kernel.Error {
	if t.isUser && va >= kernelHalfStart {
		return ErrKernelHalf
	}
	if !t.isUser && va < kernelHalfStart {
		return ErrKernelHalf
	}
	return nil
}

// l3For returns the L3 table backing va's 2MB block, allocating one
// (on the Go heap, standing in for a page-table-pool frame) if the L1
// entry is currently invalid, or an error if it is already a 2MB
// Block mapping.
func (t *TranslationTable) l3For(va uintptr, create bool) (*table, *kernel.Error) {
	l1e := &t.root.entries[l1Index(va)]
	switch l1e.kind() {
	case kindTable:
		return (*table)(ptrFromFrame(l1e.Frame())), nil
	case kindBlock:
		return nil, &kernel.Error{Module: "vmm", Message: "address is covered by a 2MB block mapping"}
	default: // kindInvalid
		if !create {
			return nil, ErrUnmapped
		}
		l3 := &table{}
		l1e.SetFrame(frameFromPtr(l3))
		l1e.SetFlags(FlagValid | FlagTable)
		return l3, nil
	}
}

// MapPage installs a 4KB mapping for va to the physical frame pa with
// the given permissions.
func (t *TranslationTable) MapPage(va uintptr, pa Frame, perms Permissions) *kernel.Error {
	if va%PageSize != 0 {
		return ErrUnaligned
	}
	if err := t.checkHalf(va); err != nil {
		return err
	}
	if err := perms.Validate(); err != nil {
		return err
	}
	l3, err := t.l3For(va, true)
	if err != nil {
		return err
	}
	e := &l3.entries[l3Index(va)]
	*e = 0
	e.SetFrame(uintptr(pa))
	e.SetFlags(FlagValid | FlagAccessed | perms.toFlags())
	if !t.isUser {
		e.SetFlags(FlagGlobal)
	}
	return nil
}

// MapBlock installs a 2MB block mapping at va (which must be
// 2MB-aligned) directly at L1, skipping the L3 table entirely.
func (t *TranslationTable) MapBlock(va uintptr, pa uintptr, perms Permissions) *kernel.Error {
	if va%BlockSize != 0 {
		return ErrUnaligned
	}
	if err := t.checkHalf(va); err != nil {
		return err
	}
	if err := perms.Validate(); err != nil {
		return err
	}
	e := &t.root.entries[l1Index(va)]
	if e.kind() != kindInvalid {
		return &kernel.Error{Module: "vmm", Message: "L1 slot already in use"}
	}
	e.SetFrame(pa)
	e.SetFlags(FlagValid | FlagAccessed | perms.toFlags())
	if !t.isUser {
		e.SetFlags(FlagGlobal)
	}
	return nil
}

// MapRange installs a run of 2MB block mappings covering [va, va+length)
// to the physical range starting at pa, the map_range operation spec.md
// §4.5 names. Used at boot to identity-map the kernel half's RAM and
// device windows; va, pa and length must all be 2MB-aligned.
func (t *TranslationTable) MapRange(va, pa, length uintptr, perms Permissions) *kernel.Error {
	if length%BlockSize != 0 {
		return ErrUnaligned
	}
	for off := uintptr(0); off < length; off += BlockSize {
		if err := t.MapBlock(va+off, pa+off, perms); err != nil {
			return err
		}
	}
	return nil
}

// UnmapRange removes every 2MB block mapping covering [va, va+length),
// the unmap_range operation spec.md §4.5 names.
func (t *TranslationTable) UnmapRange(va, length uintptr) *kernel.Error {
	if length%BlockSize != 0 {
		return ErrUnaligned
	}
	for off := uintptr(0); off < length; off += BlockSize {
		if err := t.unmapBlock(va + off); err != nil {
			return err
		}
	}
	return nil
}

func (t *TranslationTable) unmapBlock(va uintptr) *kernel.Error {
	if va%BlockSize != 0 {
		return ErrUnaligned
	}
	e := &t.root.entries[l1Index(va)]
	if e.kind() != kindBlock {
		return ErrUnmapped
	}
	*e = 0
	t.flushAfterChange(va)
	return nil
}

// Unmap clears a single 4KB mapping.
func (t *TranslationTable) Unmap(va uintptr) *kernel.Error {
	if va%PageSize != 0 {
		return ErrUnaligned
	}
	l3, err := t.l3For(va, false)
	if err != nil {
		return err
	}
	e := &l3.entries[l3Index(va)]
	if e.kind() == kindInvalid {
		return ErrUnmapped
	}
	*e = 0
	t.flushAfterChange(va)
	return nil
}

// flushAfterChange issues the documented dsb ishst -> tlbi -> dsb ish
// -> isb barrier sequence after a mapping change. A kernel (TTBR1)
// table's entries are global and untagged, so they are invalidated
// with a full TLB flush; a user table's entries are ASID-tagged and
// get a targeted single-entry invalidation instead.
func (t *TranslationTable) flushAfterChange(va uintptr) {
	cpu.DSBISHST()
	if t.isUser {
		flushTLBEntryFn(va, t.asid)
	} else {
		flushTLBAllFn()
	}
	cpu.DSBISH()
	cpu.ISB()
}

// entryAt returns the leaf entry for va along with whether it came
// from an L1 block or an L3 page, or ErrUnmapped.
func (t *TranslationTable) entryAt(va uintptr) (*pageTableEntry, *kernel.Error) {
	l1e := &t.root.entries[l1Index(va)]
	switch l1e.kind() {
	case kindBlock:
		return l1e, nil
	case kindTable:
		l3 := (*table)(ptrFromFrame(l1e.Frame()))
		e := &l3.entries[l3Index(va)]
		if e.kind() == kindInvalid {
			return nil, ErrUnmapped
		}
		return e, nil
	default:
		return nil, ErrUnmapped
	}
}

// Translate returns the physical address mapped for va and its
// current permissions, or ErrUnmapped.
func (t *TranslationTable) Translate(va uintptr) (uintptr, Permissions, *kernel.Error) {
	e, err := t.entryAt(va)
	if err != nil {
		return 0, Permissions{}, err
	}
	// entryAt only ever returns a leaf (Block or Page) entry, never a
	// Table pointer. A Page leaf covers 4KB and a Block leaf 2MB, so the
	// offset kept from va depends on which granularity mapped it.
	offset := va % PageSize
	if t.root.entries[l1Index(va)].kind() == kindBlock {
		offset = va % BlockSize
	}
	return e.Frame() + offset, permissionsFromFlags(pteFlag(*e) & (FlagRead | FlagWrite | FlagExec | FlagUser | FlagDevice)), nil
}

// ChangePerms updates the permission bits of an existing mapping in
// place, taking effect immediately for subsequent Translate calls.
func (t *TranslationTable) ChangePerms(va uintptr, perms Permissions) *kernel.Error {
	if err := perms.Validate(); err != nil {
		return err
	}
	e, err := t.entryAt(va)
	if err != nil {
		return err
	}
	e.ClearFlags(FlagRead | FlagWrite | FlagExec | FlagUser | FlagDevice)
	e.SetFlags(perms.toFlags())
	t.flushAfterChange(va)
	return nil
}

// IsMapped reports whether va currently resolves to a present entry.
func (t *TranslationTable) IsMapped(va uintptr) bool {
	_, err := t.entryAt(va)
	return err == nil
}

// rawEntry exposes the leaf entry for the fault analyzer and COW path,
// which need direct flag access (FlagCOW) beyond the public Permissions
// view.
func (t *TranslationTable) rawEntry(va uintptr) (*pageTableEntry, *kernel.Error) {
	return t.entryAt(va)
}
