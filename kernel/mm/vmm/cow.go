package vmm

import "pikernel/kernel"

// cowMapping records a single (address space, virtual address) pair
// that references a COW-shared physical frame.
type cowMapping struct {
	space *AddressSpace
	va    uintptr
}

// COWDescriptor mirrors the spec's COW Page record: a shared physical
// page, its reference count, and every mapping currently referencing
// it. Grounded on gopher-os's fault.go, which implements exactly this
// demote-vs-copy decision for x86; here it is generalized into an
// explicit, inspectable table instead of being inlined into the fault
// handler alone.
type COWDescriptor struct {
	PhysAddr            Frame
	RefCount            int
	OriginalPermissions Permissions
	mappings            []cowMapping
}

const maxCOWDescriptors = 4096

// COWTable maps each shared frame to its COW descriptor, holding at
// most maxCOWDescriptors entries. It takes no lock and does not mask
// interrupts.
type COWTable struct {
	entries map[Frame]*COWDescriptor
}

func NewCOWTable() *COWTable {
	return &COWTable{entries: make(map[Frame]*COWDescriptor)}
}

var ErrCOWTableFull = &kernel.Error{Module: "vmm", Message: "COW descriptor table is full"}

// CreateCOWMapping installs a read-only mapping of the same physical
// frame in both src and dst address spaces, creating or incrementing
// the shared descriptor. It takes no length: each call shares exactly
// the one page containing srcVA, matching the fault path's
// page-at-a-time granularity (callers loop to share a larger range).
func (c *COWTable) CreateCOWMapping(src *AddressSpace, srcVA uintptr, dst *AddressSpace, dstVA uintptr) *kernel.Error {
	pa, perms, err := src.Table.Translate(srcVA)
	if err != nil {
		return err
	}
	frame := Frame(pageOf(pa))

	desc, ok := c.entries[frame]
	if !ok {
		if len(c.entries) >= maxCOWDescriptors {
			return ErrCOWTableFull
		}
		desc = &COWDescriptor{PhysAddr: frame, OriginalPermissions: perms}
		c.entries[frame] = desc
	}

	roPerms := perms
	roPerms.Write = false

	if err := src.Table.ChangePerms(srcVA, roPerms); err != nil {
		return err
	}
	if srcE, err := src.Table.rawEntry(srcVA); err == nil {
		srcE.SetFlags(FlagCOW)
	}

	if err := dst.Table.MapPage(dstVA, frame, roPerms); err != nil {
		return err
	}
	if dstE, err := dst.Table.rawEntry(dstVA); err == nil {
		dstE.SetFlags(FlagCOW)
	}

	desc.mappings = append(desc.mappings, cowMapping{space: src, va: srcVA}, cowMapping{space: dst, va: dstVA})
	desc.RefCount = len(desc.mappings)
	return nil
}

// descriptorFor returns the COW descriptor owning frame, if any.
func (c *COWTable) descriptorFor(frame Frame) (*COWDescriptor, bool) {
	d, ok := c.entries[frame]
	return d, ok
}

// resolveWriteFault implements the fault analyzer's COW branch:
// demote in place if this is the last reference, otherwise copy to a
// fresh frame and install it privately in the faulting address space.
func (c *COWTable) resolveWriteFault(space *AddressSpace, va uintptr) *kernel.Error {
	pa, _, err := space.Table.Translate(va)
	if err != nil {
		return err
	}
	frame := Frame(pageOf(pa))
	desc, ok := c.descriptorFor(frame)
	if !ok {
		return &kernel.Error{Module: "vmm", Message: "write fault on non-COW page"}
	}

	if desc.RefCount == 1 {
		e, err := space.Table.rawEntry(va)
		if err != nil {
			return err
		}
		e.ClearFlags(FlagCOW)
		e.SetFlags(FlagWrite)
		e.SetFlags(desc.OriginalPermissions.toFlags())
		delete(c.entries, frame)
		return nil
	}

	newFrame, err := AllocFrame()
	if err != nil {
		return err
	}
	kernel.Memcopy(frameAddr(frame), frameAddr(newFrame), PageSize)

	rw := desc.OriginalPermissions
	rw.Write = true
	if err := space.Table.Unmap(pageOf(va)); err != nil {
		return err
	}
	if err := space.Table.MapPage(pageOf(va), newFrame, rw); err != nil {
		return err
	}

	c.removeMapping(desc, space, va)
	desc.RefCount = len(desc.mappings)
	if desc.RefCount == 1 {
		c.demoteLast(desc)
	}
	return nil
}

func (c *COWTable) removeMapping(desc *COWDescriptor, space *AddressSpace, va uintptr) {
	for i, m := range desc.mappings {
		if m.space == space && m.va == va {
			desc.mappings = append(desc.mappings[:i], desc.mappings[i+1:]...)
			return
		}
	}
}

// demoteLast clears the COW flag on the sole remaining mapping once a
// descriptor's ref count has dropped to one, restoring its original
// writable permissions.
func (c *COWTable) demoteLast(desc *COWDescriptor) {
	if len(desc.mappings) != 1 {
		return
	}
	m := desc.mappings[0]
	if e, err := m.space.Table.rawEntry(m.va); err == nil {
		e.ClearFlags(FlagCOW)
		e.SetFlags(desc.OriginalPermissions.toFlags())
	}
	delete(c.entries, desc.PhysAddr)
}
