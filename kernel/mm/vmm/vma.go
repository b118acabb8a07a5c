package vmm

import (
	"sort"

	"pikernel/kernel"
)

// VMAType tags the purpose of a virtual memory area.
type VMAType uint8

const (
	VMACode VMAType = iota
	VMAROData
	VMARWData
	VMAHeap
	VMAStack
	VMAShared
	VMAMmap
)

// AccessKind identifies the kind of access validate_access checks.
type AccessKind uint8

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExec
)

// VMA is one contiguous range of a process's user address space.
type VMA struct {
	Start, End uintptr
	Type       VMAType
	Perms      Permissions
	Lazy       bool
	GuardLow   bool // an unmapped guard page immediately below Start
	GuardHigh  bool // an unmapped guard page immediately above End
}

// guardPageSize is the width of an unmapped guard gap inserted between
// VMAs (ApplyStandardLayout) or adjacent to a stack/heap region
// (GuardLow/GuardHigh). The fault analyzer's findGuard checks these
// flags on stack VMAs only.
const guardPageSize = PageSize

func (v VMA) size() uintptr { return v.End - v.Start }

func (v VMA) overlaps(o VMA) bool {
	return v.Start < o.End && o.Start < v.End
}

var (
	ErrOverlap      = &kernel.Error{Module: "vmm", Message: "VMA overlaps an existing region"}
	ErrNotFound     = &kernel.Error{Module: "vmm", Message: "no VMA covers the requested range"}
	ErrBadRange     = &kernel.Error{Module: "vmm", Message: "VMA range is not page-aligned or start > end"}
	ErrInvalidRange = &kernel.Error{Module: "vmm", Message: "requested heap adjustment is out of range"}
)

// AddressSpace is the per-process container for VMAs layered over a
// TranslationTable: the combination implements the spec's UserPageTable.
type AddressSpace struct {
	ProcessID uint32
	Table     *TranslationTable
	vmas      []VMA
	Stats     AddressSpaceStats
	Active    bool

	mmapNext uintptr // bump pointer for the next anonymous Mmap region
}

// AddressSpaceStats tracks per-process memory statistics.
type AddressSpaceStats struct {
	PagesMapped    uint64
	MinorFaults    uint64
	MajorFaults    uint64
	COWResolutions uint64
}

func valid(v VMA) bool {
	return v.Start <= v.End && v.Start%PageSize == 0 && v.End%PageSize == 0 && v.End < kernelHalfStart
}

// Insert adds a new VMA, rejecting it if it overlaps an existing one.
func (a *AddressSpace) Insert(v VMA) *kernel.Error {
	if !valid(v) {
		return ErrBadRange
	}
	for _, existing := range a.vmas {
		if existing.overlaps(v) {
			return ErrOverlap
		}
	}
	a.vmas = append(a.vmas, v)
	sort.Slice(a.vmas, func(i, j int) bool { return a.vmas[i].Start < a.vmas[j].Start })
	return nil
}

// Remove deletes the VMA exactly matching [start, end).
func (a *AddressSpace) Remove(start, end uintptr) *kernel.Error {
	for i, v := range a.vmas {
		if v.Start == start && v.End == end {
			a.vmas = append(a.vmas[:i], a.vmas[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Split divides the VMA covering [start,end) into up to three pieces,
// removing the middle [start,end) section.
func (a *AddressSpace) Split(start, end uintptr) *kernel.Error {
	idx, v := a.findContaining(start)
	if idx < 0 || end > v.End {
		return ErrNotFound
	}
	a.vmas = append(a.vmas[:idx], a.vmas[idx+1:]...)
	if v.Start < start {
		left := v
		left.End = start
		left.GuardHigh = false
		a.vmas = append(a.vmas, left)
	}
	if end < v.End {
		right := v
		right.Start = end
		right.GuardLow = false
		a.vmas = append(a.vmas, right)
	}
	sort.Slice(a.vmas, func(i, j int) bool { return a.vmas[i].Start < a.vmas[j].Start })
	return nil
}

// Merge combines two adjacent VMAs of the same type and permissions
// into one.
func (a *AddressSpace) Merge(firstStart, secondStart uintptr) *kernel.Error {
	i, first := a.find(firstStart)
	j, second := a.find(secondStart)
	if i < 0 || j < 0 {
		return ErrNotFound
	}
	if first.End != second.Start || first.Type != second.Type || first.Perms != second.Perms {
		return &kernel.Error{Module: "vmm", Message: "VMAs are not adjacent and compatible"}
	}
	merged := first
	merged.End = second.End
	merged.GuardHigh = second.GuardHigh
	if i > j {
		i, j = j, i
	}
	a.vmas = append(a.vmas[:i], a.vmas[i+1:]...)
	// j shifted down by one after removing i
	j--
	a.vmas = append(a.vmas[:j], a.vmas[j+1:]...)
	a.vmas = append(a.vmas, merged)
	sort.Slice(a.vmas, func(i, j int) bool { return a.vmas[i].Start < a.vmas[j].Start })
	return nil
}

func (a *AddressSpace) find(addr uintptr) (int, VMA) {
	for i, v := range a.vmas {
		if v.Start == addr {
			return i, v
		}
	}
	return -1, VMA{}
}

func (a *AddressSpace) findContaining(addr uintptr) (int, VMA) {
	for i, v := range a.vmas {
		if addr >= v.Start && addr < v.End {
			return i, v
		}
	}
	return -1, VMA{}
}

// Find returns the VMA containing va, if any.
func (a *AddressSpace) Find(va uintptr) (VMA, bool) {
	for _, v := range a.vmas {
		if va >= v.Start && va < v.End {
			return v, true
		}
	}
	return VMA{}, false
}

// ValidateAccess reports whether accessKind is permitted against the
// VMA covering va.
func (a *AddressSpace) ValidateAccess(va uintptr, kind AccessKind) bool {
	v, ok := a.Find(va)
	if !ok {
		return false
	}
	switch kind {
	case AccessRead:
		return v.Perms.Read
	case AccessWrite:
		return v.Perms.Write
	case AccessExec:
		return v.Perms.Exec
	}
	return false
}

// TranslateInVMA resolves va to a physical address and permissions,
// but only if va is covered by a VMA (distinct from a raw table
// Translate, which knows nothing about VMAs).
func (a *AddressSpace) TranslateInVMA(va uintptr) (uintptr, Permissions, *kernel.Error) {
	if _, ok := a.Find(va); !ok {
		return 0, Permissions{}, ErrNotFound
	}
	return a.Table.Translate(va)
}

// VMAs returns a snapshot of the current VMA list, ordered by Start.
func (a *AddressSpace) VMAs() []VMA {
	out := make([]VMA, len(a.vmas))
	copy(out, a.vmas)
	return out
}

// SetMmapBase installs the (already ASLR-perturbed) base address for
// future anonymous Mmap regions.
func (a *AddressSpace) SetMmapBase(base uintptr) { a.mmapNext = base }

// GrowHeap implements sbrk: it extends (delta > 0) or shrinks (delta <
// 0) the process's single growable heap VMA by delta bytes, rounded up
// to a page, and returns the new break address. The grown region is
// lazy: pages are only backed on first fault, matching the heap VMA
// ApplyStandardLayout installs.
func (a *AddressSpace) GrowHeap(delta int64) (uintptr, *kernel.Error) {
	idx := -1
	for i, v := range a.vmas {
		if v.Type == VMAHeap {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, ErrNotFound
	}
	heap := a.vmas[idx]
	if delta == 0 {
		return heap.End, nil
	}

	rounded := uintptr((delta + int64(PageSize) - 1) / int64(PageSize) * int64(PageSize))
	newEnd := heap.End
	if delta > 0 {
		newEnd = heap.End + rounded
	} else {
		shrink := uintptr((-delta + int64(PageSize) - 1) / int64(PageSize) * int64(PageSize))
		if shrink >= heap.size() {
			return 0, ErrInvalidRange
		}
		newEnd = heap.End - shrink
	}
	if newEnd <= heap.Start {
		return 0, ErrInvalidRange
	}

	candidate := heap
	candidate.End = newEnd
	for i, v := range a.vmas {
		if i == idx {
			continue
		}
		if candidate.overlaps(v) {
			return 0, ErrOverlap
		}
	}
	a.vmas[idx] = candidate
	return candidate.End, nil
}

// Mmap bump-allocates a fresh anonymous, lazily-backed VMA of length
// bytes (rounded up to a page) starting at the address space's mmap
// region and returns its start address.
func (a *AddressSpace) Mmap(length uintptr, perms Permissions) (uintptr, *kernel.Error) {
	if length == 0 {
		return 0, ErrBadRange
	}
	rounded := (length + PageSize - 1) &^ (PageSize - 1)
	start := a.mmapNext
	v := VMA{Start: start, End: start + rounded, Type: VMAMmap, Perms: perms, Lazy: true}
	if err := a.Insert(v); err != nil {
		return 0, err
	}
	a.mmapNext = start + rounded + guardPageSize
	return start, nil
}
