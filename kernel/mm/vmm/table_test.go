package vmm

import (
	"testing"

	"pikernel/kernel/cpu"
	"pikernel/kernel/mm/pmm"
)

func setupFrameAllocator(t *testing.T) {
	t.Helper()
	mem := make([]byte, 4*1024*1024)
	heap := pmm.New(PageSize, uintptr(len(mem)), false)
	SetFrameAllocator(mem, heap)
}

func TestInstallWritesKernelRootIntoTTBR1(t *testing.T) {
	tbl := NewKernelTable()
	tbl.Install()
	if got := cpu.ActiveTTBR1(); got != frameFromPtr(tbl.root) {
		t.Fatalf("expected TTBR1 to hold the kernel root, got %#x", got)
	}
}

func TestMapUnmapTranslateRoundTrip(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewUserTable(1)

	frame, err := AllocFrame()
	if err != nil {
		t.Fatalf("alloc frame: %v", err)
	}

	va := uintptr(0x1000)
	perms := Permissions{Read: true, Write: true, User: true}
	if err := tbl.MapPage(va, frame, perms); err != nil {
		t.Fatalf("map: %v", err)
	}

	pa, got, err := tbl.Translate(va)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if pa != uintptr(frame) {
		t.Fatalf("expected pa %#x, got %#x", frame, pa)
	}
	if !got.Read || !got.Write {
		t.Fatalf("expected R/W permissions, got %+v", got)
	}

	if err := tbl.Unmap(va); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if _, _, err := tbl.Translate(va); err != ErrUnmapped {
		t.Fatalf("expected ErrUnmapped after unmap, got %v", err)
	}
}

func TestWXConflictRejected(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewUserTable(1)
	frame, _ := AllocFrame()
	err := tbl.MapPage(0x2000, frame, Permissions{Write: true, Exec: true})
	if err != ErrWXConflict {
		t.Fatalf("expected ErrWXConflict, got %v", err)
	}
}

func TestMappingAcrossHalfBoundaryRejected(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewUserTable(1)
	frame, _ := AllocFrame()
	err := tbl.MapPage(kernelHalfStart, frame, Permissions{Read: true})
	if err != ErrKernelHalf {
		t.Fatalf("expected ErrKernelHalf, got %v", err)
	}
}

func TestChangePermsTakesEffectImmediately(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewUserTable(1)
	frame, _ := AllocFrame()
	tbl.MapPage(0x3000, frame, Permissions{Read: true})

	if err := tbl.ChangePerms(0x3000, Permissions{Read: true, Write: true}); err != nil {
		t.Fatalf("change perms: %v", err)
	}
	_, perms, _ := tbl.Translate(0x3000)
	if !perms.Write {
		t.Fatalf("expected write permission to be reflected immediately")
	}
}

func TestBlockMapping(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewKernelTable()
	err := tbl.MapBlock(kernelHalfStart+BlockSize, kernelHalfStart+BlockSize, Permissions{Read: true, Exec: true})
	if err != nil {
		t.Fatalf("map block: %v", err)
	}
	pa, _, err := tbl.Translate(kernelHalfStart + BlockSize + 0x100)
	if err != nil {
		t.Fatalf("translate into block: %v", err)
	}
	if pa != kernelHalfStart+BlockSize+0x100 {
		t.Fatalf("expected identity mapping inside block, got %#x", pa)
	}
}

func TestMapRangeCoversEveryBlock(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewKernelTable()
	base := kernelHalfStart + 16*BlockSize
	length := uintptr(4 * BlockSize)

	if err := tbl.MapRange(base, base, length, Permissions{Read: true, Write: true}); err != nil {
		t.Fatalf("map range: %v", err)
	}

	for off := uintptr(0); off < length; off += BlockSize {
		if !tbl.IsMapped(base + off) {
			t.Fatalf("expected block at offset %#x to be mapped", off)
		}
	}
	if tbl.IsMapped(base + length) {
		t.Fatal("expected the block immediately past the range to be unmapped")
	}
}

func TestMapRangeRejectsUnalignedLength(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewKernelTable()
	base := kernelHalfStart + 32*BlockSize
	if err := tbl.MapRange(base, base, BlockSize+1, Permissions{Read: true}); err != ErrUnaligned {
		t.Fatalf("expected ErrUnaligned, got %v", err)
	}
}

func TestUnmapRangeClearsEveryBlock(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewKernelTable()
	base := kernelHalfStart + 48*BlockSize
	length := uintptr(3 * BlockSize)
	if err := tbl.MapRange(base, base, length, Permissions{Read: true}); err != nil {
		t.Fatalf("map range: %v", err)
	}

	if err := tbl.UnmapRange(base, length); err != nil {
		t.Fatalf("unmap range: %v", err)
	}
	for off := uintptr(0); off < length; off += BlockSize {
		if tbl.IsMapped(base + off) {
			t.Fatalf("expected block at offset %#x to be unmapped", off)
		}
	}
}

func TestUnmapBlockOnPageMappedAddressErrors(t *testing.T) {
	setupFrameAllocator(t)
	tbl := NewUserTable(1)
	frame, _ := AllocFrame()
	tbl.MapPage(0x4000, frame, Permissions{Read: true})
	if err := tbl.unmapBlock(blockOf(0x4000)); err != ErrUnmapped {
		t.Fatalf("expected ErrUnmapped for a non-block entry, got %v", err)
	}
}
