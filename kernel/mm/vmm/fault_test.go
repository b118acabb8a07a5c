package vmm

import (
	"testing"

	"pikernel/kernel"
	"pikernel/kernel/irq"
)

func TestLazyHeapFaultAllocatesZeroedPage(t *testing.T) {
	setupFrameAllocator(t)
	resetASIDAllocatorForTests()
	space := NewAddressSpace(1)
	space.Insert(VMA{
		Start: 0x4000_0000, End: 0x4100_0000, Type: VMAHeap,
		Perms: Permissions{Read: true, Write: true, User: true}, Lazy: true,
	})

	analyzer := &FaultAnalyzer{COW: NewCOWTable()}
	action := analyzer.Analyze(space, 0x4000_0123, FaultWrite, true)
	if action != ActionContinue {
		t.Fatalf("expected Continue, got %v", action)
	}

	pa, _, err := space.Table.Translate(0x4000_0123)
	if err != nil {
		t.Fatalf("expected page now mapped: %v", err)
	}
	if backingMem[pa] != 0 {
		t.Fatalf("expected the freshly faulted page to read zero, got %#x", backingMem[pa])
	}
}

func TestCOWForkWriteScenario(t *testing.T) {
	setupFrameAllocator(t)
	resetASIDAllocatorForTests()

	parent := NewAddressSpace(1)
	child := NewAddressSpace(2)

	frame, _ := AllocFrame()
	fillFrame(frame, 0x11)
	parent.Insert(VMA{Start: 0x1000_0000, End: 0x1000_1000, Type: VMARWData,
		Perms: Permissions{Read: true, Write: true, User: true}})
	parent.Table.MapPage(0x1000_0000, frame, Permissions{Read: true, Write: true, User: true})

	child.Insert(VMA{Start: 0x1000_0000, End: 0x1000_1000, Type: VMARWData,
		Perms: Permissions{Read: true, Write: true, User: true}})

	cow := NewCOWTable()
	if err := cow.CreateCOWMapping(parent, 0x1000_0000, child, 0x1000_0000); err != nil {
		t.Fatalf("create cow mapping: %v", err)
	}

	desc, ok := cow.descriptorFor(Frame(pageOf(uintptr(frame))))
	if !ok || desc.RefCount != 2 {
		t.Fatalf("expected ref_count=2, got %+v ok=%v", desc, ok)
	}

	analyzer := &FaultAnalyzer{COW: cow}
	action := analyzer.Analyze(child, 0x1000_0000, FaultWrite, true)
	if action != ActionContinue {
		t.Fatalf("expected Continue after COW write fault, got %v", action)
	}

	if desc.RefCount != 1 {
		t.Fatalf("expected ref_count=1 in parent descriptor after child COW break, got %d", desc.RefCount)
	}

	parentPA, _, _ := parent.Table.Translate(0x1000_0000)
	childPA, _, _ := child.Table.Translate(0x1000_0000)
	if parentPA == childPA {
		t.Fatal("expected parent and child to reference different frames after COW break")
	}
}

func TestGuardPageFaultIncrementsStackOverflowsNotMajorFaults(t *testing.T) {
	setupFrameAllocator(t)
	resetASIDAllocatorForTests()
	irq.ResetStats()
	space := NewAddressSpace(1)
	stackTop := uintptr(0x7000_0000)
	space.Insert(VMA{
		Start: stackTop - 0x10000, End: stackTop, Type: VMAStack,
		Perms: Permissions{Read: true, Write: true, User: true}, GuardLow: true, GuardHigh: true,
	})

	analyzer := &FaultAnalyzer{COW: NewCOWTable()}
	action := analyzer.Analyze(space, stackTop-0x10000-1, FaultWrite, true)
	if action != ActionTerminateProcess {
		t.Fatalf("expected TerminateProcess on a guard-page hit, got %v", action)
	}

	if irq.StatsSnapshot().StackOverflows != 1 {
		t.Fatal("expected a guard-page hit to increment irq.Stats.StackOverflows")
	}
	if space.Stats.MajorFaults != 0 {
		t.Fatalf("expected a guard-page hit to leave MajorFaults untouched, got %d", space.Stats.MajorFaults)
	}
}

func TestUnmappedNonGuardFaultIncrementsMajorFaults(t *testing.T) {
	setupFrameAllocator(t)
	resetASIDAllocatorForTests()
	irq.ResetStats()
	space := NewAddressSpace(1)

	analyzer := &FaultAnalyzer{COW: NewCOWTable()}
	action := analyzer.Analyze(space, 0x9999_0000, FaultRead, true)
	if action != ActionTerminateProcess {
		t.Fatalf("expected TerminateProcess, got %v", action)
	}

	if space.Stats.MajorFaults != 1 {
		t.Fatalf("expected the non-guard unmapped fault to increment MajorFaults, got %d", space.Stats.MajorFaults)
	}
	if irq.StatsSnapshot().StackOverflows != 0 {
		t.Fatal("expected a non-guard fault to leave StackOverflows untouched")
	}
}

func fillFrame(f Frame, v byte) {
	kernel.Memset(frameAddr(f), v, PageSize)
}
