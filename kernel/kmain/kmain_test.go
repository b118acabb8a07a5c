package kmain

import (
	"testing"

	"pikernel/kernel/config"
	"pikernel/kernel/irq"
	"pikernel/kernel/mm/vmm"
	"pikernel/kernel/sched"
	"pikernel/kernel/syscall"
)

func testBoard() config.Board {
	b := config.DefaultBoard()
	b.Memory.PhysicalSize = 8 * 1024 * 1024
	return b
}

func TestBootWiresSubsystems(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if k.Heap == nil || k.KernelTbl == nil || k.Sched == nil || k.SoftIRQ == nil || k.COW == nil || k.Faults == nil {
		t.Fatal("expected every subsystem handle to be non-nil after Boot")
	}
}

func TestNewProcessAppliesLayoutAndEnqueues(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	layout := vmm.StandardLayout{
		CodeStart: 0x400000, CodeSize: 0x1000, RODataSize: 0x1000,
		RWDataSize: 0x1000, HeapSize: 0x10000, StackSize: 0x4000,
	}
	task, kerr := k.NewProcess(layout)
	if kerr != nil {
		t.Fatalf("new process: %v", kerr)
	}
	if task.Space == nil {
		t.Fatal("expected an address space to be attached")
	}
	if len(task.Space.VMAs()) != 5 {
		t.Fatalf("expected 5 VMAs (code/rodata/rwdata/heap/stack), got %d", len(task.Space.VMAs()))
	}
	if k.Sched.ReadyLen(task.Priority) != 1 {
		t.Fatal("expected the new task to be enqueued Ready")
	}
}

func TestDispatchSyscallExitTerminatesTask(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	layout := vmm.StandardLayout{CodeStart: 0x400000, CodeSize: 0x1000, RODataSize: 0x1000, RWDataSize: 0x1000, HeapSize: 0x10000, StackSize: 0x4000}
	task, _ := k.NewProcess(layout)
	k.Sched.SwitchContext(nil, task)

	f := &irq.Frame{}
	f.Regs.X[8] = uint64(syscall.SysExit)
	f.Regs.X[0] = 5
	k.DispatchSyscall(task, f, 0)

	if task.State != sched.StateTerminated {
		t.Fatalf("expected task terminated, got state %v", task.State)
	}
}

func TestStatsSnapshotAggregatesSubsystems(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	snap := k.StatsSnapshot()
	if snap.Heap.TotalBlocks == 0 {
		t.Fatal("expected nonzero total blocks in heap stats")
	}
	if snap.PressureLevel != vmm.PressureLow {
		t.Fatalf("expected a freshly booted heap to read PressureLow, got %v", snap.PressureLevel)
	}
}

func TestHandleSyncExceptionRoutesSVCToSyscallDispatch(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	layout := vmm.StandardLayout{CodeStart: 0x400000, CodeSize: 0x1000, RODataSize: 0x1000, RWDataSize: 0x1000, HeapSize: 0x10000, StackSize: 0x4000}
	task, _ := k.NewProcess(layout)
	k.Sched.SwitchContext(nil, task)

	f := &irq.Frame{ESR: irq.EncodeSVC(0)}
	f.Regs.X[8] = uint64(syscall.SysExit)
	f.Regs.X[0] = 7

	outcome := k.HandleSyncException(task, f, 0, true)
	if outcome != irq.SyncHandledBySyscall {
		t.Fatalf("expected SyncHandledBySyscall, got %v", outcome)
	}
	if task.State != sched.StateTerminated {
		t.Fatalf("expected SVC exit to terminate the task, got state %v", task.State)
	}
}

func TestHandleSyncExceptionRoutesDataAbortToFaultAnalyzer(t *testing.T) {
	k, err := Boot(testBoard())
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	layout := vmm.StandardLayout{CodeStart: 0x400000, CodeSize: 0x1000, RODataSize: 0x1000, RWDataSize: 0x1000, HeapSize: 0x10000, StackSize: 0x4000}
	task, _ := k.NewProcess(layout)
	k.Sched.SwitchContext(nil, task)

	f := &irq.Frame{ESR: irq.EncodeDataAbort(true, irq.TranslationFaultDFSC(1), true), FAR: 0xdead0000}
	outcome := k.HandleSyncException(task, f, 0, true)
	if outcome != irq.SyncNeedsFaultAnalysis {
		t.Fatalf("expected SyncNeedsFaultAnalysis, got %v", outcome)
	}
	if task.State != sched.StateTerminated {
		t.Fatalf("expected an unmapped address fault to terminate the task, got state %v", task.State)
	}
}
