// Package kmain orchestrates boot, wiring the physical allocator, the
// MMU, the exception engine, the scheduler, syscall dispatch and the
// protection subsystems together in their dependency order, then
// exposes the inspection/control surface a driver (cmd/hostconsole or
// a future serial shell) drives the kernel through.
//
// Grounded on the teacher's kmain.Kmain, which performs the same
// linear init-or-panic sequence (allocator, vmm, goruntime) before
// calling kernel.Panic if control ever returns; generalized to a
// three-subsystem boot order and an explicit Kernel handle since this
// kernel's driver runs as a separate host process rather than as rt0
// assembly calling a single exported symbol.
package kmain

import (
	"pikernel/kernel"
	"pikernel/kernel/config"
	"pikernel/kernel/irq"
	"pikernel/kernel/irq/softirq"
	"pikernel/kernel/mm/pmm"
	"pikernel/kernel/mm/vmm"
	"pikernel/kernel/sched"
	"pikernel/kernel/syscall"
)

// Kernel is the fully booted kernel: every subsystem's top-level
// handle, plus the next-PID counter used by process creation.
type Kernel struct {
	Board config.Board

	Heap      *pmm.Heap
	Mem       []byte
	KernelTbl *vmm.TranslationTable
	COW       *vmm.COWTable
	Faults    *vmm.FaultAnalyzer
	SoftIRQ   *softirq.Queue
	Sched     *sched.Queues
	Pressure  *vmm.PressureWatcher

	nextPID uint32
}

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Boot brings up every subsystem in the documented dependency order:
// physical allocator, MMU, exception engine wiring, scheduler,
// syscall dispatch table, then the protection collaborators (COW
// table, fault analyzer) that the other subsystems call into on
// demand rather than needing their own init step.
func Boot(board config.Board) (*Kernel, *kernel.Error) {
	k := &Kernel{Board: board}

	k.Mem = make([]byte, board.Memory.PhysicalSize)
	k.Heap = pmm.New(uintptr(board.Memory.BlockSize), uintptr(len(k.Mem)), true)
	vmm.SetFrameAllocator(k.Mem, k.Heap)

	if board.Memory.ASIDBits != 0 {
		vmm.SetASIDBits(board.Memory.ASIDBits)
	}

	vmm.ApplyMMUConfig(vmm.DefaultMMUConfig())

	k.KernelTbl = vmm.NewKernelTable()
	if err := k.identityMapKernelHalf(board); err != nil {
		return nil, err
	}
	k.KernelTbl.Install()
	vmm.EnableMMU()

	k.SoftIRQ = softirq.NewQueue()
	if board.SoftIRQ.FuelBudget > 0 {
		k.SoftIRQ.SetFuel(board.SoftIRQ.FuelBudget)
	}

	slices := [...]uint32{
		board.Scheduler.TimeSliceCriticalMillis,
		board.Scheduler.TimeSliceHighMillis,
		board.Scheduler.TimeSliceNormalMillis,
		board.Scheduler.TimeSliceLowMillis,
	}
	for p, ms := range slices {
		if ms != 0 {
			sched.TimeSliceMillis[p] = ms
		}
	}
	k.Sched = sched.New()

	syscall.ResetStats()
	syscall.RegisterDefaults()

	k.COW = vmm.NewCOWTable()
	k.Faults = &vmm.FaultAnalyzer{COW: k.COW}
	k.Pressure = &vmm.PressureWatcher{}

	k.nextPID = 1

	return k, nil
}

// identityMapKernelHalf installs the boot-time 2MB block mappings
// spec.md §4.5 requires: the board's RAM window and its MMIO device
// window, both placed at vmm.KernelVAOffset+PA in the kernel half.
// RAM is mapped read/write/non-exec; the device window additionally
// sets Device so it lands on MAIR index 1 (Device-nGnRnE) and is never
// speculatively accessed.
func (k *Kernel) identityMapKernelHalf(board config.Board) *kernel.Error {
	ramPA := uintptr(board.Memory.PhysicalBase) &^ (vmm.BlockSize - 1)
	ramSize := roundUpBlock(uintptr(board.Memory.PhysicalSize))
	ramPerms := vmm.Permissions{Read: true, Write: true}
	if err := k.KernelTbl.MapRange(vmm.KernelVAOffset+ramPA, ramPA, ramSize, ramPerms); err != nil {
		return err
	}

	if board.Memory.DeviceSize == 0 {
		return nil
	}
	devPA := uintptr(board.Memory.DeviceBase) &^ (vmm.BlockSize - 1)
	devSize := roundUpBlock(uintptr(board.Memory.DeviceSize))
	devPerms := vmm.Permissions{Read: true, Write: true, Device: true}
	return k.KernelTbl.MapRange(vmm.KernelVAOffset+devPA, devPA, devSize, devPerms)
}

func roundUpBlock(n uintptr) uintptr {
	return (n + vmm.BlockSize - 1) &^ (vmm.BlockSize - 1)
}

// Run is the never-returning entry point equivalent to the teacher's
// Kmain: a caller that gets a return from Run has hit an unrecoverable
// condition and must panic with errKmainReturned, matching the
// "panic instead of silently falling off the end" discipline.
func Run(k *Kernel, shell func(*Kernel)) {
	if shell != nil {
		shell(k)
	}
	kernel.Panic(errKmainReturned)
}

// NewProcess creates a fresh address space and TCB for a user process,
// applying the standard VMA layout perturbed by a fresh ASLR seed, and
// enqueues it Ready at PriorityNormal.
func (k *Kernel) NewProcess(layout vmm.StandardLayout) (*sched.TCB, *kernel.Error) {
	space := vmm.NewAddressSpace(k.nextPID)
	k.nextPID++

	seed := vmm.NewASLRSeed()
	window := vmm.EntropyWindow{Pages: k.Board.Protect.EntropyWindowPages}
	bases := vmm.ChooseBases(seed, defaultHeapBase, defaultStackTop, defaultMmapBase, window)

	if err := space.ApplyStandardLayout(layout, bases.HeapBase, bases.StackTop); err != nil {
		return nil, err
	}
	space.SetMmapBase(bases.MmapBase)

	t := &sched.TCB{
		ID:        space.ProcessID,
		Priority:  sched.PriorityNormal,
		State:     sched.StateReady,
		Space:     space,
		Privilege: sched.PrivilegeEL0,
		Canary:    vmm.NewStackCanary(),
	}
	k.Sched.Enqueue(t)
	return t, nil
}

const (
	defaultHeapBase = uintptr(0x0000_0001_0000_0000)
	defaultStackTop = uintptr(0x0000_0002_0000_0000)
	defaultMmapBase = uintptr(0x0000_0003_0000_0000)
)

// DispatchSyscall bridges a decoded SVC exception frame to the
// syscall package, supplying t's address space and PID as the call
// context, and honoring SysExit/SysYield by terminating or blocking t
// in the scheduler.
func (k *Kernel) DispatchSyscall(t *sched.TCB, f *irq.Frame, svcImm16 uint16) syscall.Result {
	ctx := &syscall.Context{Space: t.Space, Pid: t.ID}
	res := syscall.Dispatch(ctx, f, svcImm16)

	if ctx.ExitRequested {
		k.Sched.Terminate(t)
	} else if ctx.Blocked {
		k.Sched.Block("syscall yield")
	}
	return res
}

// HandleFault runs the fault analyzer against a decoded data/instruction
// abort and applies the resulting RecoveryAction to t.
func (k *Kernel) HandleFault(t *sched.TCB, far uintptr, kind vmm.FaultKind, fromEL0 bool) vmm.RecoveryAction {
	action := k.Faults.Analyze(t.Space, far, kind, fromEL0)
	switch action {
	case vmm.ActionTerminateProcess:
		k.Sched.Terminate(t)
	case vmm.ActionPanic:
		kernel.Panic(&kernel.Error{Module: "kmain", Message: "unrecoverable kernel-mode fault"})
	}
	return action
}

// HandleSyncException is the exception glue irq.DispatchSync's doc
// comment refers to: it decodes the synchronous exception and routes
// the result to the syscall dispatcher or the fault analyzer, the two
// collaborators irq deliberately does not import to avoid a dependency
// cycle. svcImm16 carries the immediate encoded in an SVC instruction,
// used as a fallback syscall number when x8 is zero.
func (k *Kernel) HandleSyncException(t *sched.TCB, f *irq.Frame, svcImm16 uint16, fromEL0 bool) irq.SyncOutcome {
	detail, outcome := irq.DispatchSync(f)

	switch outcome {
	case irq.SyncHandledBySyscall:
		k.DispatchSyscall(t, f, svcImm16)
	case irq.SyncNeedsFaultAnalysis:
		kind := vmm.FaultRead
		switch detail.Kind {
		case irq.DetailInstructionAbortLowerEL, irq.DetailInstructionAbortSameEL:
			kind = vmm.FaultExec
		case irq.DetailDataAbortLowerEL, irq.DetailDataAbortSameEL:
			if detail.WnR {
				kind = vmm.FaultWrite
			}
		}
		k.HandleFault(t, uintptr(f.FAR), kind, fromEL0)
	case irq.SyncDebugEL0Terminate:
		k.Sched.Terminate(t)
	case irq.SyncDebugEL1Panic, irq.SyncUnknownPanic:
		kernel.Panic(&kernel.Error{Module: "kmain", Message: "unrecoverable synchronous exception"})
	}
	return outcome
}

// Stats bundles every subsystem's statistics snapshot for the
// inspection API a shell or test harness queries.
type Stats struct {
	Heap             pmm.Stats
	IRQ              irq.Stats
	Syscall          syscall.Stats
	Sched            sched.Stats
	PressureLevel    vmm.PressureLevel
	PressureResponse vmm.PressureResponse
}

// StatsSnapshot gathers the current statistics across subsystems,
// additionally polling the pressure watcher against the heap's current
// utilisation so the inspection API always reflects the live response
// an allocation-heavy workload would trigger.
func (k *Kernel) StatsSnapshot() Stats {
	heapStats := k.Heap.Stats()
	utilisation := float64(heapStats.AllocatedBlocks) / float64(heapStats.TotalBlocks)
	level, response := k.Pressure.Poll(utilisation)
	return Stats{
		Heap:             heapStats,
		IRQ:              irq.StatsSnapshot(),
		Syscall:          syscall.StatsSnapshot(),
		Sched:            k.Sched.Stats,
		PressureLevel:    level,
		PressureResponse: response,
	}
}
