package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"pikernel/kernel/kmain"
	"pikernel/kernel/mm/vmm"
)

// runShell is the single entry point handing control to the operator,
// reading line commands from stdin (bypassing the raw-mode keystroke
// console, which is reserved for the booted kernel's own Console
// once a user process is scheduled) and dispatching them against
// kmain.Kernel's inspection/control surface.
func runShell(k *kmain.Kernel) {
	fmt.Fprintln(os.Stdout, "pikernel host console. Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !dispatchCommand(k, line) {
			return
		}
	}
}

// dispatchCommand runs one shell command. The shell offers stats,
// spawn and exit (or quit); it has no address-translation or TLB-flush
// command.
func dispatchCommand(k *kmain.Kernel, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "help":
		fmt.Println("commands: stats, spawn, exit")
	case "stats":
		snap := k.StatsSnapshot()
		fmt.Printf("heap: allocated=%d total=%d peak=%d\n", snap.Heap.AllocatedBlocks, snap.Heap.TotalBlocks, snap.Heap.PeakAllocated)
		fmt.Printf("sched: context_switches=%d preemptions=%d terminated=%d\n", snap.Sched.ContextSwitches, snap.Sched.Preemptions, snap.Sched.TasksTerminated)
		fmt.Printf("syscall: dispatched=%d faults=%d unimplemented=%d\n", snap.Syscall.Dispatched, snap.Syscall.Faults, snap.Syscall.Unimplemented)
		fmt.Printf("irq: irqs=%d fiqs=%d serrors=%d stack_overflows=%d\n", snap.IRQ.IRQs, snap.IRQ.FIQs, snap.IRQ.SErrors, snap.IRQ.StackOverflows)
	case "spawn":
		layout := vmm.StandardLayout{
			CodeStart: 0x400000, CodeSize: 0x1000, RODataSize: 0x1000,
			RWDataSize: 0x1000, HeapSize: 0x10000, StackSize: 0x4000,
		}
		task, err := k.NewProcess(layout)
		if err != nil {
			fmt.Println("spawn failed:", err)
			break
		}
		fmt.Printf("spawned pid=%d asid=%d\n", task.ID, task.Space.Table.ASID())
	case "exit", "quit":
		return false
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return true
}
