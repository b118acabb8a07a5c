// Package sched implements the process/scheduler core: TCBs, four
// priority-ordered FIFO run queues, fixed time slices, preemption on
// the timer IRQ, and context switches integrated with address-space
// switching; each TCB carries its own shadow stack.
//
// Grounded on the teacher's irq package's critical-section discipline
// and mm.AddressSpace for the switch integration; gopher-os itself has
// no scheduler, so the queue/TCB shape follows the spec's own
// vocabulary directly, in the teacher's style of small structs with
// explicit state enums rather than channels or goroutines (there is
// exactly one logical CPU here, matching gopher-os's own assumption).
package sched

import (
	"pikernel/kernel/irq"
	"pikernel/kernel/mm/vmm"
	"pikernel/kernel/sync"
)

// Priority orders a task's run queue and fixes its time slice.
type Priority uint8

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	numPriorities
)

// TimeSliceMillis gives the fixed time slice, in milliseconds, for
// each priority level.
var TimeSliceMillis = [numPriorities]uint32{
	PriorityCritical: 10,
	PriorityHigh:     20,
	PriorityNormal:   40,
	PriorityLow:      80,
}

// State is a task's scheduling state.
type State uint8

const (
	StateReady State = iota
	StateRunning
	StateBlocked
	StateTerminated
)

// Privilege is the exception level a task runs at.
type Privilege uint8

const (
	PrivilegeEL0 Privilege = iota
	PrivilegeEL1
)

// TCB is a task control block: the complete scheduling and execution
// state of one task.
type TCB struct {
	ID       uint32
	Priority Priority
	State    State

	KernelSP uint64
	Saved    irq.Regs
	SavedPC  uint64

	Space     *vmm.AddressSpace // nil for an EL1 kernel task
	Privilege Privilege

	Shadow vmm.ShadowStack
	Canary vmm.StackCanary

	TimeSliceRemaining uint32 // milliseconds left in the current quantum
	CPUTimeUsed         uint64 // cumulative milliseconds run

	blockedOn string // diagnostic only: why the task is Blocked
}

// Queues holds the four priority FIFO run queues and the single
// currently-running task, forming one CPU's scheduler state.
type Queues struct {
	ready   [numPriorities][]*TCB
	running *TCB

	Stats Stats
}

// Stats aggregates scheduler statistics.
type Stats struct {
	ContextSwitches uint64
	Preemptions     uint64
	TasksCreated    uint64
	TasksTerminated uint64
}

// New returns an empty scheduler with no running task.
func New() *Queues {
	return &Queues{}
}

// Enqueue places t onto its priority's ready queue, appending to the
// tail so FIFO order within a priority level is preserved. Masks
// interrupts for the duration since a timer IRQ's Preempt/Unblock path
// can run concurrently with a syscall path calling Enqueue directly.
func (q *Queues) Enqueue(t *TCB) {
	sync.WithCriticalSection(func() {
		t.State = StateReady
		q.ready[t.Priority] = append(q.ready[t.Priority], t)
	})
}

// dequeueHighest pops the head of the highest-priority non-empty
// queue, or nil if every queue is empty.
func (q *Queues) dequeueHighest() *TCB {
	var t *TCB
	sync.WithCriticalSection(func() {
		for p := Priority(0); p < numPriorities; p++ {
			if len(q.ready[p]) > 0 {
				t = q.ready[p][0]
				q.ready[p] = q.ready[p][1:]
				return
			}
		}
	})
	return t
}

// Running returns the currently running task, or nil if the CPU is
// idle.
func (q *Queues) Running() *TCB { return q.running }

// ReadyLen returns how many tasks are ready at priority p, used by
// tests asserting FIFO fairness.
func (q *Queues) ReadyLen(p Priority) int { return len(q.ready[p]) }

// Pick selects the next task to run without performing a context
// switch: the highest-priority ready task, preferring the currently
// running task if it is still Running and of strictly higher or equal
// priority than the best ready candidate (so a task is never preempted
// by an equal-priority peer mid-quantum; only the timer-IRQ path
// forces rotation within a priority level).
func (q *Queues) Pick() *TCB {
	if q.running != nil && q.running.State == StateRunning {
		higherReady := false
		for p := Priority(0); p < q.running.Priority; p++ {
			if len(q.ready[p]) > 0 {
				higherReady = true
				break
			}
		}
		if !higherReady {
			return q.running
		}
	}
	return q.dequeueHighest()
}

// SwitchContext performs a full context switch from prev to next:
// saves nothing itself (the caller's trap frame already holds prev's
// registers), swaps the address space if next belongs to a different
// process, and updates bookkeeping. There is no separate shadow-stack
// step: each TCB carries its own Shadow, so running next means using
// next's shadow stack.
// prev may be nil (booting the first task) and next may be nil (going
// idle).
func (q *Queues) SwitchContext(prev, next *TCB) {
	if prev != nil && prev.State == StateRunning {
		prev.State = StateReady
		q.Enqueue(prev)
	}
	q.running = next
	if next == nil {
		return
	}
	next.State = StateRunning
	if next.TimeSliceRemaining == 0 {
		next.TimeSliceRemaining = TimeSliceMillis[next.Priority]
	}
	if next.Space != nil && (prev == nil || prev.Space != next.Space) {
		next.Space.Switch(false)
	}
	q.Stats.ContextSwitches++
}

// Tick accounts elapsedMillis against the running task's quantum,
// called from the timer IRQ handler. It returns true if the quantum
// has been exhausted and a preemptive reschedule is due.
func (q *Queues) Tick(elapsedMillis uint32) bool {
	if q.running == nil {
		return false
	}
	q.running.CPUTimeUsed += uint64(elapsedMillis)
	if q.running.TimeSliceRemaining <= elapsedMillis {
		q.running.TimeSliceRemaining = 0
		return true
	}
	q.running.TimeSliceRemaining -= elapsedMillis
	return false
}

// Preempt rotates the running task to the back of its own priority
// queue and context-switches to the next ready task, used when Tick
// reports the quantum is exhausted. If no other task is ready at any
// priority, the same task keeps running with a fresh quantum.
func (q *Queues) Preempt() {
	prev := q.running
	if prev == nil {
		return
	}
	next := q.dequeueHighest()
	if next == nil {
		prev.TimeSliceRemaining = TimeSliceMillis[prev.Priority]
		return
	}
	q.Stats.Preemptions++
	q.SwitchContext(prev, next)
}

// Block moves the running task out of the run queue entirely into
// StateBlocked, recording reason for diagnostics, and switches to the
// next ready task.
func (q *Queues) Block(reason string) {
	prev := q.running
	if prev == nil {
		return
	}
	prev.State = StateBlocked
	prev.blockedOn = reason
	next := q.dequeueHighest()
	q.running = next
	if next != nil {
		next.State = StateRunning
		if next.TimeSliceRemaining == 0 {
			next.TimeSliceRemaining = TimeSliceMillis[next.Priority]
		}
		if next.Space != nil && next.Space != prev.Space {
			next.Space.Switch(false)
		}
		q.Stats.ContextSwitches++
	}
}

// Unblock moves a Blocked task back onto its priority's ready queue.
func (q *Queues) Unblock(t *TCB) {
	if t.State != StateBlocked {
		return
	}
	t.blockedOn = ""
	q.Enqueue(t)
}

// Terminate marks t Terminated and, if it was the running task,
// switches to the next ready task. A Terminated task is never
// re-enqueued.
func (q *Queues) Terminate(t *TCB) {
	t.State = StateTerminated
	q.Stats.TasksTerminated++
	if q.running == t {
		q.running = nil
		next := q.dequeueHighest()
		if next != nil {
			q.SwitchContext(nil, next)
		}
	}
}

// Idle reports whether the CPU has no running task and nothing ready,
// the precondition for entering WFI. Callers must additionally check
// that no soft-IRQ work is pending before actually executing WFI, per
// the documented rule that a CPU must never sleep through already-due
// deferred work.
func (q *Queues) Idle() bool {
	if q.running != nil {
		return false
	}
	for p := Priority(0); p < numPriorities; p++ {
		if len(q.ready[p]) > 0 {
			return false
		}
	}
	return true
}

// BuildEretFrame constructs the exception frame used to enter t via
// eret: PC at its saved return address, SP at t.KernelSP for either
// privilege (the TCB holds no separate user stack pointer, so an EL0
// frame does not get a user stack top), and PSTATE's M[3:0] field
// selecting EL0t or EL1h.
func BuildEretFrame(t *TCB) irq.Frame {
	f := irq.Frame{
		Regs:   t.Saved,
		PC:     t.SavedPC,
		SP:     t.KernelSP,
		PSTATE: pstateFor(t.Privilege),
	}
	if t.Privilege == PrivilegeEL0 {
		f.OrigEL = irq.EL0
	} else {
		f.OrigEL = irq.EL1
	}
	return f
}

func pstateFor(p Privilege) uint64 {
	if p == PrivilegeEL0 {
		return 0x0 // EL0t, interrupts unmasked
	}
	return 0x5 // EL1h, interrupts unmasked
}
