// Package irq implements the ARM64 exception engine: the decoded
// exception frame, ESR_EL1 decoding into a tagged variant, the four
// vector dispatch entries (sync/IRQ/FIQ/SError), nested-IRQ discipline
// and critical sections, and per-source statistics.
//
// Grounded on the teacher's irq/interrupt_amd64.go (Frame/Regs with a
// Print method) and gate/gate_amd64.go (dispatch-by-number with a
// unified Registers.Info field, reused here as the decoded ESR),
// generalized from x86's IDT-vector model to ARM64's 16-slot vector
// table and ESR_EL1-driven sync dispatch.
package irq

import (
	"io"

	"pikernel/kernel/cpu"
	"pikernel/kernel/kfmt"
)

// EL identifies the exception level a trap originated from.
type EL uint8

const (
	EL0 EL = iota
	EL1
)

// Regs holds the 31 general-purpose registers saved at vector entry.
// x0..x7 may be overwritten by a syscall return value or fault
// recovery data; the rest are immutable from the handler's
// perspective.
type Regs struct {
	X [31]uint64
}

// Frame is the exception frame: general registers, the interrupted
// context's SP and PC, PSTATE, the decoded ESR_EL1/FAR_EL1 values and
// the originating EL. Created at vector entry, owned by the exception
// path, consumed on return.
type Frame struct {
	Regs   Regs
	SP     uint64
	PC     uint64
	PSTATE uint64
	ESR    uint64
	FAR    uint64
	OrigEL EL
}

// CaptureFrame builds a Frame at vector entry. On real hardware the
// vector stub would have just trapped into EL1 with ESR_EL1/FAR_EL1
// already latched by the exception; here that latching is modeled by
// cpu.WriteESR/WriteFAR before entry, and CaptureFrame reads them back
// alongside the saved register/PSTATE state the stub collected.
func CaptureFrame(regs Regs, sp, pc, pstate uint64, origEL EL) *Frame {
	return &Frame{
		Regs:   regs,
		SP:     sp,
		PC:     pc,
		PSTATE: pstate,
		ESR:    cpu.ReadESR(),
		FAR:    cpu.ReadFAR(),
		OrigEL: origEL,
	}
}

// Print writes a human-readable dump of the frame, used by the panic
// path and by test assertions on decoded fault detail.
func (f *Frame) Print(w io.Writer) {
	kfmt.Fprintf(w, "PC=%#x SP=%#x PSTATE=%#x ESR=%#x FAR=%#x EL=%d\n",
		f.PC, f.SP, f.PSTATE, f.ESR, f.FAR, f.OrigEL)
	for i := 0; i < len(f.Regs.X); i += 4 {
		end := i + 4
		if end > len(f.Regs.X) {
			end = len(f.Regs.X)
		}
		for j := i; j < end; j++ {
			kfmt.Fprintf(w, "x%-2d=%#016x ", j, f.Regs.X[j])
		}
		kfmt.Fprintf(w, "\n")
	}
}
