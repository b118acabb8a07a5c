package irq

import (
	"testing"

	"pikernel/kernel/cpu"
)

func TestCaptureFrameReadsLatchedSyndromeRegisters(t *testing.T) {
	cpu.WriteESR(EncodeSVC(0))
	cpu.WriteFAR(0xdead0000)

	regs := Regs{}
	regs.X[8] = 42

	f := CaptureFrame(regs, 0x1000, 0x2000, 0x3c5, EL0)
	if f.ESR != EncodeSVC(0) {
		t.Fatalf("expected captured ESR to match the latched value, got %#x", f.ESR)
	}
	if f.FAR != 0xdead0000 {
		t.Fatalf("expected captured FAR to match the latched value, got %#x", f.FAR)
	}
	if f.SP != 0x1000 || f.PC != 0x2000 || f.PSTATE != 0x3c5 || f.OrigEL != EL0 {
		t.Fatalf("expected the saved context fields to carry through unchanged, got %+v", f)
	}
	if f.Regs.X[8] != 42 {
		t.Fatalf("expected the saved registers to carry through unchanged, got %+v", f.Regs)
	}
}
