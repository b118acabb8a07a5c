package sync

import (
	"testing"

	"pikernel/kernel/cpu"
)

func TestCriticalSectionRestoresMask(t *testing.T) {
	cpu.EnableInterrupts()
	before := cpu.InterruptsMasked()

	var cs CriticalSection
	cs.Enter()
	if cpu.InterruptsMasked() != cpu.MaskIRQ|cpu.MaskFIQ {
		t.Fatal("expected interrupts masked while inside section")
	}
	cs.Leave()

	if cpu.InterruptsMasked() != before {
		t.Fatalf("mask not restored: before=%v after=%v", before, cpu.InterruptsMasked())
	}
}

func TestWithCriticalSectionRestoresOnPanic(t *testing.T) {
	cpu.EnableInterrupts()
	before := cpu.InterruptsMasked()

	func() {
		defer func() { recover() }()
		WithCriticalSection(func() { panic("boom") })
	}()

	if cpu.InterruptsMasked() != before {
		t.Fatal("expected mask restored even when protected function panics")
	}
}
