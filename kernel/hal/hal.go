// Package hal defines the hardware abstraction the kernel depends on
// without naming a concrete driver: a console, a time source and an
// interrupt controller. On real Raspberry Pi 4/5 hardware these would
// be backed by the PL011 UART, the BCM2711 system timer and the
// GIC-400; on the host test harness (cmd/hostconsole) they are backed
// by the terminal.
//
// Grounded on the teacher's hal.InitTerminal/ActiveTerminal pattern
// (a package-level active-implementation variable set once at boot),
// generalized from one hardcoded EGA console into three swappable
// interfaces so the host harness and the bare-metal boot path can
// share every other kernel package unmodified.
package hal

import "pikernel/kernel"

// Console is anything the kernel can print diagnostic and shell output
// to and read keystrokes from.
type Console interface {
	WriteString(s string) (int, error)
	ReadByte() (byte, bool)
}

// TimeSource provides the scheduler's tick source and the cycle
// counter ASLR seeds from.
type TimeSource interface {
	Now() uint64        // monotonic nanoseconds
	CycleCounter() uint64
}

// InterruptController acknowledges and masks IRQ lines at the board
// level, beneath the CPU-local DAIF masking kernel/cpu performs.
type InterruptController interface {
	Ack(irqNumber uint32)
	Enable(irqNumber uint32)
	Disable(irqNumber uint32)
}

var (
	activeConsole    Console
	activeTime       TimeSource
	activeController InterruptController
)

// RegisterConsole installs the active Console implementation. Called
// once at boot by the platform-specific init path (bare-metal UART
// driver or cmd/hostconsole's terminal driver).
func RegisterConsole(c Console) { activeConsole = c }

// RegisterTimeSource installs the active TimeSource implementation.
func RegisterTimeSource(t TimeSource) { activeTime = t }

// RegisterInterruptController installs the active InterruptController.
func RegisterInterruptController(c InterruptController) { activeController = c }

// ActiveConsole returns the registered console, or nil if none has
// been registered yet.
func ActiveConsole() Console { return activeConsole }

// ActiveTimeSource returns the registered time source.
func ActiveTimeSource() TimeSource { return activeTime }

// ActiveInterruptController returns the registered interrupt
// controller.
func ActiveInterruptController() InterruptController { return activeController }

// ErrNoConsole is returned by WriteLine when no console has been
// registered, a configuration error the boot path must surface loudly
// rather than silently discard output.
var ErrNoConsole = &kernel.Error{Module: "hal", Message: "no console registered"}

// WriteLine writes s followed by a newline to the active console.
func WriteLine(s string) error {
	if activeConsole == nil {
		return ErrNoConsole
	}
	_, err := activeConsole.WriteString(s + "\n")
	if err != nil {
		return &kernel.Error{Module: "hal", Message: err.Error()}
	}
	return nil
}
