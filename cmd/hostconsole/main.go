// Command hostconsole drives the kernel on a normal host process: it
// boots the kernel against the board config passed on the command
// line, wires a terminal-backed hal.Console and hal.TimeSource, and
// hands control to a line-oriented shell exposing the inspection and
// control API kmain.Kernel provides.
//
// Grounded on tinyrange-cc's cmd/cc terminal session setup (term.IsTerminal
// guard, term.MakeRaw/term.Restore pairing via defer) for raw-mode
// handling, generalized to additionally decode individual keystrokes
// with github.com/eiannone/keyboard since the kernel console needs byte
// -at-a-time input rather than a line editor.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/eiannone/keyboard"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"pikernel/kernel/config"
	"pikernel/kernel/hal"
	"pikernel/kernel/kmain"
)

// termConsole implements hal.Console over the process's stdin/stdout,
// decoding keystrokes through eiannone/keyboard so ReadByte never
// blocks the whole line on Enter.
type termConsole struct {
	keys chan byte
}

func newTermConsole() (*termConsole, error) {
	if err := keyboard.Open(); err != nil {
		return nil, fmt.Errorf("open keyboard: %w", err)
	}
	tc := &termConsole{keys: make(chan byte, 256)}
	go tc.pump()
	return tc, nil
}

func (t *termConsole) pump() {
	for {
		r, key, err := keyboard.GetKey()
		if err != nil {
			close(t.keys)
			return
		}
		if key == keyboard.KeyCtrlC {
			close(t.keys)
			return
		}
		if r != 0 {
			t.keys <- byte(r)
		}
	}
}

func (t *termConsole) WriteString(s string) (int, error) {
	return fmt.Fprint(os.Stdout, s)
}

func (t *termConsole) ReadByte() (byte, bool) {
	select {
	case b, ok := <-t.keys:
		return b, ok
	default:
		return 0, false
	}
}

func (t *termConsole) Close() { keyboard.Close() }

// hostTimeSource backs hal.TimeSource with the host monotonic clock
// and CLOCK_MONOTONIC cycle approximation via golang.org/x/sys.
type hostTimeSource struct{ start time.Time }

func newHostTimeSource() hostTimeSource { return hostTimeSource{start: time.Now()} }

func (h hostTimeSource) Now() uint64 { return uint64(time.Since(h.start)) }

func (h hostTimeSource) CycleCounter() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return uint64(time.Since(h.start))
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}

func main() {
	boardPath := "board.yml"
	if len(os.Args) > 1 {
		boardPath = os.Args[1]
	}

	board, kerr := config.Load(boardPath)
	if kerr != nil {
		fmt.Fprintf(os.Stderr, "failed to load board config: %v\n", kerr)
		os.Exit(1)
	}

	k, kerr := kmain.Boot(board)
	if kerr != nil {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", kerr)
		os.Exit(1)
	}

	hal.RegisterTimeSource(newHostTimeSource())

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "enable raw mode: %v\n", err)
			os.Exit(1)
		}
		defer term.Restore(fd, oldState)

		console, err := newTermConsole()
		if err != nil {
			fmt.Fprintf(os.Stderr, "open console: %v\n", err)
			os.Exit(1)
		}
		defer console.Close()
		hal.RegisterConsole(console)
	}

	runShell(k)
}
