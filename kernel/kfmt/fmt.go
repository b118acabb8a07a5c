// Package kfmt provides the kernel's early-boot and steady-state
// formatted output path. Before a console collaborator is registered,
// output accumulates in a bounded ring buffer; once a sink is attached
// via SetOutputSink, buffered output is flushed to it and subsequent
// calls go straight through.
package kfmt

import (
	"fmt"
	"io"
)

const ringBufferSize = 16 * 1024

// ringBuffer is a fixed-capacity byte buffer that drops the oldest bytes
// once full, so that a runaway early-boot log can never grow without
// bound before a real console is attached.
type ringBuffer struct {
	buf        [ringBufferSize]byte
	head, tail int
	full       bool
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		r.buf[r.tail] = b
		r.tail = (r.tail + 1) % ringBufferSize
		if r.full {
			r.head = r.tail
		}
		if r.tail == r.head {
			r.full = true
		}
	}
	return len(p), nil
}

// WriteTo drains the ring buffer into w, in FIFO order.
func (r *ringBuffer) WriteTo(w io.Writer) (int64, error) {
	if !r.full && r.head == r.tail {
		return 0, nil
	}
	var out []byte
	i := r.head
	for {
		out = append(out, r.buf[i])
		i = (i + 1) % ringBufferSize
		if i == r.tail {
			break
		}
	}
	n, err := w.Write(out)
	r.head, r.tail, r.full = 0, 0, false
	return int64(n), err
}

var (
	earlyPrintBuffer ringBuffer
	outputSink       io.Writer
)

// SetOutputSink directs future Printf output to w and flushes anything
// accumulated in the early ring buffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		earlyPrintBuffer.WriteTo(w)
	}
}

// Printf writes formatted output to the currently registered sink, or
// buffers it if no sink has been registered yet.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf writes formatted output to w, or to the early ring buffer if
// w is nil.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	if w == nil {
		fmt.Fprintf(&earlyPrintBuffer, format, args...)
		return
	}
	fmt.Fprintf(w, format, args...)
}

// PrefixWriter tags every line written through it with a fixed prefix,
// letting a subsystem namespace its diagnostic output ("[sched] ...",
// "[vmm] ...") without each call site repeating it.
type PrefixWriter struct {
	Prefix string
	Dest   io.Writer
}

func (p *PrefixWriter) Write(b []byte) (int, error) {
	target := p.Dest
	if target == nil {
		target = &earlyPrintBuffer
	}
	if _, err := io.WriteString(target, p.Prefix); err != nil {
		return 0, err
	}
	return target.Write(b)
}
