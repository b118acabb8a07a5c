// Package syscall implements the EL0-to-EL1 system call entry: the
// dispatch table keyed by syscall number, argument marshaling from
// the frame's x0-x5, and the minimum syscall set the spec names.
//
// Grounded on the teacher's gate package (a numbered dispatch table
// indexed by a trap vector) and the irq package's Frame, generalized
// from x86 INT/SYSCALL dispatch to AArch64's SVC-with-x8-selector
// convention.
package syscall

import (
	"pikernel/kernel/irq"
	"pikernel/kernel/mm/vmm"
)

// Errno mirrors the negative error codes a syscall handler returns in
// x0, matching POSIX-style naming since that is what the spec names.
type Errno int64

const (
	ENOSYS Errno = -38
	EFAULT Errno = -14
	EINVAL Errno = -22
	ENOMEM Errno = -12
)

// Number identifies a syscall. The spec's minimum set is assigned
// fixed numbers here; unknown numbers dispatch to ENOSYS.
type Number uint64

const (
	SysGetpid Number = iota
	SysYield
	SysExit
	SysWrite
	SysSbrk
	SysMmap
	SysMunmap
	SysMprotect
)

// prot bits decoded out of SysMprotect's A2 argument, matching the
// POSIX mprotect(2) PROT_* bitmask.
const (
	protRead  uint64 = 1 << 0
	protWrite uint64 = 1 << 1
	protExec  uint64 = 1 << 2
)

// Args is the marshaled argument set read out of x0-x5 before dispatch.
type Args struct {
	A0, A1, A2, A3, A4, A5 uint64
}

func argsFromFrame(f *irq.Frame) Args {
	return Args{
		A0: f.Regs.X[0], A1: f.Regs.X[1], A2: f.Regs.X[2],
		A3: f.Regs.X[3], A4: f.Regs.X[4], A5: f.Regs.X[5],
	}
}

// Result is what a handler returns; Value is written back to x0.
type Result struct {
	Value int64
}

// Handler implements one syscall. ctx carries everything a handler
// might need from the caller's process without this package importing
// the scheduler directly, avoiding an import cycle.
type Handler func(ctx *Context, a Args) Result

// Context is the per-call environment a Handler operates against.
type Context struct {
	Space   *vmm.AddressSpace
	Pid     uint32
	Blocked bool // set by a Handler (e.g. SysYield) to request a reschedule

	// ExitRequested and ExitStatus are set by SysExit with the
	// process's requested exit status.
	ExitRequested bool
	ExitStatus    int64

	// Write is the console sink used by SysWrite; nil disables it.
	Write func(fd int64, p []byte) (int, error)
}

var table = map[Number]Handler{}

// Register installs a handler for num, overwriting any previous
// registration — used at boot to wire the fixed syscall set, and by
// tests to stub individual handlers.
func Register(num Number, h Handler) { table[num] = h }

// Stats aggregates syscall dispatch statistics.
type Stats struct {
	Dispatched    uint64
	Unimplemented uint64
	Faults        uint64 // EFAULT returns, i.e. syscall_faults
}

var stats Stats

// StatsSnapshot returns a copy of the current statistics.
func StatsSnapshot() Stats { return stats }

// ResetStats clears all counters.
func ResetStats() { stats = Stats{} }

// Dispatch routes a decoded SVC exception to its handler, marshaling
// arguments from f and writing the result back into f.Regs.X[0]. The
// syscall number is read from x8 per the AArch64 convention; if x8 is
// zero and the SVC carried a nonzero imm16, the immediate is used as a
// fallback selector for toolchains that encode the number in imm16
// instead of x8.
func Dispatch(ctx *Context, f *irq.Frame, svcImm16 uint16) Result {
	num := Number(f.Regs.X[8])
	if f.Regs.X[8] == 0 && svcImm16 != 0 {
		num = Number(svcImm16)
	}

	h, ok := table[num]
	if !ok {
		stats.Unimplemented++
		res := Result{Value: int64(ENOSYS)}
		f.Regs.X[0] = uint64(res.Value)
		return res
	}

	stats.Dispatched++
	res := h(ctx, argsFromFrame(f))
	if res.Value == int64(EFAULT) {
		stats.Faults++
	}
	f.Regs.X[0] = uint64(res.Value)
	return res
}

// ValidatePointer checks that [ptr, ptr+length) lies entirely within a
// single VMA that permits kind, returning false otherwise (the calling
// handler then returns EFAULT). A zero length is always valid.
func ValidatePointer(space *vmm.AddressSpace, ptr uintptr, length uintptr, kind vmm.AccessKind) bool {
	if length == 0 {
		return true
	}
	start := ptr
	end := ptr + length - 1
	vStart, ok := space.Find(start)
	if !ok {
		return false
	}
	vEnd, ok := space.Find(end)
	if !ok || vStart.Start != vEnd.Start {
		return false
	}
	return space.ValidateAccess(start, kind) && space.ValidateAccess(end, kind)
}

// RegisterDefaults installs the spec's minimum syscall set, operating
// purely against Context and Args so this package stays independent
// of the scheduler's concrete task type.
func RegisterDefaults() {
	Register(SysGetpid, func(ctx *Context, a Args) Result {
		return Result{Value: int64(ctx.Pid)}
	})

	Register(SysYield, func(ctx *Context, a Args) Result {
		ctx.Blocked = true
		return Result{Value: 0}
	})

	Register(SysExit, func(ctx *Context, a Args) Result {
		ctx.ExitRequested = true
		ctx.ExitStatus = int64(a.A0)
		return Result{Value: 0}
	})

	Register(SysWrite, func(ctx *Context, a Args) Result {
		fd := int64(a.A0)
		ptr := uintptr(a.A1)
		length := uintptr(a.A2)
		buf, kerr := vmm.CopyFromUser(ctx.Space, ptr, int(length))
		if kerr != nil {
			return Result{Value: int64(EFAULT)}
		}
		if ctx.Write == nil {
			return Result{Value: int64(length)}
		}
		n, err := ctx.Write(fd, buf)
		if err != nil {
			return Result{Value: int64(EFAULT)}
		}
		return Result{Value: int64(n)}
	})

	Register(SysSbrk, func(ctx *Context, a Args) Result {
		incr := int64(a.A0)
		newBreak, kerr := ctx.Space.GrowHeap(incr)
		if kerr != nil {
			return Result{Value: int64(ENOMEM)}
		}
		return Result{Value: int64(newBreak)}
	})

	Register(SysMmap, func(ctx *Context, a Args) Result {
		length := uintptr(a.A1)
		if length == 0 {
			return Result{Value: int64(EINVAL)}
		}
		start, kerr := ctx.Space.Mmap(length, vmm.Permissions{Read: true, Write: true, User: true})
		if kerr != nil {
			return Result{Value: int64(ENOMEM)}
		}
		return Result{Value: int64(start)}
	})

	Register(SysMunmap, func(ctx *Context, a Args) Result {
		addr := uintptr(a.A0)
		length := uintptr(a.A1)
		if addr%vmm.PageSize != 0 || length == 0 {
			return Result{Value: int64(EINVAL)}
		}
		if err := ctx.Space.Remove(addr, addr+length); err != nil {
			return Result{Value: int64(EINVAL)}
		}
		return Result{Value: 0}
	})

	Register(SysMprotect, func(ctx *Context, a Args) Result {
		addr := uintptr(a.A0)
		length := uintptr(a.A1)
		if addr%vmm.PageSize != 0 || length == 0 {
			return Result{Value: int64(EINVAL)}
		}
		if !ValidatePointer(ctx.Space, addr, length, vmm.AccessRead) {
			return Result{Value: int64(EFAULT)}
		}
		perms := vmm.Permissions{
			Read:  a.A2&protRead != 0,
			Write: a.A2&protWrite != 0,
			Exec:  a.A2&protExec != 0,
			User:  true,
		}
		if err := ctx.Space.Mprotect(addr, addr+length, perms); err != nil {
			if err == vmm.ErrWXConflict {
				return Result{Value: int64(EINVAL)}
			}
			return Result{Value: int64(EFAULT)}
		}
		return Result{Value: 0}
	})
}
