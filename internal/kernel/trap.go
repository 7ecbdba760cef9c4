package kernel

// trap.go wires the kernel's syscall, fault, clock, and TTY handlers into the machine's trap
// vector (spec §4.I). Grounded on original_source/trap_handler.c's TrapKernel/TrapClock/
// TrapMemory/TrapTTYReceive/TrapTTYTransmit dispatch, adapted to elsie's intr.go vector-table
// idiom (install once at boot, dispatch by slot).

import (
	"errors"

	"github.com/smoynes/yalnix/internal/machine"
)

// syscall numbers, as placed in UserContext.Regs[0] by the trapping instruction (the trap-entry
// convention itself -- which register carries the syscall number -- is part of the out-of-scope
// trap vector/save-restore primitive; the kernel only needs to agree on the convention). Real
// arguments start at Arg(1): Regs[0] is consumed by the syscall number itself and is overwritten
// with the return value on the way out.
const (
	SyscallFork = iota + 1
	SyscallExec
	SyscallExit
	SyscallWait
	SyscallGetPID
	SyscallBrk
	SyscallDelay
	SyscallLockInit
	SyscallLockAcquire
	SyscallLockRelease
	SyscallCVInit
	SyscallCVWait
	SyscallCVSignal
	SyscallCVBroadcast
	SyscallPipeInit
	SyscallPipeRead
	SyscallPipeWrite
	SyscallReclaim
	SyscallTTYRead
	SyscallTTYWrite
)

// InstallTraps registers every trap handler the kernel needs on the machine's trap vector.
func (k *Kernel) InstallTraps() {
	v := k.machine.Vector

	v.Install(machine.TrapKernel, k.trapKernel)
	v.Install(machine.TrapClock, k.trapClock)
	v.Install(machine.TrapMemory, k.trapMemory)
	v.Install(machine.TrapTTYReceive, k.trapTTYReceive)
	v.Install(machine.TrapTTYTransmit, k.trapTTYTransmit)
	v.Install(machine.TrapIllegal, k.trapIllegal)
}

// trapKernel dispatches a syscall trap. Per spec §4.F, uctxt is copied into the current PCB on
// entry so a context switch preserves user state, and copied back on exit so the return value
// lands in register 0; here that copy is simply assigning/reading current.UserCtx since uctxt
// *is* the current PCB's own context in this simulator.
func (k *Kernel) trapKernel(uctxt *machine.UserContext, info int) {
	current := k.sched.Current
	current.UserCtx = *uctxt

	switch current.UserCtx.Regs[0] {
	case SyscallFork:
		pid, err := k.syscalls.SysFork(current)
		if err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(pid)
		}
	case SyscallExec:
		if !k.dispatchExec(current) {
			return
		}
	case SyscallExit:
		k.syscalls.SysExit(current, int(current.UserCtx.Arg(1)))
		return
	case SyscallGetPID:
		current.UserCtx.SetReturn(machine.Word(k.syscalls.SysGetPID(current)))
	case SyscallBrk:
		if err := k.syscalls.SysBrk(current, current.UserCtx.Arg(1)); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallDelay:
		if err := k.syscalls.SysDelay(current, int(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallWait:
		pid, status, err := k.syscalls.SysWait(current)
		if err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(machine.Word(pid))
			current.UserCtx.Regs[1] = machine.Word(status)
		}
	case SyscallLockInit:
		current.UserCtx.SetReturn(machine.Word(k.sync.LockInit()))
	case SyscallLockAcquire:
		if err := k.sync.LockAcquire(current, SyncID(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallLockRelease:
		if err := k.sync.LockRelease(current, SyncID(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallCVInit:
		current.UserCtx.SetReturn(machine.Word(k.sync.CVInit()))
	case SyscallCVWait:
		id, lockID := SyncID(current.UserCtx.Arg(1)), SyncID(current.UserCtx.Arg(2))
		if err := k.sync.CVWait(current, id, lockID); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallCVSignal:
		if err := k.sync.CVSignal(SyncID(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallCVBroadcast:
		if err := k.sync.CVBroadcast(SyncID(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallPipeInit:
		current.UserCtx.SetReturn(machine.Word(k.sync.PipeInit()))
	case SyscallPipeRead:
		if !k.dispatchPipeRead(current) {
			return
		}
	case SyscallPipeWrite:
		if !k.dispatchPipeWrite(current) {
			return
		}
	case SyscallReclaim:
		if err := k.sync.Reclaim(SyncID(current.UserCtx.Arg(1))); err != nil {
			current.UserCtx.SetReturn(^machine.Word(0))
		} else {
			current.UserCtx.SetReturn(0)
		}
	case SyscallTTYRead:
		if !k.dispatchTTYRead(current) {
			return
		}
	case SyscallTTYWrite:
		if !k.dispatchTTYWrite(current) {
			return
		}
	default:
		current.UserCtx.SetReturn(^machine.Word(0))
	}

	*uctxt = k.sched.Current.UserCtx
}

// dispatchExec implements exec(filename, argv): resolves both user pointers (subject to the same
// range validation every buffer-accepting syscall applies), opens the named program through the
// installed ProgramSource, and loads it over the caller's own address space. It returns false if
// it has already switched away from current (a killed caller, or an UNRECOVERABLE_LOAD), so
// trapKernel must not touch current.UserCtx again.
func (k *Kernel) dispatchExec(current *PCB) bool {
	name, err := k.addrspace.ReadCString(current, current.UserCtx.Arg(1))
	if err != nil {
		k.syscalls.SysExit(current, -1)
		return false
	}

	var argv []string

	if argvAddr := current.UserCtx.Arg(2); argvAddr != 0 {
		argv, err = k.addrspace.ReadArgv(current, argvAddr)
		if err != nil {
			k.syscalls.SysExit(current, -1)
			return false
		}
	}

	if k.programs == nil {
		current.UserCtx.SetReturn(^machine.Word(0))
		return true
	}

	hdr, text, data, err := k.programs.Open(name)
	if err != nil {
		current.UserCtx.SetReturn(^machine.Word(0))
		return true
	}

	if err := k.syscalls.SysExec(current, hdr, text, data, argv); err != nil {
		if errors.Is(err, ErrUnrecoverableLoad) {
			k.syscalls.SysExit(current, -1)
			return false
		}

		current.UserCtx.SetReturn(^machine.Word(0))
		return true
	}

	return true
}

// dispatchTTYRead implements tty_read(id, buf, len): validates the destination buffer, then
// dispatches to the TTY subsystem. A blocked read is finished later by trapTTYReceive, which
// drives the same completion path tty.go uses for an immediate read.
func (k *Kernel) dispatchTTYRead(current *PCB) bool {
	id := int(current.UserCtx.Arg(1))
	addr := current.UserCtx.Arg(2)
	n := int(current.UserCtx.Arg(3))

	if err := k.addrspace.ValidateRange(current, addr, n); err != nil {
		k.syscalls.SysExit(current, -1)
		return false
	}

	current.BufAddr = addr

	if err := k.ttySub.Read(current, id, n); err != nil {
		current.UserCtx.SetReturn(^machine.Word(0))
	}

	return true
}

// dispatchTTYWrite implements tty_write(id, buf, len): copies the caller's bytes into the kernel
// before handing them to the TTY subsystem, so the caller's buffer may change or be unmapped
// before the (possibly chunked, possibly queued) transmit finishes.
func (k *Kernel) dispatchTTYWrite(current *PCB) bool {
	id := int(current.UserCtx.Arg(1))
	addr := current.UserCtx.Arg(2)
	n := int(current.UserCtx.Arg(3))

	data, err := k.addrspace.CopyIn(current, addr, n)
	if err != nil {
		k.syscalls.SysExit(current, -1)
		return false
	}

	if err := k.ttySub.Write(current, id, data); err != nil {
		current.UserCtx.SetReturn(^machine.Word(0))
	}

	return true
}

// dispatchPipeRead implements pipe_read(id, buf, len), the pipe counterpart of dispatchTTYRead.
func (k *Kernel) dispatchPipeRead(current *PCB) bool {
	id := SyncID(current.UserCtx.Arg(1))
	addr := current.UserCtx.Arg(2)
	n := int(current.UserCtx.Arg(3))

	if err := k.addrspace.ValidateRange(current, addr, n); err != nil {
		k.syscalls.SysExit(current, -1)
		return false
	}

	current.BufAddr = addr

	if err := k.sync.PipeRead(current, id, n); err != nil {
		current.UserCtx.SetReturn(^machine.Word(0))
	}

	return true
}

// dispatchPipeWrite implements pipe_write(id, buf, len): PipeWrite's return count already
// reflects the whole logical write (spec §4.G stages any remainder rather than truncating), so
// the return register can be set immediately whether or not the caller ends up blocking on it.
func (k *Kernel) dispatchPipeWrite(current *PCB) bool {
	id := SyncID(current.UserCtx.Arg(1))
	addr := current.UserCtx.Arg(2)
	n := int(current.UserCtx.Arg(3))

	data, err := k.addrspace.CopyIn(current, addr, n)
	if err != nil {
		k.syscalls.SysExit(current, -1)
		return false
	}

	written, err := k.sync.PipeWrite(current, id, data)
	if err != nil {
		current.UserCtx.SetReturn(^machine.Word(0))
		return true
	}

	current.UserCtx.SetReturn(machine.Word(written))

	return true
}

// trapClock drives the scheduler's round-robin preemption and delay bookkeeping.
func (k *Kernel) trapClock(uctxt *machine.UserContext, info int) {
	current := k.sched.Current
	current.UserCtx = *uctxt

	k.machine.Clock.Tick()

	_, quantumDone := k.sched.Tick()

	if quantumDone && current != nil && current.State == StateRunning {
		k.sched.Enqueue(current)
		k.sched.KCSwitch(k.sched.Next())
	}

	*uctxt = k.sched.Current.UserCtx
}

// trapMemory handles a memory fault: if the faulting address lies between the current break and
// the lowest mapped stack page, it is a legitimate stack-growth request; otherwise the process is
// killed.
func (k *Kernel) trapMemory(uctxt *machine.UserContext, info int) {
	current := k.sched.Current
	current.UserCtx = *uctxt

	addr := info
	page := addr / machine.PageSize
	brkPage := int(current.Brk) / machine.PageSize

	stackFloor := k.syscalls.lowestStackPage(current)

	if page >= brkPage && page < stackFloor {
		if err := k.addrspace.GrowStack(current, page, stackFloor); err != nil {
			k.syscalls.SysExit(current, -1)
			return
		}
	} else {
		k.syscalls.SysExit(current, -1)
		return
	}

	*uctxt = k.sched.Current.UserCtx
}

// trapTTYReceive handles a terminal receive interrupt. info identifies the terminal; the received
// line itself is assumed already staged by the machine's terminal device (out of scope: the
// device driver that assembles a line of input is not part of this kernel).
func (k *Kernel) trapTTYReceive(uctxt *machine.UserContext, info int) {
	k.ttySub.Receive(info, k.pendingTTYLine(info))
}

// trapTTYTransmit handles a terminal transmit-complete interrupt.
func (k *Kernel) trapTTYTransmit(uctxt *machine.UserContext, info int) {
	k.ttySub.Transmit(info)
}

// trapIllegal is the fallback for any unhandled or malformed trap: it kills the offending process.
func (k *Kernel) trapIllegal(uctxt *machine.UserContext, info int) {
	current := k.sched.Current
	if current == nil {
		return
	}

	current.UserCtx = *uctxt
	k.syscalls.SysExit(current, -1)
	*uctxt = k.sched.Current.UserCtx
}

// pendingTTYLine is a seam for the real terminal-device callback (internal/tty) to have staged a
// received line before raising TrapTTYReceive; the in-process test harness can set it directly.
func (k *Kernel) pendingTTYLine(id int) []byte {
	line := k.pendingLines[id]
	k.pendingLines[id] = nil

	return line
}
