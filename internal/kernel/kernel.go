package kernel

// kernel.go assembles every subsystem into a single Kernel value and exposes the handful of
// bookkeeping operations (pid allocation, the process table, system halt) that don't belong to
// any one subsystem on their own. Grounded on original_source/kernel.c's global kernel state and
// adapted to elsie/internal/monitor's "one struct wires every subsystem together" shape.

import (
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// Kernel is the fully wired kernel: every subsystem plus the process table and pid counter.
type Kernel struct {
	machine *machine.Machine

	frames    *FrameAllocator
	addrspace *AddrSpace
	sched     *Scheduler
	loader    *Loader
	syscalls  *Syscalls
	sync      *SyncTable
	ttySub    *TTYSubsystem
	programs  ProgramSource

	procs         map[PID]*PCB
	waitingParent *WaitQueue
	pidCounter    PID

	pendingLines [][]byte

	halted bool

	log *log.Logger
}

// New creates a kernel bound to m, with one physical frame per frame of m and kernelImagePages R0
// pages reserved for the identity-mapped kernel image (text and data). The kernel-stack window is
// a separate range at the top of R0.
func New(m *machine.Machine, kernelImagePages int, logger *log.Logger) *Kernel {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	frames := NewFrameAllocator(m.NumFrames(), logger)
	// The kernel stack window sits at the very top of R0; the heap grows upward from the end
	// of the identity-mapped kernel image toward it.
	kstackBase := NumR0Pages - KStackPages
	as := NewAddrSpace(m, frames, kernelImagePages, kstackBase, logger)

	sched := NewScheduler(as, m, logger)
	loader := NewLoader(m, frames, as, logger)
	sync := NewSyncTable(sched, as)
	ttySub := NewTTYSubsystem(m.Terminals, sched, as)

	k := &Kernel{
		machine:       m,
		frames:        frames,
		addrspace:     as,
		sched:         sched,
		loader:        loader,
		sync:          sync,
		ttySub:        ttySub,
		procs:         make(map[PID]*PCB),
		waitingParent: NewWaitQueue(),
		pendingLines:  make([][]byte, len(m.Terminals)),
		log:           logger,
	}

	k.syscalls = NewSyscalls(k)

	return k
}

// nextPID returns a fresh, never-reused process id.
func (k *Kernel) nextPID() PID {
	k.pidCounter++
	return k.pidCounter
}

// Lookup returns the PCB for pid, if it still exists.
func (k *Kernel) Lookup(pid PID) (*PCB, bool) {
	p, ok := k.procs[pid]
	return p, ok
}

// Halt stops the simulated system, e.g. when pid 1 (init) exits (spec §4.F).
func (k *Kernel) Halt() {
	k.halted = true
	k.log.Info("kernel: halted")
}

// Halted reports whether Halt has been called.
func (k *Kernel) Halted() bool {
	return k.halted
}

// Scheduler exposes the scheduler for the boot sequence and tests.
func (k *Kernel) Scheduler() *Scheduler {
	return k.sched
}

// AddrSpace exposes the address-space manager for the boot sequence and tests.
func (k *Kernel) AddrSpace() *AddrSpace {
	return k.addrspace
}

// Loader exposes the program loader for the boot sequence and tests.
func (k *Kernel) Loader() *Loader {
	return k.loader
}

// Syscalls exposes the syscall layer for the boot sequence and tests.
func (k *Kernel) Syscalls() *Syscalls {
	return k.syscalls
}

// Sync exposes the synchronization-object table for the boot sequence and tests.
func (k *Kernel) Sync() *SyncTable {
	return k.sync
}

// TTY exposes the TTY subsystem for the boot sequence and tests.
func (k *Kernel) TTY() *TTYSubsystem {
	return k.ttySub
}

// Frames exposes the frame allocator for the boot sequence and tests.
func (k *Kernel) Frames() *FrameAllocator {
	return k.frames
}

// SetProgramSource installs the collaborator exec() uses to resolve a filename to a loadable
// program. Parsing the on-disk executable format is out of scope here (spec §1); without a
// source installed, exec always reports ERROR.
func (k *Kernel) SetProgramSource(ps ProgramSource) {
	k.programs = ps
}

// Programs exposes the installed program source, if any, for tests.
func (k *Kernel) Programs() ProgramSource {
	return k.programs
}

// Machine exposes the underlying simulated machine, e.g. for a terminal driver (internal/tty) to
// bind a real TTY to one of the machine's terminal devices.
func (k *Kernel) Machine() *machine.Machine {
	return k.machine
}

// RegisterProcess inserts a PCB into the process table under its own pid. Intended for PCBs
// created outside the ordinary fork path (boot's idle and init processes).
func (k *Kernel) RegisterProcess(p *PCB) {
	k.procs[p.PID] = p
}

// StageTTYLine stages a received line for terminal id, to be picked up by the next
// TrapTTYReceive dispatch. The real line-assembly discipline (echoing keystrokes, buffering until
// newline) lives in internal/tty, outside the kernel; this is the seam between them.
func (k *Kernel) StageTTYLine(id int, line []byte) {
	if id < 0 || id >= len(k.pendingLines) {
		return
	}

	k.pendingLines[id] = line
}

// DispatchTrap forwards a trap to the machine's installed handler for slot, the single entry
// point the boot loop and tests use to drive the kernel forward one event at a time.
func (k *Kernel) DispatchTrap(slot machine.TrapSlot, uctxt *machine.UserContext, info int) {
	k.machine.Vector.Dispatch(slot, uctxt, info)
}
