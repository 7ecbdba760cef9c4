package kernel

// pcb.go is the process control block: per-process state, the owned R1 page table and kernel
// stack, and the bookkeeping the scheduler and syscall layer need to keep a process's lifecycle
// straight.

import (
	"fmt"

	"github.com/smoynes/yalnix/internal/machine"
)

// State is a PCB's position in the process lifecycle (spec §4.I state machine). It must always
// agree with which scheduler queue, if any, the PCB is linked into.
type State uint8

const (
	StateRunning State = iota
	StateReady
	StateBlocked
	StateDefunct
	StateOrphan
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateReady:
		return "READY"
	case StateBlocked:
		return "BLOCKED"
	case StateDefunct:
		return "DEFUNCT"
	case StateOrphan:
		return "ORPHAN"
	default:
		return fmt.Sprintf("STATE(%d)", int(s))
	}
}

// PID is a process id, drawn from the kernel's id service (kernel.nextPID).
type PID int32

func (p PID) String() string {
	return fmt.Sprintf("pid(%d)", int32(p))
}

// PCB is a process control block.
type PCB struct {
	PID   PID
	State State

	R1      *machine.PageTable // Owned: lifetime equals the PCB's.
	KStack  [KStackPages]machine.Frame
	KStackValid bool

	Brk machine.Word // Current heap break, an R1 address.

	UserCtx   machine.UserContext
	KernelCtx machine.KernelContext

	// qnext/qprev link this PCB into at most one scheduler queue (ready/blocked/defunct) at a
	// time. waitNext/waitPrev independently link it into at most one WaitQueue (a sync-object or
	// terminal waiter queue, or waiting_parent) at the same time -- a PCB blocked on a lock is
	// linked into both the global `blocked` queue and that lock's waiter queue at once.
	qnext, qprev     *PCB
	waitNext, waitPrev *PCB

	Parent   *PCB // Weak back-reference; nulled on parent exit (ORPHAN).
	children []*PCB

	DelayTicks int // notDelaying when not sleeping.

	ExitStatus int

	// Staging is a kernel-owned buffer for the syscall currently in flight on this PCB: the
	// destination for a blocked tty_read, or the remaining tail of a blocked pipe write.
	Staging []byte

	// TTYWant is the number of bytes a blocked tty_read asked for; TTYResult is how many
	// ended up in Staging when the read completes.
	TTYWant   int
	TTYResult int

	// PipeRemaining is how many of the bytes in Staging are still unwritten, for a blocked
	// pipe write.
	PipeRemaining int

	// BufAddr is the R1 address of the user buffer a blocked tty_read or pipe_read will copy
	// its result into once data arrives; set by the trap layer before the read is attempted.
	BufAddr machine.Word

	// Orphaned is set once, on a parent's exit, and never cleared -- unlike State, which
	// KCSwitch overwrites to RUNNING the moment this PCB runs again.
	Orphaned bool
}

// NewPCB creates a PCB with a fresh, empty R1 page table. It is not linked into any queue.
func NewPCB(pid PID) *PCB {
	return &PCB{
		PID:        pid,
		State:      StateReady,
		R1:         machine.NewPageTable(NumR1Pages),
		DelayTicks: notDelaying,
	}
}

// AddChild records a child as owned by this PCB.
func (p *PCB) AddChild(c *PCB) {
	p.children = append(p.children, c)
}

// RemoveChild removes a child, e.g. once wait() has reaped it.
func (p *PCB) RemoveChild(c *PCB) {
	for i, ch := range p.children {
		if ch == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// Children returns the PCB's live children. The returned slice is owned by the PCB; callers must
// not retain or mutate it across further PCB mutation.
func (p *PCB) Children() []*PCB {
	return p.children
}

// HasChildren reports whether the PCB owns any children.
func (p *PCB) HasChildren() bool {
	return len(p.children) > 0
}

