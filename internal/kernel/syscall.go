package kernel

// syscall.go implements the system-call layer (spec §4.F): fork, exec, exit, wait, getpid, brk,
// delay. Grounded on original_source/syscalls.c. Each entry point takes the trapping UserContext
// and the current PCB; the trap dispatcher (trap.go) is responsible for copying uctxt into the
// PCB on entry and back out on exit, per the spec's context-preservation rule.

import (
	"github.com/smoynes/yalnix/internal/machine"
)

// Syscalls bundles every kernel subsystem the syscall layer needs to reach.
type Syscalls struct {
	k *Kernel
}

// NewSyscalls creates the syscall layer bound to a kernel instance.
func NewSyscalls(k *Kernel) *Syscalls {
	return &Syscalls{k: k}
}

// SysFork implements fork(): duplicate the caller into a new PCB, enqueue the child, and return
// the child's pid to the parent while the child itself will observe 0 on its own next dispatch
// (each PCB's own UserCtx.Regs[0] carries its half of the double return, see DESIGN.md's
// scheduling-model note).
func (sc *Syscalls) SysFork(current *PCB) (machine.Word, error) {
	k := sc.k

	childPID := k.nextPID()
	child := NewPCB(childPID)

	if err := k.sched.KCCopy(child, current, k.frames); err != nil {
		return 0, opErr("fork", err)
	}

	child.UserCtx.SetReturn(0)
	current.UserCtx.SetReturn(machine.Word(childPID))

	child.Parent = current
	current.AddChild(child)

	k.procs[childPID] = child

	k.sched.Enqueue(child)

	return machine.Word(childPID), nil
}

// ProgramSource resolves an exec() filename to a loadable program: a parsed header plus readers
// positioned over its text and data segments. Parsing the on-disk executable format itself is out
// of scope (spec §1); this is the seam a real loader-header parser plugs into trap.go's exec
// dispatch through.
type ProgramSource interface {
	Open(name string) (hdr *Header, text, data readerAt, err error)
}

// SysExec implements exec(): reload the calling PCB's address space from path. On failure the
// caller's original image is left untouched and ERROR is returned; on success control resumes via
// the freshly built UserCtx.
func (sc *Syscalls) SysExec(current *PCB, hdr *Header, text, data readerAt, argv []string) error {
	if err := sc.k.loader.Load(current, hdr, text, data, argv); err != nil {
		return opErr("exec", err)
	}

	return nil
}

// readerAt is the minimal interface the loader needs; declared here so syscall.go does not import
// io just to name the parameter type in SysExec's signature.
type readerAt interface {
	ReadAt(p []byte, off int64) (int, error)
}

// SysExit implements exit(): retire the caller, wake a waiting parent if any, orphan its children,
// and switch away. If the caller is pid 1 (init), the whole system halts instead -- spec §4.F,
// supplemented from original_source/kernel.c's special-casing of PID 1.
func (sc *Syscalls) SysExit(current *PCB, status int) {
	k := sc.k

	if current.PID == 1 {
		k.Halt()
		return
	}

	current.ExitStatus = status
	k.sched.Retire(current)

	if parent := current.Parent; parent != nil && k.waitingParent.Contains(parent) {
		k.waitingParent.Remove(parent)
		k.sched.Unblock(parent)
	}

	for _, child := range current.Children() {
		child.Parent = nil
		child.State = StateOrphan
		child.Orphaned = true
	}

	k.sched.KCSwitch(k.sched.Next())
}

// SysWait implements wait(): reap an already-exited child if one is available, otherwise block
// until one is. A caller with no children at all gets ORPHAN instead of plain ERROR if its own
// parent has already exited -- nothing will ever wait for it either, and wait() is the one
// syscall a process is likely to make precisely to learn its lifecycle has stalled out.
func (sc *Syscalls) SysWait(current *PCB) (PID, int, error) {
	k := sc.k

	if !current.HasChildren() {
		if current.Orphaned {
			return 0, 0, opErr("wait", ErrOrphan)
		}

		return 0, 0, opErr("wait", ErrInvalidArg)
	}

	if child := sc.reapChild(current); child != nil {
		return child.PID, child.ExitStatus, nil
	}

	current.State = StateBlocked
	k.waitingParent.Enqueue(current)
	k.sched.Block(current)
	k.sched.KCSwitch(k.sched.Next())

	// On wake, a child of ours has exited; rescan.
	if child := sc.reapChild(current); child != nil {
		return child.PID, child.ExitStatus, nil
	}

	return 0, 0, opErr("wait", ErrNotFound)
}

// reapChild finds and removes the first defunct child of parent, freeing its address space. It
// returns nil if parent has no exited children yet.
func (sc *Syscalls) reapChild(parent *PCB) *PCB {
	k := sc.k

	for _, child := range parent.Children() {
		if child.State == StateDefunct {
			k.sched.Reap(child)
			parent.RemoveChild(child)
			delete(k.procs, child.PID)

			return child
		}
	}

	return nil
}

// SysGetPID implements getpid().
func (sc *Syscalls) SysGetPID(current *PCB) PID {
	return current.PID
}

// SysBrk implements brk(addr): grow or shrink the caller's heap break. A request equal to the
// current break is a no-op success (decided in SPEC_FULL.md's open questions), since the real
// kernel's page-aligned brk computation makes repeated identical brk(addr) calls common and
// harmless.
func (sc *Syscalls) SysBrk(current *PCB, addr machine.Word) error {
	if addr == current.Brk {
		return nil
	}

	newPage := int(addr) / machine.PageSize
	curPage := int(current.Brk) / machine.PageSize

	stackFloor := sc.lowestStackPage(current)

	if newPage >= stackFloor || newPage < 0 {
		return opErr("brk", ErrInvalidArg)
	}

	frames := sc.k.frames

	if newPage > curPage {
		mapped := make([]int, 0, newPage-curPage)

		for page := curPage; page < newPage; page++ {
			f, ok := frames.Alloc()
			if !ok {
				for _, g := range mapped {
					if fr := current.R1.Unmap(g); fr != machine.InvalidFrame {
						frames.Free(fr)
					}
				}

				return opErr("brk", ErrNoMemory)
			}

			if err := current.R1.Map(page, f, machine.ProtReadWrite); err != nil {
				frames.Free(f)
				return opErr("brk", err)
			}

			mapped = append(mapped, page)
		}
	} else {
		for page := newPage; page < curPage; page++ {
			if f := current.R1.Unmap(page); f != machine.InvalidFrame {
				frames.Free(f)
			}
		}
	}

	sc.k.machine.TLB.FlushR1()
	current.Brk = addr

	return nil
}

// lowestStackPage walks down from the top of R1 to find the lowest mapped page above the break:
// that page is the stack floor brk must never grow past.
func (sc *Syscalls) lowestStackPage(p *PCB) int {
	lowest := p.R1.Len()

	for page := p.R1.Len() - 1; page >= 0; page-- {
		pte, ok := p.R1.Lookup(page)
		if !ok || !pte.Valid {
			break
		}

		if page*machine.PageSize >= int(p.Brk) {
			lowest = page
		}
	}

	return lowest
}

// SysDelay implements delay(n): block the caller for n clock ticks.
func (sc *Syscalls) SysDelay(current *PCB, n int) error {
	if n < 0 {
		return opErr("delay", ErrInvalidArg)
	}

	if n == 0 {
		return nil
	}

	current.DelayTicks = n
	sc.k.sched.Block(current)
	sc.k.sched.KCSwitch(sc.k.sched.Next())

	return nil
}
