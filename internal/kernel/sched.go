package kernel

// sched.go implements the scheduler: the ready/blocked/defunct queues (waiting_parent lives on
// Kernel), the
// currently-running PCB, round-robin tick handling, and the kernel context switch. There is no
// real concurrency here -- the kernel is a single Go call stack, and "switching" to another
// process means pointing Current at a different PCB and letting that PCB's own UserCtx/KernelCtx
// carry forward from where it last stopped. This sidesteps the save/restore-as-coroutine problem
// the original hardware solves with a real stack swap: each PCB's register file already holds
// its suspended state, so resuming it is just reading that state back out, not re-entering a
// stack frame.

import (
	"github.com/smoynes/yalnix/internal/log"
	"github.com/smoynes/yalnix/internal/machine"
)

// quantumTicks is how many clock ticks a process runs before round robin preempts it.
const quantumTicks = 1

// Scheduler owns every PCB queue and the notion of "the current process".
type Scheduler struct {
	Current *PCB

	ready   *Queue
	blocked *Queue
	defunct *Queue

	// idle runs only when ready is empty; it is never itself linked into ready.
	idle *PCB

	quantum int

	as  *AddrSpace
	m   *machine.Machine
	log *log.Logger
}

// NewScheduler creates a scheduler with empty queues.
func NewScheduler(as *AddrSpace, m *machine.Machine, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	return &Scheduler{
		ready:   NewQueue(),
		blocked: NewQueue(),
		defunct: NewQueue(),
		as:      as,
		m:       m,
		log:     logger,
	}
}

// SetIdle registers the idle process. Idle is never enqueued in ready and is never a valid
// candidate for wait() to reap; it is the scheduler's fallback when ready is empty.
func (s *Scheduler) SetIdle(p *PCB) {
	s.idle = p
}

// Enqueue appends p to the ready queue and marks it READY.
func (s *Scheduler) Enqueue(p *PCB) {
	if p == s.idle {
		return
	}

	p.State = StateReady
	s.ready.Enqueue(p)
}

// Block moves p (which must be s.Current) out of circulation as BLOCKED. The caller is
// responsible for linking p into whatever wait queue it is blocking on before calling Block, since
// Block itself only updates scheduling state and does not touch wait queues.
func (s *Scheduler) Block(p *PCB) {
	p.State = StateBlocked
	s.blocked.Enqueue(p)
}

// Unblock removes p from the blocked queue and makes it ready again. The caller must have already
// removed p from whatever wait queue woke it.
func (s *Scheduler) Unblock(p *PCB) {
	s.blocked.Remove(p)
	s.Enqueue(p)
}

// Retire moves p to the defunct queue; it is no longer schedulable. Its address space is not
// freed here -- a parent may still wait() on its exit status, and the R1/kernel-stack frames stay
// reserved until Reap runs.
func (s *Scheduler) Retire(p *PCB) {
	p.State = StateDefunct
	s.defunct.Enqueue(p)
}

// Reap removes p from the defunct queue once its exit status has been collected by wait(), freeing
// its address space for good.
func (s *Scheduler) Reap(p *PCB) {
	s.defunct.Remove(p)
	s.as.FreeAddressSpace(p)
}

// ReadyLen, BlockedLen, DefunctLen expose queue depths for tests and diagnostics.
func (s *Scheduler) ReadyLen() int   { return s.ready.Len() }
func (s *Scheduler) BlockedLen() int { return s.blocked.Len() }
func (s *Scheduler) DefunctLen() int { return s.defunct.Len() }

// Tick drives both delay expiry and round-robin preemption, mirroring the clock trap handler
// (spec §4.D, original_source/kernel.c's ClockTrap): every blocked PCB with DelayTicks > 0 has it
// decremented, and any that now reach zero are unblocked and returned in expired. Separately, the
// current process's quantum is decremented; if it expires, quantumDone is true so the
// syscall/trap layer can switch away from it.
func (s *Scheduler) Tick() (expired []*PCB, quantumDone bool) {
	// Walk a snapshot since Unblock mutates the blocked queue during iteration.
	var woken []*PCB

	s.blocked.Each(func(p *PCB) {
		if p.DelayTicks > 0 {
			p.DelayTicks--

			if p.DelayTicks == 0 {
				p.DelayTicks = notDelaying
				woken = append(woken, p)
			}
		}
	})

	for _, p := range woken {
		s.Unblock(p)
	}

	s.quantum++

	if s.quantum >= quantumTicks {
		s.quantum = 0
		quantumDone = true
	}

	return woken, quantumDone
}

// Next picks the next process to run: the head of ready, or idle if ready is empty. It does not
// itself perform the context switch.
func (s *Scheduler) Next() *PCB {
	if p := s.ready.Dequeue(); p != nil {
		return p
	}

	return s.idle
}

// KCSwitch performs the kernel context switch from s.Current to next: it saves the outgoing
// process's kernel register state, installs next's R1 page table and kernel stack mapping, and
// restores next's kernel register state. Named for and grounded on the hardware KCSwitch/
// KernelContextSwitch primitive (spec §4.D; original_source/kernel.c, hardware.h) but implemented
// as a plain function call rather than a real stack swap, since every PCB's register state already
// lives in its own UserCtx/KernelCtx rather than on a shared machine stack.
func (s *Scheduler) KCSwitch(next *PCB) {
	prev := s.Current

	if prev != nil && prev != next && prev.State == StateRunning {
		prev.State = StateReady
	}

	if prev != nil {
		machine.SaveRestore(&prev.KernelCtx, &next.KernelCtx)
	}

	s.m.SetPTBR1(next.R1)
	s.installKStack(next)

	next.State = StateRunning
	s.Current = next
}

// installKStack maps next's two kernel-stack frames into the fixed kernel-stack window in R0,
// replacing whichever process's stack was mapped there before. Only one process's kernel stack is
// ever resident at a time, matching the single KStackPages-sized window real Yalnix reserves.
func (s *Scheduler) installKStack(next *PCB) {
	r0 := s.as.R0()
	base := s.as.kstackBase

	for i := 0; i < KStackPages; i++ {
		r0.Unmap(base + i)

		if next.KStackValid {
			if err := r0.Map(base+i, next.KStack[i], machine.ProtReadWrite); err != nil {
				panic(err)
			}
		}
	}

	s.m.TLB.FlushKStack()
}

// KCCopy duplicates src's entire address space (R1 page table contents and kernel stack) into a
// freshly-created dst PCB, for fork(). Grounded on original_source/kernel.c's KCCopy and
// process.c's process duplication path.
func (s *Scheduler) KCCopy(dst, src *PCB, frames *FrameAllocator) error {
	copied := make([]int, 0, src.R1.Len())

	rollback := func() {
		for _, page := range copied {
			if f := dst.R1.Unmap(page); f != machine.InvalidFrame {
				frames.Free(f)
			}
		}
	}

	for page := 0; page < src.R1.Len(); page++ {
		pte, ok := src.R1.Lookup(page)
		if !ok || !pte.Valid {
			continue
		}

		f, allocated := frames.Alloc()
		if !allocated {
			rollback()
			return opErr("kc_copy", ErrNoMemory)
		}

		if err := s.as.CopyForeignFrame(f, pte.PFN); err != nil {
			frames.Free(f)
			rollback()

			return err
		}

		if err := dst.R1.Map(page, f, pte.Prot); err != nil {
			frames.Free(f)
			rollback()

			return err
		}

		copied = append(copied, page)
	}

	if err := s.seedKernelStack(dst, src, frames); err != nil {
		rollback()
		return err
	}

	dst.Brk = src.Brk
	dst.UserCtx = src.UserCtx

	return nil
}

// SeedKernelStack duplicates only src's kernel-stack frames and saved kernel register state into
// dst, leaving dst's R1, UserCtx, and Brk untouched. Used by Boot to give init working kernel
// machinery from idle's without disturbing init's already-loaded program image -- unlike KCCopy,
// which duplicates the entire address space for fork().
func (s *Scheduler) SeedKernelStack(dst, src *PCB, frames *FrameAllocator) error {
	return s.seedKernelStack(dst, src, frames)
}

func (s *Scheduler) seedKernelStack(dst, src *PCB, frames *FrameAllocator) error {
	for i := 0; i < KStackPages; i++ {
		f, allocated := frames.Alloc()
		if !allocated {
			for j := 0; j < i; j++ {
				frames.Free(dst.KStack[j])
			}

			return opErr("kc_copy", ErrNoMemory)
		}

		if err := s.as.CopyForeignFrame(f, src.KStack[i]); err != nil {
			frames.Free(f)
			return err
		}

		dst.KStack[i] = f
	}

	dst.KStackValid = true
	dst.KernelCtx = src.KernelCtx

	return nil
}
