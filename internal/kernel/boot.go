package kernel

// boot.go is the system boot sequence (spec §6), grounded on original_source/kernel.c's
// KernelStart.

import (
	"github.com/smoynes/yalnix/internal/machine"
)

// idlePID and initPID are fixed, well-known process ids. Init is always pid 1, per spec §4.F's
// "if caller is pid 1, halt the system" exit rule and original_source/kernel.c's convention.
const (
	idlePID PID = 0
	initPID PID = 1
)

// BootConfig bundles the boot-time inputs: the program to run as init, its argv, and the number of
// R0 pages occupied by the kernel's own identity-mapped text and data (excluding the kernel-stack
// window, which is placed at the top of R0 by New).
type BootConfig struct {
	KernelImagePages int
	InitProgram      *Header
	InitText         readerAt
	InitData         readerAt
	Argv             []string
}

// Boot wires a fresh Kernel for machine m and brings it up to the point where init is ready to
// run and idle is the current process, per spec §6:
//  1. frame bitmap (done by New)
//  2. identity-map R0: kernel text/data R+W (a generic boot image has no separate R+X text region
//     to retighten, unlike a loaded user program), kernel stack R+W
//  3. install the trap vector
//  4. enable VM
//  5. create idle (one user-stack page at the top of R1, running an idle loop) and init
//  6. load the initial program into init's R1
//  7. kc_copy idle -> init to seed init's kernel state
//  8. enqueue init on ready
//  9. return to user mode in idle (the caller continues by dispatching traps; Boot itself just
//     leaves Current == idle)
func Boot(m *machine.Machine, cfg BootConfig) (*Kernel, error) {
	k := New(m, cfg.KernelImagePages, nil)

	k.addrspace.IdentityMap(cfg.KernelImagePages, machine.ProtReadWrite)

	// The kernel-stack window itself is left unmapped here: it is a fixed R0 virtual range
	// that installKStack repoints to whichever process is current, not a fixed set of physical
	// frames. idle's real kernel-stack frames are installed into it below.
	k.InstallTraps()
	k.addrspace.EnableVM()

	idle := NewPCB(idlePID)
	if err := buildIdleProcess(k, idle); err != nil {
		return nil, err
	}

	k.sched.SetIdle(idle)
	k.RegisterProcess(idle)

	init := NewPCB(initPID)
	k.RegisterProcess(init)
	k.pidCounter = initPID

	if cfg.InitProgram != nil {
		if err := k.loader.Load(init, cfg.InitProgram, cfg.InitText, cfg.InitData, cfg.Argv); err != nil {
			return nil, err
		}
	}

	if err := allocateKStack(k, idle); err != nil {
		return nil, err
	}

	// Seed init's kernel stack and saved kernel context from idle's, per spec §6 -- this gives
	// init working kernel machinery without disturbing the program image already loaded into
	// its R1 above.
	if err := k.sched.SeedKernelStack(init, idle, k.frames); err != nil {
		return nil, err
	}

	k.sched.Enqueue(init)

	k.sched.Current = idle
	idle.State = StateRunning
	m.SetPTBR1(idle.R1)
	k.sched.installKStack(idle)

	return k, nil
}

// buildIdleProcess maps a single user-stack page at the top of idle's R1, per spec §6. Idle never
// runs any program image; its "entry point" is the idle loop the boot caller drives by repeatedly
// dispatching the clock trap whenever the scheduler has nothing else ready.
func buildIdleProcess(k *Kernel, idle *PCB) error {
	topPage := idle.R1.Len() - 1

	f, ok := k.frames.Alloc()
	if !ok {
		return opErr("boot", ErrNoMemory)
	}

	if err := idle.R1.Map(topPage, f, machine.ProtReadWrite); err != nil {
		k.frames.Free(f)
		return err
	}

	idle.UserCtx.SP = machine.Word((topPage + 1) * machine.PageSize)
	idle.Brk = 0

	return nil
}

// allocateKStack gives p its two kernel-stack frames, zeroed, so KCSwitch/KCCopy have something
// concrete to install and copy.
func allocateKStack(k *Kernel, p *PCB) error {
	for i := 0; i < KStackPages; i++ {
		f, ok := k.frames.Alloc()
		if !ok {
			for j := 0; j < i; j++ {
				k.frames.Free(p.KStack[j])
			}

			return opErr("boot", ErrNoMemory)
		}

		if err := k.addrspace.ZeroForeignFrame(f); err != nil {
			k.frames.Free(f)
			return err
		}

		p.KStack[i] = f
	}

	p.KStackValid = true

	return nil
}
