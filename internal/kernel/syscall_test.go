package kernel

import (
	"errors"
	"testing"

	"github.com/smoynes/yalnix/internal/machine"
)

func newTestKernel(t *testing.T, kernelImagePages int) *Kernel {
	t.Helper()

	m := machine.New(256, 1, nil)

	k, err := Boot(m, BootConfig{KernelImagePages: kernelImagePages})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	return k
}

func TestSysForkDoubleReturn(t *testing.T) {
	k := newTestKernel(t, 16)

	parent := NewPCB(2)
	parent.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(parent)
	k.sched.Current = parent
	parent.State = StateRunning

	for i := 0; i < KStackPages; i++ {
		f, _ := k.frames.Alloc()
		parent.KStack[i] = f
	}

	parent.KStackValid = true

	childPID, err := k.syscalls.SysFork(parent)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	child, ok := k.Lookup(PID(childPID))
	if !ok {
		t.Fatal("child not registered")
	}

	if child.UserCtx.Regs[0] != 0 {
		t.Fatalf("child return value = %v, want 0", child.UserCtx.Regs[0])
	}

	if parent.UserCtx.Regs[0] != machine.Word(childPID) {
		t.Fatalf("parent return value = %v, want %v", parent.UserCtx.Regs[0], childPID)
	}

	if !parent.HasChildren() {
		t.Fatal("parent does not list child")
	}

	if child.Parent != parent {
		t.Fatal("child parent pointer not set")
	}
}

func TestSysExitOrphansChildrenAndWakesParent(t *testing.T) {
	k := newTestKernel(t, 16)

	parent := NewPCB(2)
	parent.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(parent)

	child := NewPCB(3)
	child.R1 = machine.NewPageTable(NumR1Pages)
	child.Parent = parent
	parent.AddChild(child)
	k.RegisterProcess(child)

	grandchild := NewPCB(4)
	grandchild.R1 = machine.NewPageTable(NumR1Pages)
	grandchild.Parent = child
	child.AddChild(grandchild)
	k.RegisterProcess(grandchild)

	for _, p := range []*PCB{child, grandchild} {
		for i := 0; i < KStackPages; i++ {
			f, _ := k.frames.Alloc()
			p.KStack[i] = f
		}

		p.KStackValid = true
	}

	k.sched.Current = parent
	parent.State = StateBlocked
	k.waitingParent.Enqueue(parent)
	k.sched.Block(parent)

	k.sched.Current = child
	child.State = StateRunning

	k.syscalls.SysExit(child, 7)

	if child.State != StateDefunct {
		t.Fatalf("child.State = %v, want DEFUNCT", child.State)
	}

	if child.ExitStatus != 7 {
		t.Fatalf("child.ExitStatus = %d, want 7", child.ExitStatus)
	}

	// Boot left init at the head of ready, so exit's final KCSwitch runs init; the woken parent
	// waits behind it.
	if parent.State != StateReady {
		t.Fatalf("parent.State = %v, want READY (woken by child exit)", parent.State)
	}

	if init, _ := k.Lookup(initPID); k.Scheduler().Current != init {
		t.Fatalf("Current = %v, want init", k.Scheduler().Current)
	}

	if grandchild.State != StateOrphan {
		t.Fatalf("grandchild.State = %v, want ORPHAN", grandchild.State)
	}

	if grandchild.Parent != nil {
		t.Fatal("grandchild parent pointer not nulled")
	}
}

func TestSysWaitReapsExitedChild(t *testing.T) {
	k := newTestKernel(t, 16)

	parent := NewPCB(2)
	parent.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(parent)

	child := NewPCB(3)
	child.R1 = machine.NewPageTable(NumR1Pages)
	child.Parent = parent
	parent.AddChild(child)
	k.RegisterProcess(child)
	k.sched.Retire(child)
	child.ExitStatus = 42

	pid, status, err := k.syscalls.SysWait(parent)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	if pid != child.PID {
		t.Fatalf("pid = %v, want %v", pid, child.PID)
	}

	if status != 42 {
		t.Fatalf("status = %d, want 42", status)
	}

	if parent.HasChildren() {
		t.Fatal("parent should have no children left after reap")
	}

	if _, ok := k.Lookup(child.PID); ok {
		t.Fatal("child should be removed from process table after reap")
	}
}

func TestSysWaitErrorsWithNoChildren(t *testing.T) {
	k := newTestKernel(t, 16)

	parent := NewPCB(2)
	k.RegisterProcess(parent)

	if _, _, err := k.syscalls.SysWait(parent); err == nil {
		t.Fatal("expected error waiting with no children")
	}
}

func TestSysWaitReturnsOrphanAfterOwnParentExits(t *testing.T) {
	k := newTestKernel(t, 16)

	grandparent := NewPCB(2)
	grandparent.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(grandparent)

	orphan := NewPCB(3)
	orphan.R1 = machine.NewPageTable(NumR1Pages)
	orphan.Parent = grandparent
	grandparent.AddChild(orphan)
	k.RegisterProcess(orphan)

	for i := 0; i < KStackPages; i++ {
		f, _ := k.frames.Alloc()
		orphan.KStack[i] = f
	}

	orphan.KStackValid = true

	k.sched.Current = grandparent
	grandparent.State = StateRunning

	k.syscalls.SysExit(grandparent, 0)

	if !orphan.Orphaned {
		t.Fatal("orphan.Orphaned should be set once its parent exits")
	}

	if orphan.Parent != nil {
		t.Fatal("orphan.Parent should be nulled")
	}

	if _, _, err := k.syscalls.SysWait(orphan); !errors.Is(err, ErrOrphan) {
		t.Fatalf("wait on a childless orphan should report ORPHAN, got %v", err)
	}
}

func TestSysBrkNoOpWhenUnchanged(t *testing.T) {
	k := newTestKernel(t, 16)

	p := NewPCB(2)
	p.R1 = machine.NewPageTable(NumR1Pages)
	p.Brk = 4096
	k.RegisterProcess(p)

	if err := k.syscalls.SysBrk(p, 4096); err != nil {
		t.Fatalf("brk no-op: %v", err)
	}
}

func TestSysBrkGrowsAndShrinks(t *testing.T) {
	k := newTestKernel(t, 16)

	p := NewPCB(2)
	p.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(p)

	if err := k.syscalls.SysBrk(p, machine.Word(4*machine.PageSize)); err != nil {
		t.Fatalf("grow: %v", err)
	}

	for page := 0; page < 4; page++ {
		if pte, ok := p.R1.Lookup(page); !ok || !pte.Valid {
			t.Fatalf("page %d not mapped after brk growth", page)
		}
	}

	if err := k.syscalls.SysBrk(p, machine.Word(1*machine.PageSize)); err != nil {
		t.Fatalf("shrink: %v", err)
	}

	for page := 1; page < 4; page++ {
		if pte, ok := p.R1.Lookup(page); ok && pte.Valid {
			t.Fatalf("page %d still mapped after brk shrink", page)
		}
	}
}

func TestSysDelayValidation(t *testing.T) {
	k := newTestKernel(t, 16)

	p := NewPCB(2)
	p.R1 = machine.NewPageTable(NumR1Pages)
	k.RegisterProcess(p)

	if err := k.syscalls.SysDelay(p, -1); err == nil {
		t.Fatal("expected error for negative delay")
	}

	if err := k.syscalls.SysDelay(p, 0); err != nil {
		t.Fatalf("delay(0) should be a no-op success: %v", err)
	}

	if p.State == StateBlocked {
		t.Fatal("delay(0) should not block the caller")
	}
}
