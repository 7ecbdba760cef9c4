package kernel

import (
	"bytes"
	"testing"

	"github.com/smoynes/yalnix/internal/machine"
)

func TestTrapKernelGetPID(t *testing.T) {
	k := newTestKernel(t, 16)

	init, _ := k.Lookup(initPID)
	k.sched.KCSwitch(init)

	uctxt := init.UserCtx
	uctxt.Regs[0] = SyscallGetPID

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != machine.Word(initPID) {
		t.Fatalf("getpid returned %v, want %v", uctxt.Regs[0], initPID)
	}
}

func TestTrapKernelDelayZeroDoesNotBlock(t *testing.T) {
	k := newTestKernel(t, 16)

	init, _ := k.Lookup(initPID)
	k.sched.KCSwitch(init)

	uctxt := init.UserCtx
	uctxt.Regs[0] = SyscallDelay
	uctxt.Regs[1] = 0

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != 0 {
		t.Fatalf("delay(0) return = %v, want 0", uctxt.Regs[0])
	}

	if init.State == StateBlocked {
		t.Fatal("delay(0) should not block")
	}
}

func TestTrapClockPreemptsOnQuantumExpiry(t *testing.T) {
	k := newTestKernel(t, 16)

	init, _ := k.Lookup(initPID)

	// Give init a second ready process to preempt into.
	other := NewPCB(9)
	other.R1 = machine.NewPageTable(NumR1Pages)

	for i := 0; i < KStackPages; i++ {
		f, _ := k.frames.Alloc()
		other.KStack[i] = f
	}

	other.KStackValid = true
	k.RegisterProcess(other)
	k.sched.Enqueue(other)

	k.sched.KCSwitch(k.sched.Next())

	uctxt := init.UserCtx
	k.DispatchTrap(machine.TrapClock, &uctxt, 0)

	if k.Scheduler().Current != other {
		t.Fatalf("Current = %v, want other (preempted init)", k.Scheduler().Current)
	}

	if init.State != StateReady {
		t.Fatalf("init.State = %v, want READY after preemption", init.State)
	}
}

func TestTrapIllegalKillsProcess(t *testing.T) {
	k := newTestKernel(t, 16)

	init, _ := k.Lookup(initPID)
	k.sched.KCSwitch(init)

	uctxt := init.UserCtx
	k.DispatchTrap(machine.TrapIllegal, &uctxt, 0)

	if !k.Halted() {
		t.Fatal("expected halt: the only process killed was pid 1 (init)")
	}
}

// newRunningUserProcess registers pid with its own R1 table and kernel stack and makes it the
// scheduler's current process, the shape every trapKernel test below starts from.
func newRunningUserProcess(t *testing.T, k *Kernel, pid PID) *PCB {
	t.Helper()

	p := NewPCB(pid)
	p.R1 = machine.NewPageTable(NumR1Pages)

	for i := 0; i < KStackPages; i++ {
		f, _ := k.frames.Alloc()
		p.KStack[i] = f
	}

	p.KStackValid = true
	k.RegisterProcess(p)
	k.sched.Current = p
	p.State = StateRunning

	return p
}

// pokeString maps page 0 of p's R1 read-write and writes s NUL-terminated at address 0, returning
// that address. Used to hand a filename or buffer to a syscall through the only channel a real
// user process has: its own mapped memory.
func pokeString(t *testing.T, k *Kernel, p *PCB, s string) machine.Word {
	t.Helper()

	f, ok := k.frames.Alloc()
	if !ok {
		t.Fatal("no frame available")
	}

	if err := p.R1.Map(0, f, machine.ProtReadWrite); err != nil {
		t.Fatalf("map: %v", err)
	}

	copy(k.machine.FrameBytes(f), append([]byte(s), 0))

	return 0
}

// stubProgramSource implements ProgramSource by returning a single fixed program regardless of
// the requested name, enough to drive exec() through trapKernel without an on-disk executable
// format (out of scope here, per spec §1).
type stubProgramSource struct {
	hdr  *Header
	text []byte
	data []byte
}

func (s *stubProgramSource) Open(name string) (*Header, readerAt, readerAt, error) {
	return s.hdr, bytes.NewReader(s.text), bytes.NewReader(s.data), nil
}

func TestTrapKernelExecLoadsProgram(t *testing.T) {
	k := newTestKernel(t, 16)

	child := newRunningUserProcess(t, k, 2)
	nameAddr := pokeString(t, k, child, "prog")

	text := bytes.Repeat([]byte{0x01}, machine.PageSize)

	k.SetProgramSource(&stubProgramSource{
		hdr: &Header{
			EntryAddr:     machine.Word(machine.PageSize),
			TextStartPage: 1,
			TextPages:     1,
			DataStartPage: 2,
			DataPages:     1,
			TextSize:      int64(len(text)),
		},
		text: text,
	})

	uctxt := child.UserCtx
	uctxt.Regs[0] = SyscallExec
	uctxt.Regs[1] = nameAddr

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] == ^machine.Word(0) {
		t.Fatal("exec reported ERROR")
	}

	if uctxt.PC != machine.Word(machine.PageSize) {
		t.Fatalf("PC = %v, want entry point", uctxt.PC)
	}

	textPTE, ok := child.R1.Lookup(1)
	if !ok || !textPTE.Valid {
		t.Fatal("text page not mapped after exec")
	}
}

func TestTrapKernelExecWithoutProgramSourceFails(t *testing.T) {
	k := newTestKernel(t, 16)

	child := newRunningUserProcess(t, k, 2)
	nameAddr := pokeString(t, k, child, "prog")

	uctxt := child.UserCtx
	uctxt.Regs[0] = SyscallExec
	uctxt.Regs[1] = nameAddr

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != ^machine.Word(0) {
		t.Fatal("expected ERROR with no program source installed")
	}
}

func TestTrapKernelExecBadFilenamePointerKillsCaller(t *testing.T) {
	k := newTestKernel(t, 16)

	other := newRunningUserProcess(t, k, 9)
	k.sched.Enqueue(other)

	child := newRunningUserProcess(t, k, 2)

	uctxt := child.UserCtx
	uctxt.Regs[0] = SyscallExec
	uctxt.Regs[1] = machine.Word(machine.PageSize) * 200 // unmapped

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if child.State != StateDefunct {
		t.Fatalf("child.State = %v, want DEFUNCT after BAD_ACCESS", child.State)
	}
}

func TestTrapKernelLockRoundTrip(t *testing.T) {
	k := newTestKernel(t, 16)

	p := newRunningUserProcess(t, k, 2)

	uctxt := p.UserCtx
	uctxt.Regs[0] = SyscallLockInit

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	id := uctxt.Regs[0]
	if id == ^machine.Word(0) {
		t.Fatal("lock_init reported ERROR")
	}

	k.sched.Current = p
	uctxt.Regs[0] = SyscallLockAcquire
	uctxt.Regs[1] = id

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != 0 {
		t.Fatalf("lock_acquire returned %v, want 0", uctxt.Regs[0])
	}

	k.sched.Current = p
	uctxt.Regs[0] = SyscallLockRelease
	uctxt.Regs[1] = id

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != 0 {
		t.Fatalf("lock_release returned %v, want 0", uctxt.Regs[0])
	}

	k.sched.Current = p
	uctxt.Regs[0] = SyscallReclaim
	uctxt.Regs[1] = id

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != 0 {
		t.Fatalf("reclaim returned %v, want 0", uctxt.Regs[0])
	}
}

func TestTrapKernelPipeRoundTrip(t *testing.T) {
	k := newTestKernel(t, 16)

	writer := newRunningUserProcess(t, k, 2)
	writeAddr := pokeString(t, k, writer, "hi")

	uctxt := writer.UserCtx
	uctxt.Regs[0] = SyscallPipeInit

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	id := uctxt.Regs[0]
	if id == ^machine.Word(0) {
		t.Fatal("pipe_init reported ERROR")
	}

	k.sched.Current = writer
	uctxt.Regs[0] = SyscallPipeWrite
	uctxt.Regs[1] = id
	uctxt.Regs[2] = writeAddr
	uctxt.Regs[3] = 2

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if uctxt.Regs[0] != 2 {
		t.Fatalf("pipe_write returned %v, want 2", uctxt.Regs[0])
	}

	reader := newRunningUserProcess(t, k, 3)

	f, _ := k.frames.Alloc()
	if err := reader.R1.Map(1, f, machine.ProtReadWrite); err != nil {
		t.Fatalf("map: %v", err)
	}

	readAddr := machine.Word(machine.PageSize)

	ructxt := reader.UserCtx
	ructxt.Regs[0] = SyscallPipeRead
	ructxt.Regs[1] = id
	ructxt.Regs[2] = readAddr
	ructxt.Regs[3] = 2

	k.DispatchTrap(machine.TrapKernel, &ructxt, 0)

	if ructxt.Regs[0] != 2 {
		t.Fatalf("pipe_read returned %v, want 2", ructxt.Regs[0])
	}

	if string(k.machine.FrameBytes(f)[:2]) != "hi" {
		t.Fatalf("pipe_read did not copy into caller's buffer: %q", k.machine.FrameBytes(f)[:2])
	}
}

func TestTrapKernelTTYRoundTrip(t *testing.T) {
	m := machine.New(256, 1, nil)

	k, err := Boot(m, BootConfig{KernelImagePages: 16})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	writer := newRunningUserProcess(t, k, 2)
	writeAddr := pokeString(t, k, writer, "hi")

	uctxt := writer.UserCtx
	uctxt.Regs[0] = SyscallTTYWrite
	uctxt.Regs[1] = 0
	uctxt.Regs[2] = writeAddr
	uctxt.Regs[3] = 2

	// tty_write always blocks the caller until the transmit-complete interrupt finishes it (see
	// TTYSubsystem.Write), so the real completion lands on the writer PCB, not on uctxt, which
	// reflects whatever process the blocking KCSwitch left current (init, here).
	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if writer.State != StateBlocked {
		t.Fatalf("writer.State = %v, want BLOCKED mid-transmit", writer.State)
	}

	k.TTY().Transmit(0)

	if writer.UserCtx.Regs[0] != 2 {
		t.Fatalf("writer return = %v, want 2", writer.UserCtx.Regs[0])
	}

	if writer.State != StateReady {
		t.Fatalf("writer.State = %v, want READY after transmit completes", writer.State)
	}

	reader := newRunningUserProcess(t, k, 3)

	f, _ := k.frames.Alloc()
	if err := reader.R1.Map(1, f, machine.ProtReadWrite); err != nil {
		t.Fatalf("map: %v", err)
	}

	readAddr := machine.Word(machine.PageSize)

	k.TTY().Receive(0, []byte("yo"))

	ructxt := reader.UserCtx
	ructxt.Regs[0] = SyscallTTYRead
	ructxt.Regs[1] = 0
	ructxt.Regs[2] = readAddr
	ructxt.Regs[3] = 2

	k.DispatchTrap(machine.TrapKernel, &ructxt, 0)

	if ructxt.Regs[0] != 2 {
		t.Fatalf("tty_read returned %v, want 2", ructxt.Regs[0])
	}

	if string(k.machine.FrameBytes(f)[:2]) != "yo" {
		t.Fatalf("tty_read did not copy into caller's buffer: %q", k.machine.FrameBytes(f)[:2])
	}
}

func TestTrapKernelPipeReadBadBufferKillsCaller(t *testing.T) {
	k := newTestKernel(t, 16)

	other := newRunningUserProcess(t, k, 9)
	k.sched.Enqueue(other)

	reader := newRunningUserProcess(t, k, 2)

	uctxt := reader.UserCtx
	uctxt.Regs[0] = SyscallPipeInit
	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)
	id := uctxt.Regs[0]

	k.sched.Current = reader
	uctxt.Regs[0] = SyscallPipeRead
	uctxt.Regs[1] = id
	uctxt.Regs[2] = machine.Word(machine.PageSize) * 200 // unmapped
	uctxt.Regs[3] = 4

	k.DispatchTrap(machine.TrapKernel, &uctxt, 0)

	if reader.State != StateDefunct {
		t.Fatalf("reader.State = %v, want DEFUNCT after BAD_ACCESS", reader.State)
	}
}
