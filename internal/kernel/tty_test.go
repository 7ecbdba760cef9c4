package kernel

import (
	"testing"

	"github.com/smoynes/yalnix/internal/machine"
)

func newTestTTY(t *testing.T, nterm int) (*TTYSubsystem, *Scheduler) {
	t.Helper()

	m := machine.New(64, nterm, nil)
	frames := NewFrameAllocator(m.NumFrames(), nil)
	as := NewAddrSpace(m, frames, 0, 32, nil)
	sched := NewScheduler(as, m, nil)

	idle := NewPCB(0)
	sched.SetIdle(idle)

	return NewTTYSubsystem(m.Terminals, sched, as), sched
}

func TestTTYReadBuffered(t *testing.T) {
	tty, _ := newTestTTY(t, 1)

	tty.Receive(0, []byte("hi\n"))

	reader := NewPCB(1)

	if err := tty.Read(reader, 0, 10); err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(reader.Staging) != "hi\n" {
		t.Fatalf("Staging = %q, want %q", reader.Staging, "hi\n")
	}
}

func TestTTYReadBlocksThenWakesOnReceive(t *testing.T) {
	tty, sched := newTestTTY(t, 1)

	reader := NewPCB(1)
	sched.Current = reader
	reader.State = StateRunning

	if err := tty.Read(reader, 0, 5); err != nil {
		t.Fatalf("read: %v", err)
	}

	if reader.State != StateBlocked {
		t.Fatalf("reader.State = %v, want BLOCKED", reader.State)
	}

	tty.Receive(0, []byte("yo"))

	if reader.State != StateReady {
		t.Fatalf("reader.State = %v, want READY after receive", reader.State)
	}

	if string(reader.Staging) != "yo" {
		t.Fatalf("Staging = %q, want yo", reader.Staging)
	}
}

func TestTTYWriteQueuesSecondWriter(t *testing.T) {
	tty, sched := newTestTTY(t, 1)

	w1 := NewPCB(1)
	sched.Current = w1
	w1.State = StateRunning

	if err := tty.Write(w1, 0, []byte("first")); err != nil {
		t.Fatalf("write1: %v", err)
	}

	w2 := NewPCB(2)

	if err := tty.Write(w2, 0, []byte("second")); err != nil {
		t.Fatalf("write2: %v", err)
	}

	ts := tty.terminals[0]
	if ts.writeQueue.Len() != 1 {
		t.Fatalf("write queue len = %d, want 1", ts.writeQueue.Len())
	}

	// Drive the transmit interrupt until w1's write completes.
	for ts.writer == w1 {
		tty.Transmit(0)
	}

	if w1.State != StateReady {
		t.Fatalf("w1.State = %v, want READY after its write completes", w1.State)
	}

	if w1.TTYResult != len("first") {
		t.Fatalf("w1.TTYResult = %d, want %d", w1.TTYResult, len("first"))
	}

	if ts.writer != w2 {
		t.Fatalf("expected w2's write to start next, writer = %v", ts.writer)
	}
}
