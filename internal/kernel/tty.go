package kernel

// tty.go implements the kernel-side terminal subsystem (spec §4.H): per-terminal input buffering,
// blocking read/write syscalls, and the receive/transmit interrupt handlers that drive them.
// Grounded on original_source/tty.c. The terminal devices themselves (the simulated UART-like
// hardware) are machine.Terminal, out of scope here; this file only consumes machine.Terminal's
// Transmit method and is itself the target of the machine's receive-interrupt callback.

import (
	"github.com/smoynes/yalnix/internal/machine"
)

// ttyState is the per-terminal kernel bookkeeping.
type ttyState struct {
	input []byte // buffered, not-yet-read received bytes

	readers *WaitQueue

	busy       bool
	outbound   []byte
	outPos     int
	writer     *PCB // the PCB whose write is currently in flight
	writeQueue *WaitQueue
}

func newTTYState() *ttyState {
	return &ttyState{
		readers:    NewWaitQueue(),
		writeQueue: NewWaitQueue(),
	}
}

// TTYSubsystem owns every terminal's kernel-side state.
type TTYSubsystem struct {
	terminals []*ttyState
	devices   []*machine.Terminal
	sched     *Scheduler
	as        *AddrSpace
}

// NewTTYSubsystem creates kernel state for each of the machine's terminals.
func NewTTYSubsystem(devices []*machine.Terminal, sched *Scheduler, as *AddrSpace) *TTYSubsystem {
	states := make([]*ttyState, len(devices))

	for i := range states {
		states[i] = newTTYState()
	}

	return &TTYSubsystem{terminals: states, devices: devices, sched: sched, as: as}
}

// Busy reports whether terminal id currently has a write in flight. External drivers that
// simulate the transmit-complete interrupt (internal/tty) poll this to know when to stop.
func (t *TTYSubsystem) Busy(id int) bool {
	ts, err := t.state(id)
	if err != nil {
		return false
	}

	return ts.busy
}

func (t *TTYSubsystem) state(id int) (*ttyState, error) {
	if id < 0 || id >= len(t.terminals) {
		return nil, opErr("tty", ErrInvalidArg)
	}

	return t.terminals[id], nil
}

// Read implements tty_read(id, buf, n): returns buffered bytes immediately if any are available,
// otherwise saves n on the PCB and blocks until the receive interrupt handler delivers data.
func (t *TTYSubsystem) Read(current *PCB, id, n int) error {
	ts, err := t.state(id)
	if err != nil {
		return err
	}

	if len(ts.input) > 0 {
		t.completeRead(ts, current, n)
		return nil
	}

	current.TTYWant = n
	ts.readers.Enqueue(current)
	t.sched.Block(current)
	t.sched.KCSwitch(t.sched.Next())

	// On wake, Receive has already placed data into current.Staging/TTYResult.
	return nil
}

// completeRead drains up to n buffered bytes into current, copies them out to the user buffer at
// current.BufAddr, and sets the caller's return register. Both the immediate path (Read finds
// buffered input already) and the deferred path (Receive wakes a blocked reader) call this same
// function, so a tty_read finishes in exactly one place regardless of when it finishes.
func (t *TTYSubsystem) completeRead(ts *ttyState, current *PCB, n int) {
	count := n
	if len(ts.input) < count {
		count = len(ts.input)
	}

	out := append([]byte(nil), ts.input[:count]...)

	current.Staging = out
	current.TTYResult = count
	ts.input = ts.input[count:]

	_ = t.as.CopyOut(current, current.BufAddr, out)
	current.UserCtx.SetReturn(machine.Word(count))
}

// Write implements tty_write(id, buf, n): if the terminal is idle, starts the transmit
// immediately; otherwise enqueues the caller on the writer queue. Either way the caller blocks
// until its own data has fully been transmitted.
func (t *TTYSubsystem) Write(current *PCB, id int, data []byte) error {
	ts, err := t.state(id)
	if err != nil {
		return err
	}

	if !ts.busy {
		t.startWrite(ts, id, current, data)
	} else {
		ts.writeQueue.Enqueue(current)
		current.Staging = data
	}

	t.sched.Block(current)
	t.sched.KCSwitch(t.sched.Next())

	return nil
}

func (t *TTYSubsystem) startWrite(ts *ttyState, id int, owner *PCB, data []byte) {
	ts.busy = true
	ts.outbound = data
	ts.outPos = 0
	ts.writer = owner

	t.transmitChunk(ts, id)
}

func (t *TTYSubsystem) transmitChunk(ts *ttyState, id int) {
	remaining := ts.outbound[ts.outPos:]

	n := len(remaining)
	if n > machine.TerminalDeviceMaxLen {
		n = machine.TerminalDeviceMaxLen
	}

	t.devices[id].Transmit(remaining[:n])
	ts.outPos += n
}

// Receive is the receive-interrupt handler: appends a received line to the terminal's input
// buffer and, if a reader is waiting, completes its read immediately.
func (t *TTYSubsystem) Receive(id int, line []byte) {
	ts, err := t.state(id)
	if err != nil {
		return
	}

	ts.input = append(ts.input, line...)

	if r := ts.readers.Dequeue(); r != nil {
		t.completeRead(ts, r, r.TTYWant)
		t.sched.Unblock(r)
	}
}

// Transmit is the transmit-interrupt handler: continues the in-flight write if more data remains,
// otherwise completes it and starts the next queued writer, if any.
func (t *TTYSubsystem) Transmit(id int) {
	ts, err := t.state(id)
	if err != nil {
		return
	}

	if ts.outPos < len(ts.outbound) {
		t.transmitChunk(ts, id)
		return
	}

	writer := ts.writer
	writer.TTYResult = len(ts.outbound)
	writer.UserCtx.SetReturn(machine.Word(writer.TTYResult))

	ts.outbound = nil
	ts.outPos = 0
	ts.writer = nil
	ts.busy = false

	t.sched.Unblock(writer)

	if next := ts.writeQueue.Dequeue(); next != nil {
		t.startWrite(ts, id, next, next.Staging)
		next.Staging = nil
	}
}
