package kernel

// sync.go implements synchronization objects: locks, condition variables, and bounded pipes
// (spec §4.G). Grounded on original_source/synchronization.c. Ids are type-tagged: the low bits
// carry a monotonically increasing counter, the high bits a type tag, so reclaim(id) can dispatch
// without a side table of "what kind of object is this".

import "github.com/smoynes/yalnix/internal/machine"

// SyncID is an opaque synchronization-object identifier.
type SyncID int32

const (
	syncTagShift = 28
	syncTagMask  = 0x7 << syncTagShift
	syncIDMask   = (1 << syncTagShift) - 1

	tagLock SyncID = 1 << syncTagShift
	tagCV   SyncID = 2 << syncTagShift
	tagPipe SyncID = 3 << syncTagShift
)

func (id SyncID) tag() SyncID { return id & syncTagMask }

// SyncTable owns every live synchronization object and the counter that mints new ids.
type SyncTable struct {
	counter int32

	locks map[SyncID]*lock
	cvs   map[SyncID]*condvar
	pipes map[SyncID]*pipe

	sched *Scheduler
	as    *AddrSpace
}

// NewSyncTable creates an empty synchronization-object table.
func NewSyncTable(sched *Scheduler, as *AddrSpace) *SyncTable {
	return &SyncTable{
		locks: make(map[SyncID]*lock),
		cvs:   make(map[SyncID]*condvar),
		pipes: make(map[SyncID]*pipe),
		sched: sched,
		as:    as,
	}
}

// Reclaim implements reclaim(id): the single entry point spec §4.G describes, dispatching by id's
// type tag instead of requiring the caller to know what kind of object it is reclaiming.
func (st *SyncTable) Reclaim(id SyncID) error {
	switch id.tag() {
	case tagLock:
		return st.LockReclaim(id)
	case tagCV:
		return st.CVReclaim(id)
	case tagPipe:
		return st.PipeReclaim(id)
	default:
		return opErr("reclaim", ErrInvalidArg)
	}
}

func (st *SyncTable) nextID(tag SyncID) SyncID {
	st.counter++
	return tag | SyncID(st.counter)&syncIDMask
}

type lock struct {
	id      SyncID
	held    bool
	owner   *PCB
	waiters *WaitQueue
}

// LockInit creates a lock and returns its id.
func (st *SyncTable) LockInit() SyncID {
	id := st.nextID(tagLock)
	st.locks[id] = &lock{id: id, waiters: NewWaitQueue()}

	return id
}

// LockAcquire implements acquire(): if unheld, the caller takes it immediately; otherwise the
// caller blocks on the lock's waiter queue and the global blocked queue.
func (st *SyncTable) LockAcquire(current *PCB, id SyncID) error {
	l, ok := st.locks[id]
	if !ok {
		return opErr("acquire", ErrNotFound)
	}

	if !l.held {
		l.held = true
		l.owner = current

		return nil
	}

	l.waiters.Enqueue(current)
	st.sched.Block(current)
	st.sched.KCSwitch(st.sched.Next())

	return nil
}

// LockRelease implements release(): the caller must be the owner. If waiters remain, ownership
// transfers directly to the head waiter without re-running acquire (per spec §4.G).
func (st *SyncTable) LockRelease(current *PCB, id SyncID) error {
	l, ok := st.locks[id]
	if !ok {
		return opErr("release", ErrNotFound)
	}

	if l.owner != current {
		return opErr("release", ErrNotOwner)
	}

	if next := l.waiters.Dequeue(); next != nil {
		l.owner = next
		st.sched.Unblock(next)

		return nil
	}

	l.held = false
	l.owner = nil

	return nil
}

// LockReclaim implements reclaim() for a lock: fails if still held.
func (st *SyncTable) LockReclaim(id SyncID) error {
	l, ok := st.locks[id]
	if !ok {
		return opErr("reclaim", ErrNotFound)
	}

	if l.held {
		return opErr("reclaim", ErrInvalidArg)
	}

	delete(st.locks, id)

	return nil
}

type condvar struct {
	id      SyncID
	waiters *WaitQueue
}

// CVInit creates a condition variable and returns its id.
func (st *SyncTable) CVInit() SyncID {
	id := st.nextID(tagCV)
	st.cvs[id] = &condvar{id: id, waiters: NewWaitQueue()}

	return id
}

// CVWait implements wait(cv, lk): release lk, block on cv, and re-acquire lk on wake before
// returning.
func (st *SyncTable) CVWait(current *PCB, cvID, lockID SyncID) error {
	cv, ok := st.cvs[cvID]
	if !ok {
		return opErr("cvwait", ErrNotFound)
	}

	if err := st.LockRelease(current, lockID); err != nil {
		return err
	}

	cv.waiters.Enqueue(current)
	st.sched.Block(current)
	st.sched.KCSwitch(st.sched.Next())

	return st.LockAcquire(current, lockID)
}

// CVSignal implements signal(): wakes the head waiter, if any.
func (st *SyncTable) CVSignal(cvID SyncID) error {
	cv, ok := st.cvs[cvID]
	if !ok {
		return opErr("cvsignal", ErrNotFound)
	}

	if p := cv.waiters.Dequeue(); p != nil {
		st.sched.Unblock(p)
	}

	return nil
}

// CVBroadcast implements broadcast(): wakes every waiter.
func (st *SyncTable) CVBroadcast(cvID SyncID) error {
	cv, ok := st.cvs[cvID]
	if !ok {
		return opErr("cvbroadcast", ErrNotFound)
	}

	for {
		p := cv.waiters.Dequeue()
		if p == nil {
			break
		}

		st.sched.Unblock(p)
	}

	return nil
}

// CVReclaim implements reclaim() for a condition variable: always succeeds.
func (st *SyncTable) CVReclaim(id SyncID) error {
	delete(st.cvs, id)
	return nil
}

// pendingWrite is a queued writer whose bytes could not all fit in the pipe buffer at write time.
// It owns a kernel-side copy of the still-pending bytes so the caller's user buffer may be
// unmapped or overwritten before the write completes (spec §4.G).
type pendingWrite struct {
	pcb  *PCB
	data []byte
}

type pipe struct {
	id      SyncID
	buf     []byte
	readIdx int
	length  int // bytes currently buffered

	readers *WaitQueue
	writes  []*pendingWrite
}

// PipeInit creates a pipe with a fresh circular buffer and returns its id.
func (st *SyncTable) PipeInit() SyncID {
	id := st.nextID(tagPipe)
	st.pipes[id] = &pipe{
		id:      id,
		buf:     make([]byte, PipeBufferLen),
		readers: NewWaitQueue(),
	}

	return id
}

// PipeRead implements read(id, buf, n): if the buffer is empty, blocks the caller on the pipe's
// reader queue; a subsequent write completes the read into current.Staging and wakes the caller,
// mirroring the TTY read protocol where the trap epilogue places data on the PCB before wake. If
// data is already available, the read completes immediately instead.
func (st *SyncTable) PipeRead(current *PCB, id SyncID, n int) error {
	pi, ok := st.pipes[id]
	if !ok {
		return opErr("pipe_read", ErrNotFound)
	}

	if pi.length > 0 {
		st.completePipeRead(pi, current, n)
		st.drainPendingWrites(pi)

		return nil
	}

	current.TTYWant = n
	pi.readers.Enqueue(current)
	st.sched.Block(current)
	st.sched.KCSwitch(st.sched.Next())

	// On wake, PipeWrite has already completed the read into current.Staging/TTYResult.
	return nil
}

// completePipeRead drains up to n buffered bytes into current, copies them out to the user buffer
// at current.BufAddr, and sets the caller's return register -- whether this runs inline (data was
// already available) or later, from PipeWrite/drainPendingWrites waking a blocked reader, it is
// the single place a pipe_read actually finishes.
func (st *SyncTable) completePipeRead(pi *pipe, current *PCB, n int) {
	count := n
	if pi.length < count {
		count = pi.length
	}

	out := make([]byte, count)

	for i := 0; i < count; i++ {
		out[i] = pi.buf[(pi.readIdx+i)%len(pi.buf)]
	}

	pi.readIdx = (pi.readIdx + count) % len(pi.buf)
	pi.length -= count

	current.Staging = out
	current.TTYResult = count

	_ = st.as.CopyOut(current, current.BufAddr, out)
	current.UserCtx.SetReturn(machine.Word(count))
}

// drainPendingWrites walks the queued-write list and, for each request whose remaining bytes now
// fit, enqueues them into the buffer and wakes the writer; stops at the first request that still
// does not fit (spec §4.G).
func (st *SyncTable) drainPendingWrites(pi *pipe) {
	for len(pi.writes) > 0 {
		w := pi.writes[0]

		free := len(pi.buf) - pi.length
		if len(w.data) > free {
			break
		}

		for _, b := range w.data {
			pi.buf[(pi.readIdx+pi.length)%len(pi.buf)] = b
			pi.length++
		}

		pi.writes = pi.writes[1:]
		st.sched.Unblock(w.pcb)
	}
}

// PipeWrite implements write(id, buf, n): copies as many bytes as fit immediately; if n was not
// fully written, stages the remainder as a pendingWrite and blocks the caller.
func (st *SyncTable) PipeWrite(current *PCB, id SyncID, data []byte) (int, error) {
	pi, ok := st.pipes[id]
	if !ok {
		return 0, opErr("pipe_write", ErrNotFound)
	}

	free := len(pi.buf) - pi.length
	n := len(data)

	immediate := n
	if immediate > free {
		immediate = free
	}

	for i := 0; i < immediate; i++ {
		pi.buf[(pi.readIdx+pi.length)%len(pi.buf)] = data[i]
		pi.length++
	}

	if pi.readers.Len() > 0 && immediate > 0 {
		if r := pi.readers.Dequeue(); r != nil {
			st.completePipeRead(pi, r, r.TTYWant)
			st.sched.Unblock(r)
		}
	}

	if immediate == n {
		return n, nil
	}

	remaining := make([]byte, n-immediate)
	copy(remaining, data[immediate:])

	current.PipeRemaining = len(remaining)
	pi.writes = append(pi.writes, &pendingWrite{pcb: current, data: remaining})

	st.sched.Block(current)
	st.sched.KCSwitch(st.sched.Next())

	return n, nil
}

// PipeReclaim implements reclaim() for a pipe: frees the buffer and both queues. Queued readers
// and writers are force-woken with an ERROR return rather than left to block forever (decided in
// SPEC_FULL.md's open questions).
func (st *SyncTable) PipeReclaim(id SyncID) error {
	pi, ok := st.pipes[id]
	if !ok {
		return opErr("reclaim", ErrNotFound)
	}

	for {
		r := pi.readers.Dequeue()
		if r == nil {
			break
		}

		r.TTYResult = 0
		r.UserCtx.SetReturn(^machine.Word(0))
		st.sched.Unblock(r)
	}

	for _, w := range pi.writes {
		w.pcb.UserCtx.SetReturn(^machine.Word(0))
		st.sched.Unblock(w.pcb)
	}

	delete(st.pipes, id)

	return nil
}
