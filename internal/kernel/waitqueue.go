package kernel

// waitqueue.go is the intrusive waiter queue used by locks, condition variables, pipe readers,
// terminal reader/writer queues, and waiting_parent (pipe writers are kept in a pending-write
// list instead). It is link-compatible with Queue (same
// operations, same O(1) enqueue/dequeue, O(n) remove/contains) but threads through PCB's
// waitNext/waitPrev fields instead of qnext/qprev, so a PCB can be a member of one scheduler queue
// and one wait queue simultaneously.

// WaitQueue is a doubly-linked, intrusive list of waiting PCBs.
type WaitQueue struct {
	head, tail *PCB
	len        int
}

// NewWaitQueue creates an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{}
}

// Len returns the number of PCBs waiting.
func (q *WaitQueue) Len() int {
	return q.len
}

// IsEmpty reports whether no PCB is waiting.
func (q *WaitQueue) IsEmpty() bool {
	return q.len == 0
}

// Enqueue appends a PCB to the tail of the wait queue.
func (q *WaitQueue) Enqueue(p *PCB) {
	if p.waitNext != nil || p.waitPrev != nil || q.head == p {
		panic("waitqueue: enqueue of PCB already linked")
	}

	p.waitPrev = q.tail
	p.waitNext = nil

	if q.tail != nil {
		q.tail.waitNext = p
	} else {
		q.head = p
	}

	q.tail = p
	q.len++
}

// Dequeue removes and returns the head of the wait queue, or nil if empty.
func (q *WaitQueue) Dequeue() *PCB {
	p := q.head
	if p == nil {
		return nil
	}

	q.remove(p)

	return p
}

// Peek returns the head of the wait queue without removing it.
func (q *WaitQueue) Peek() *PCB {
	return q.head
}

// Remove removes an arbitrary member. No-op if p is not a member.
func (q *WaitQueue) Remove(p *PCB) bool {
	if !q.Contains(p) {
		return false
	}

	q.remove(p)

	return true
}

func (q *WaitQueue) remove(p *PCB) {
	if p.waitPrev != nil {
		p.waitPrev.waitNext = p.waitNext
	} else {
		q.head = p.waitNext
	}

	if p.waitNext != nil {
		p.waitNext.waitPrev = p.waitPrev
	} else {
		q.tail = p.waitPrev
	}

	p.waitNext = nil
	p.waitPrev = nil
	q.len--
}

// Contains reports whether p is currently waiting in this queue.
func (q *WaitQueue) Contains(p *PCB) bool {
	for n := q.head; n != nil; n = n.waitNext {
		if n == p {
			return true
		}
	}

	return false
}
