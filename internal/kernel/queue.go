package kernel

// queue.go is the intrusive, doubly-linked PCB queue used for the scheduler's ready/blocked/
// defunct lists. Synchronization-object waiter lists and waiting_parent use WaitQueue
// (waitqueue.go) instead. Enqueue and dequeue are O(1); remove and contains are O(n) but queues
// are short in practice.

// Queue is an intrusive doubly-linked list of PCBs. A PCB may be a member of at most one Queue at
// a time (and, separately, of one WaitQueue); its qnext/qprev fields belong to whichever Queue
// currently holds it.
type Queue struct {
	head, tail *PCB
	len        int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Len returns the number of PCBs in the queue.
func (q *Queue) Len() int {
	return q.len
}

// IsEmpty reports whether the queue has no members.
func (q *Queue) IsEmpty() bool {
	return q.len == 0
}

// Enqueue appends a PCB to the tail of the queue. The PCB must not already be a member of any
// queue.
func (q *Queue) Enqueue(p *PCB) {
	if p.qnext != nil || p.qprev != nil || q.head == p {
		panic("queue: enqueue of PCB already linked")
	}

	p.qprev = q.tail
	p.qnext = nil

	if q.tail != nil {
		q.tail.qnext = p
	} else {
		q.head = p
	}

	q.tail = p
	q.len++
}

// Dequeue removes and returns the PCB at the head of the queue, or nil if empty.
func (q *Queue) Dequeue() *PCB {
	p := q.head
	if p == nil {
		return nil
	}

	q.remove(p)

	return p
}

// Peek returns the head of the queue without removing it.
func (q *Queue) Peek() *PCB {
	return q.head
}

// Remove removes an arbitrary member of the queue. It is a no-op if p is not in this queue.
func (q *Queue) Remove(p *PCB) bool {
	if !q.Contains(p) {
		return false
	}

	q.remove(p)

	return true
}

// remove unlinks p, which must be a current member, and nulls its next/prev so it can be
// re-enqueued elsewhere without cross-queue corruption.
func (q *Queue) remove(p *PCB) {
	if p.qprev != nil {
		p.qprev.qnext = p.qnext
	} else {
		q.head = p.qnext
	}

	if p.qnext != nil {
		p.qnext.qprev = p.qprev
	} else {
		q.tail = p.qprev
	}

	p.qnext = nil
	p.qprev = nil
	q.len--
}

// Contains reports whether p is currently a member of this queue.
func (q *Queue) Contains(p *PCB) bool {
	for n := q.head; n != nil; n = n.qnext {
		if n == p {
			return true
		}
	}

	return false
}

// Each calls fn for every PCB in the queue, head to tail. fn must not mutate the queue.
func (q *Queue) Each(fn func(*PCB)) {
	for n := q.head; n != nil; n = n.qnext {
		fn(n)
	}
}
