package kernel

import "testing"

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	a, b, c := NewPCB(1), NewPCB(2), NewPCB(3)

	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}

	for _, want := range []*PCB{a, b, c} {
		if got := q.Dequeue(); got != want {
			t.Fatalf("Dequeue() = %v, want %v", got, want)
		}
	}

	if !q.IsEmpty() {
		t.Fatal("queue not empty after draining")
	}

	if q.Dequeue() != nil {
		t.Fatal("Dequeue() on empty queue should return nil")
	}
}

func TestQueueRemoveMiddle(t *testing.T) {
	q := NewQueue()
	a, b, c := NewPCB(1), NewPCB(2), NewPCB(3)
	q.Enqueue(a)
	q.Enqueue(b)
	q.Enqueue(c)

	if !q.Remove(b) {
		t.Fatal("Remove(b) = false, want true")
	}

	if q.Contains(b) {
		t.Fatal("queue still contains b after Remove")
	}

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	if q.Remove(b) {
		t.Fatal("Remove of an already-removed PCB should be a no-op returning false")
	}

	// Remaining order must still be a, c.
	if got := q.Dequeue(); got != a {
		t.Fatalf("Dequeue() = %v, want a", got)
	}
	if got := q.Dequeue(); got != c {
		t.Fatalf("Dequeue() = %v, want c", got)
	}
}

func TestQueueEnqueueAlreadyLinkedPanics(t *testing.T) {
	q := NewQueue()
	p := NewPCB(1)
	q.Enqueue(p)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic enqueueing an already-linked PCB")
		}
	}()

	q.Enqueue(p)
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	q := NewQueue()
	p := NewPCB(1)
	q.Enqueue(p)

	if q.Peek() != p {
		t.Fatal("Peek() did not return head")
	}

	if q.Len() != 1 {
		t.Fatal("Peek() should not remove from the queue")
	}
}

func TestQueueEach(t *testing.T) {
	q := NewQueue()
	a, b := NewPCB(1), NewPCB(2)
	q.Enqueue(a)
	q.Enqueue(b)

	var seen []*PCB
	q.Each(func(p *PCB) { seen = append(seen, p) })

	if len(seen) != 2 || seen[0] != a || seen[1] != b {
		t.Fatalf("Each() visited %v, want [a b]", seen)
	}
}
