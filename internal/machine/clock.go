package machine

// clock.go is the periodic interrupt source that drives round-robin preemption and delay
// bookkeeping. The real hardware fires this asynchronously; a test (or the kernel's own driver
// loop) calls Tick to simulate one period elapsing.

// Clock counts ticks since boot.
type Clock struct {
	Ticks uint64
}

// NewClock creates a clock at tick zero.
func NewClock() *Clock {
	return &Clock{}
}

// Tick advances the clock by one period and returns the new tick count.
func (c *Clock) Tick() uint64 {
	c.Ticks++
	return c.Ticks
}
